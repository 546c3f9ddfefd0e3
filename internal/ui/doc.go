// Package ui provides the terminal user interface for tally.
//
// # Architecture Overview
//
// The UI is a Bubble Tea program built around a single Model. It never talks
// to the network itself: it reads copy-out snapshots from the entity stores on
// every render and drives the data manager through the Syncer interface.
// Mutations go through the stores, so edits show up immediately and roll back
// on their own when the server rejects them.
//
// # Package Structure
//
//   - app.go: Model, Options, Update loop, commands, and Run
//   - header.go: status bar (profile, connectivity, last sync, loading overlay),
//     view tabs, and footer
//   - lists.go: task, event, and sanction lists plus the log tail
//   - keys.go / help.go: key bindings and the help modal
//   - theme.go / style_helpers.go: color themes and background-safe rendering
//
// # Views
//
//   - Tasks: toggle done with x, delete with d
//   - Events: ordered by start time
//   - Sanctions: toggle active with x
//   - Log: tail of tally's own JSON log file
//
// # Refresh Model
//
// Run subscribes to store and app-state changes and coalesces them into a
// redraw message. A tick at PollTick keeps relative times current, expires
// footer notices, and re-reads the log tail while the log view is open.
//
// Terminal focus reporting feeds signals.Focus: losing focus pauses periodic
// syncing and regaining it triggers a stale check.
package ui
