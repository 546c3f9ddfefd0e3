// Package logtail reads the tail of tally's own JSON log for the TUI log view.
//
// # Reading Log Files
//
// Read extracts the last maxLines from a file with a ring buffer, so memory is
// O(maxLines) regardless of file size:
//
//	1. Allocate ring buffer of size maxLines
//	2. For each line in file:
//	   - Store line at current index
//	   - Increment index (wrapping at maxLines)
//	   - Track total lines seen
//	3. If total < maxLines:
//	   - Return first 'count' entries from buffer
//	4. If total >= maxLines:
//	   - Return buffer starting from current index (oldest line)
//
// # Parsing
//
// The TUI logs through slog's JSON handler. Parse splits a line into the
// standard fields (time, level, msg, component) and the remaining attributes,
// sorted by key so rendering is stable:
//
//	{"time":"2026-01-02T09:00:00Z","level":"WARN","msg":"fetch failed","component":"store","store":"tasks"}
//	→ 09:00:00 WARN  [store] fetch failed store=tasks
//
// Lines that are not JSON are kept verbatim.
//
// # Error Handling
//
// Read returns nil, nil for non-existent files (graceful degradation).
// Other errors (permission denied, I/O errors) are returned wrapped.
// Parse never fails.
package logtail
