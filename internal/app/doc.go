// Package app is the composition root of tally.
//
// # Overview
//
// This package wires configuration, logging, the API client, the entity
// stores, the app-level coordinator store, connectivity and focus signals, the
// data manager, metrics, and the UI. Nothing below it knows about the others'
// concrete types; app is where they meet.
//
// # Architecture
//
// Build constructs a Runtime without starting anything:
//
//  1. api.NewClient for the configured API URL
//  2. metrics.New and a dedupe.Group that counts shared requests
//  3. appstate.New, which doubles as the invalidation bus
//  4. one entity store per resource (profile, events, tasks, sanctions), all
//     sharing the dedupe group and subscribed to the bus
//  5. a signals.Probe against /api/health and a signals.Focus
//  6. manager.New over the four stores
//
// Run then starts the background work and the TUI:
//
//	┌──────────────┐
//	│   Run()      │
//	└──────┬───────┘
//	       ├─────> LoadConfig()          TOML + flag overrides
//	       ├─────> logging.OpenFile()    JSON log the UI tails
//	       ├─────> Build()               wire the runtime
//	       ├─────> StartBackground()     probe loop, optional /metrics
//	       ├─────> Manager.Initialize()  listeners + periodic ticker
//	       ├─────> PerformFullSync()     initial load, in the background
//	       └─────> ui.Run()              blocks until quit
//
// On exit the context is cancelled, background goroutines are awaited, and
// Runtime.Close destroys the manager, cleans up the app store (detaching the
// signal listeners), and closes the stores.
//
// # One-shot Commands
//
// SyncOnce runs the same runtime for a single RefreshAll and returns a
// SyncReport. Health checks the API without building stores.
//
// # Error Handling
//
// Fatal errors (returned from Run):
//   - Configuration missing required values or out of range
//   - Log directory cannot be created
//   - API client initialization failure
//
// Recoverable errors (logged, syncing continues):
//   - Store fetch failures, which stay visible on the store
//   - Rejected writes, which roll back
//   - The API going away, which flips the app offline until the probe recovers
package app
