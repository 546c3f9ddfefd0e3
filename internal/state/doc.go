// Package state provides the per-entity caches of the sync layer.
//
// # Overview
//
// Each resource kind (profile, events, tasks, sanctions) is cached by its own
// entity store. A store owns exactly one SyncState: the cached value, a loading
// flag, the last error message and the time of the last successful fetch. No
// other component writes to it; the coordinator only asks stores whether they
// are stale and tells them to fetch.
//
// # Core Types
//
// Store[T]:
//   - Fetch/ShouldRefetch/InvalidateCache over one cached value
//   - Subscribes to the invalidation bus at construction
//   - Snapshot() copies state out for the UI
//
// Collection[E]:
//   - Store[[]E] plus optimistic Create/Update/Delete by entity id
//
// Singleton[T]:
//   - Store[T] plus optimistic Update for single-object resources
//
// # Staleness
//
//	ShouldRefetch() == LastFetch.IsZero() || now-LastFetch > TTL
//
// LastFetch only moves forward on a successful fetch or a confirmed mutation.
// Invalidation (explicit, or a newer bus token) zeroes LastFetch and keeps
// Data, so the UI keeps rendering the old value until the refetch lands.
//
// # Fetch Semantics
//
//	store.Fetch(ctx, false)   // no-op while loading or while fresh
//	store.Fetch(ctx, true)    // no-op while loading, otherwise always loads
//
// The loading flag is checked and set under the store mutex, so at most one
// canonical fetch runs per store. The network call itself goes through the
// shared dedupe.Group under "<name>:list", which also collapses it with any
// other caller loading the same resource.
//
// On failure the previous Data is kept and Error records a readable message:
//
//	// Success
//	→ Data = payload, Loading = false, LastFetch = now
//
//	// Failure
//	→ Data = <unchanged>, Loading = false, Error = "execute request: ..."
//
// # Optimistic Mutations
//
// Every mutation is a three-state transaction:
//
//	apply(tentative) → confirm(authoritative) | rollback(snapshot)
//
// The snapshot of the touched entity is captured before the tentative write.
// The tentative write is visible before the network call starts. On success
// the server's entity replaces the local one (no merging) and LastFetch moves
// to now. On failure the snapshot is restored, Error is set, and a forced fetch
// reloads ground truth because a failed write may have partially succeeded.
//
// # Overlapping Mutations
//
// Each entity carries a version bumped by every local write. A confirm or
// rollback only touches its entity if no newer mutation of that same entity
// was applied in between; otherwise the newer mutation wins (last writer by
// issue order) and the forced refetch settles the final value. A rollback is
// also skipped when an authoritative fetch landed after the tentative write,
// since the fetched value is fresher than the snapshot. Mutations of different
// entities never undo each other.
//
// # Teardown
//
// Close detaches from the invalidation bus. Requests already in flight are not
// cancelled; their results are dropped when they arrive.
package state
