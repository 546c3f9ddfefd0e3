// Package appstate holds the process-wide sync metadata shared by the data
// manager and the UI: connectivity, the last coordinated sync, named global
// loading operations and the cache invalidation token.
//
// The store knows nothing about individual entity stores. Invalidation is a
// broadcast: InvalidateAllCaches publishes a new token and every subscriber
// decides for itself what to do with it.
package appstate

import (
	"slices"
	"sync"
	"time"

	"github.com/five82/tally/internal/clock"
)

// DefaultLoadingThreshold is the number of concurrent named operations above
// which the global loading overlay is shown.
const DefaultLoadingThreshold = 2

// GlobalSyncState is a copy of the coordinator's metadata.
type GlobalSyncState struct {
	IsOnline               bool
	PendingSync            bool
	LastSync               time.Time
	GlobalLoading          bool
	LoadingOperations      []string
	CacheInvalidationToken int64
}

// Store owns GlobalSyncState. It is safe for concurrent use.
type Store struct {
	clock     clock.Clock
	threshold int

	mu            sync.Mutex
	online        bool
	pending       bool
	lastSync      time.Time
	globalLoading bool
	operations    map[string]struct{}
	token         int64
	// issued is the highest token ever handed out. Cleanup leaves it alone so
	// tokens issued after a reset still read as new to existing subscribers.
	issued int64

	nextID      int
	subscribers map[int]func(int64)
	watchers    map[int]func()
	detach      []func()
}

// Option customises a Store.
type Option func(*Store)

// WithClock sets the time source used for invalidation tokens.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLoadingThreshold overrides DefaultLoadingThreshold.
func WithLoadingThreshold(n int) Option {
	return func(s *Store) {
		if n >= 0 {
			s.threshold = n
		}
	}
}

// New returns a store in its initial state: online, never synced, idle.
func New(opts ...Option) *Store {
	s := &Store{
		clock:       clock.Real{},
		threshold:   DefaultLoadingThreshold,
		subscribers: make(map[int]func(int64)),
		watchers:    make(map[int]func()),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resetLocked()
	return s
}

func (s *Store) resetLocked() {
	s.online = true
	s.pending = false
	s.lastSync = time.Time{}
	s.globalLoading = false
	s.operations = make(map[string]struct{})
	s.token = 0
}

// Snapshot returns a copy of the current metadata.
func (s *Store) Snapshot() GlobalSyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := make([]string, 0, len(s.operations))
	for name := range s.operations {
		ops = append(ops, name)
	}
	slices.Sort(ops)
	return GlobalSyncState{
		IsOnline:               s.online,
		PendingSync:            s.pending,
		LastSync:               s.lastSync,
		GlobalLoading:          s.globalLoading,
		LoadingOperations:      ops,
		CacheInvalidationToken: s.token,
	}
}

// SetOnlineStatus records connectivity.
func (s *Store) SetOnlineStatus(online bool) {
	s.set(func() { s.online = online })
}

// SetPendingSync marks a coordinated sync as running or finished.
func (s *Store) SetPendingSync(pending bool) {
	s.set(func() { s.pending = pending })
}

// SetLastSync records when the last coordinated sync completed.
func (s *Store) SetLastSync(t time.Time) {
	s.set(func() { s.lastSync = t })
}

// SetGlobalLoading toggles the global loading flag.
func (s *Store) SetGlobalLoading(loading bool) {
	s.set(func() { s.globalLoading = loading })
}

// AddLoadingOperation registers a named cross-cutting operation.
func (s *Store) AddLoadingOperation(name string) {
	s.set(func() { s.operations[name] = struct{}{} })
}

// RemoveLoadingOperation unregisters name. Unknown names are ignored.
func (s *Store) RemoveLoadingOperation(name string) {
	s.set(func() { delete(s.operations, name) })
}

// IsOnline reports the last recorded connectivity.
func (s *Store) IsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// PendingSync reports whether a coordinated sync is running.
func (s *Store) PendingSync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// LastSync returns the completion time of the last coordinated sync.
func (s *Store) LastSync() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync
}

// IsAnyLoading reports whether the global flag is set or any named operation
// is running.
func (s *Store) IsAnyLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.globalLoading || len(s.operations) > 0
}

// ShouldShowGlobalLoading reports whether the loading overlay should be shown.
// A single short operation does not trigger it.
func (s *Store) ShouldShowGlobalLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.globalLoading || len(s.operations) > s.threshold
}

// InvalidateAllCaches publishes a new invalidation token. Tokens are derived
// from the clock and strictly increase even when the clock does not, across
// Cleanup as well.
func (s *Store) InvalidateAllCaches() int64 {
	s.mu.Lock()
	token := s.clock.Now().UnixMilli()
	if token <= s.issued {
		token = s.issued + 1
	}
	s.token = token
	s.issued = token
	subs := make([]func(int64), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(token)
	}
	s.changed()
	return token
}

// Subscribe registers fn to receive every new invalidation token. It satisfies
// state.Invalidator.
func (s *Store) Subscribe(fn func(token int64)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

// OnChange registers fn to run after every metadata change.
func (s *Store) OnChange(fn func()) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

// BindListeners hands the store detach functions for external signal
// listeners. Cleanup runs them.
func (s *Store) BindListeners(detach ...func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fn := range detach {
		if fn != nil {
			s.detach = append(s.detach, fn)
		}
	}
}

// Cleanup detaches bound listeners and resets every field to its initial
// value. It is safe to call any number of times.
func (s *Store) Cleanup() {
	s.mu.Lock()
	detach := s.detach
	s.detach = nil
	s.resetLocked()
	s.mu.Unlock()

	for _, fn := range detach {
		fn()
	}
	s.changed()
}

func (s *Store) set(mutate func()) {
	s.mu.Lock()
	mutate()
	s.mu.Unlock()
	s.changed()
}

func (s *Store) changed() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
