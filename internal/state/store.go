package state

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/five82/tally/internal/clock"
	"github.com/five82/tally/internal/dedupe"
)

// ErrNotLoaded is returned when a mutation needs cached data that has not been
// fetched yet.
var ErrNotLoaded = errors.New("store has no data yet")

// SyncState is the cached value of one resource plus its fetch bookkeeping.
// A zero LastFetch means the cache is stale and must be refetched.
type SyncState[T any] struct {
	Data      T
	HasData   bool
	Loading   bool
	Error     string
	LastFetch time.Time
}

// Invalidator broadcasts cache invalidation tokens. Stores subscribe at
// construction and invalidate themselves when a newer token arrives.
type Invalidator interface {
	Subscribe(fn func(token int64)) (unsubscribe func())
}

// Recorder receives store outcomes for metrics. Nil is allowed.
type Recorder interface {
	Fetch(store, outcome string)
	Mutation(store, op, outcome string)
	Rollback(store string)
}

// Options configure a Store.
type Options struct {
	Name    string
	TTL     time.Duration
	Clock   clock.Clock
	Dedupe  *dedupe.Group
	Bus     Invalidator
	Logger  *slog.Logger
	Metrics Recorder
}

// Store owns the SyncState of a single resource kind.
type Store[T any] struct {
	name    string
	ttl     time.Duration
	clock   clock.Clock
	flight  *dedupe.Group
	logger  *slog.Logger
	metrics Recorder

	load  func(ctx context.Context) (T, error)
	clone func(T) T

	mu          sync.Mutex
	state       SyncState[T]
	token       int64
	closed      bool
	versions    map[string]*entityVersion
	epoch       uint64
	watchers    map[int]func()
	nextWatcher int
	unsubscribe func()
}

func newStore[T any](opts Options, load func(ctx context.Context) (T, error), clone func(T) T) *Store[T] {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Dedupe == nil {
		opts.Dedupe = dedupe.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if clone == nil {
		clone = func(v T) T { return v }
	}
	s := &Store[T]{
		name:     opts.Name,
		ttl:      opts.TTL,
		clock:    opts.Clock,
		flight:   opts.Dedupe,
		logger:   opts.Logger.With("component", "store", "store", opts.Name),
		metrics:  opts.Metrics,
		load:     load,
		clone:    clone,
		versions: make(map[string]*entityVersion),
		watchers: make(map[int]func()),
	}
	if opts.Bus != nil {
		s.unsubscribe = opts.Bus.Subscribe(s.observeToken)
	}
	return s
}

// Name identifies the store in logs, metrics and dedupe keys.
func (s *Store[T]) Name() string { return s.name }

// TTL is the maximum age of cached data before it is considered stale.
func (s *Store[T]) TTL() time.Duration { return s.ttl }

// Snapshot returns a copy of the current state.
func (s *Store[T]) Snapshot() SyncState[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.state
	snap.Data = s.clone(s.state.Data)
	return snap
}

// ShouldRefetch reports whether the cache is missing or older than the TTL.
func (s *Store[T]) ShouldRefetch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.staleLocked()
}

func (s *Store[T]) staleLocked() bool {
	if s.state.LastFetch.IsZero() {
		return true
	}
	return s.clock.Now().Sub(s.state.LastFetch) > s.ttl
}

// InvalidateCache marks the cache stale without discarding data, so the next
// access refetches while the old value can still be rendered.
func (s *Store[T]) InvalidateCache() {
	s.mu.Lock()
	changed := !s.state.LastFetch.IsZero()
	s.state.LastFetch = time.Time{}
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// observeToken invalidates on any token other than the last one seen. The bus
// may restart its sequence, so a lower token is still news.
func (s *Store[T]) observeToken(token int64) {
	s.mu.Lock()
	if token == s.token {
		s.mu.Unlock()
		return
	}
	s.token = token
	s.mu.Unlock()
	s.logger.Debug("invalidation token observed", "token", token)
	s.InvalidateCache()
}

// Fetch loads the resource unless a fetch is already running or, when force is
// false, the cache is still fresh. On failure the previous data is kept and the
// error is recorded; the error is also returned for the caller to log.
func (s *Store[T]) Fetch(ctx context.Context, force bool) error {
	return s.fetch(ctx, force, "")
}

// fetch is Fetch with an optional error message that survives the refetch. It
// keeps a rolled back mutation's error visible while ground truth is reloaded.
func (s *Store[T]) fetch(ctx context.Context, force bool, keepError string) error {
	s.mu.Lock()
	if s.closed || s.state.Loading || (!force && !s.staleLocked()) {
		s.mu.Unlock()
		return nil
	}
	s.state.Loading = true
	s.state.Error = keepError
	s.mu.Unlock()
	s.notify()

	// Loading already admits one fetch per store. The key only collapses
	// fetches from separate stores of the same name sharing one Group.
	data, err := dedupe.Do(s.flight, s.name+":list", func() (T, error) {
		return s.load(ctx)
	})

	s.mu.Lock()
	if s.closed {
		s.state.Loading = false
		s.mu.Unlock()
		return nil
	}
	s.state.Loading = false
	if err != nil {
		if keepError == "" {
			s.state.Error = err.Error()
		}
	} else {
		s.state.Data = data
		s.state.HasData = true
		s.state.LastFetch = s.clock.Now()
		s.epoch++
	}
	s.mu.Unlock()
	s.notify()

	if err != nil {
		s.record("error")
		s.logger.Warn("fetch failed", "error", err, "forced", force)
		return err
	}
	s.record("ok")
	s.logger.Debug("fetch succeeded", "forced", force)
	return nil
}

// OnChange registers fn to run after every state change. The returned function
// removes it.
func (s *Store[T]) OnChange(fn func()) (cancel func()) {
	s.mu.Lock()
	id := s.nextWatcher
	s.nextWatcher++
	s.watchers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

// Close detaches the store from the invalidation bus. Results of requests that
// are still in flight are dropped when they arrive.
func (s *Store[T]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (s *Store[T]) notify() {
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

func (s *Store[T]) record(outcome string) {
	if s.metrics != nil {
		s.metrics.Fetch(s.name, outcome)
	}
}

// ticket identifies one optimistic mutation of one entity.
// entityVersion counts writes to one entity. The entry lives only while a
// write to the entity is unsettled.
type entityVersion struct {
	current uint64
	pending int
}

type ticket struct {
	op      string
	key     string
	version uint64
	epoch   uint64
}

// apply runs the tentative write under the lock and hands back a ticket used
// to confirm or roll it back. The write is visible to readers before the
// network call starts.
func (s *Store[T]) apply(op, key string, mutate func(cur T) (T, error)) (ticket, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ticket{}, errors.New("store is closed")
	}
	next, err := mutate(s.state.Data)
	if err != nil {
		s.mu.Unlock()
		return ticket{}, err
	}
	s.state.Data = next
	v := s.versions[key]
	if v == nil {
		v = &entityVersion{}
		s.versions[key] = v
	}
	v.current++
	v.pending++
	t := ticket{op: op, key: key, version: v.current, epoch: s.epoch}
	s.mu.Unlock()
	s.notify()
	return t, nil
}

// confirm replaces the tentative value with the server's answer. A newer
// mutation of the same entity owns it, so an outdated confirm only refreshes
// the fetch time unless always is set.
func (s *Store[T]) confirm(t ticket, always bool, reconcile func(cur T) T) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	v := s.settleLocked(t)
	if always || v.current == t.version {
		s.state.Data = reconcile(s.state.Data)
		v.current++
	}
	s.state.LastFetch = s.clock.Now()
	s.state.Error = ""
	s.mu.Unlock()
	s.notify()
	if s.metrics != nil {
		s.metrics.Mutation(s.name, t.op, "ok")
	}
}

// rollback restores the pre-mutation snapshot, records cause and reloads
// ground truth. The snapshot is only restored if neither a newer mutation of
// the entity nor an authoritative fetch has landed since the tentative write.
func (s *Store[T]) rollback(ctx context.Context, t ticket, restore func(cur T) T, cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	restored := false
	v := s.settleLocked(t)
	if v.current == t.version && s.epoch == t.epoch {
		s.state.Data = restore(s.state.Data)
		v.current++
		restored = true
	}
	s.state.Error = cause.Error()
	s.mu.Unlock()
	s.notify()

	if s.metrics != nil {
		s.metrics.Mutation(s.name, t.op, "error")
		s.metrics.Rollback(s.name)
	}
	s.logger.Warn("mutation rolled back", "op", t.op, "key", t.key, "restored", restored, "error", cause)

	if err := s.fetch(ctx, true, cause.Error()); err != nil {
		s.logger.Warn("resync after rollback failed", "error", err)
	}
}

// settleLocked marks t's write as answered and returns the entity's counter.
// The map entry is dropped once no write to the entity is pending.
func (s *Store[T]) settleLocked(t ticket) *entityVersion {
	v := s.versions[t.key]
	if v == nil {
		v = &entityVersion{current: t.version}
	}
	v.pending--
	if v.pending <= 0 {
		delete(s.versions, t.key)
	}
	return v
}
