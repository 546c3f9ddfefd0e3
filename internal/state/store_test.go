package state

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/five82/tally/internal/api"
	"github.com/five82/tally/internal/clock"
	"github.com/five82/tally/internal/dedupe"
)

var epoch = time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)

type fakeTasks struct {
	mu        sync.Mutex
	items     []api.Task
	listCalls atomic.Int32
	listErr   error
	writeErr  error
	gate      chan struct{}
	nextID    int
}

func (f *fakeTasks) List(ctx context.Context) ([]api.Task, error) {
	f.listCalls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]api.Task, len(f.items))
	copy(out, f.items)
	return out, nil
}

func (f *fakeTasks) Create(ctx context.Context, input api.Task) (api.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return api.Task{}, f.writeErr
	}
	f.nextID++
	input.ID = "srv-" + string(rune('0'+f.nextID))
	f.items = append(f.items, input)
	return input, nil
}

func (f *fakeTasks) Update(ctx context.Context, id string, patch api.Patch) (api.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return api.Task{}, f.writeErr
	}
	for i, t := range f.items {
		if t.ID == id {
			patched, err := api.ApplyPatch(t, patch)
			if err != nil {
				return api.Task{}, err
			}
			f.items[i] = patched
			return patched, nil
		}
	}
	return api.Task{}, errors.New("not found")
}

func (f *fakeTasks) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	for i, t := range f.items {
		if t.ID == id {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return nil
		}
	}
	return errors.New("not found")
}

type fakeBus struct {
	mu   sync.Mutex
	subs []func(int64)
}

func (b *fakeBus) Subscribe(fn func(int64)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := len(b.subs)
	b.subs = append(b.subs, fn)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subs[i] = nil
	}
}

func (b *fakeBus) publish(token int64) {
	b.mu.Lock()
	subs := append([]func(int64){}, b.subs...)
	b.mu.Unlock()
	for _, fn := range subs {
		if fn != nil {
			fn(token)
		}
	}
}

func newTaskStore(remote *fakeTasks, clk clock.Clock, bus Invalidator) *Collection[api.Task] {
	return NewCollection[api.Task](Options{
		Name:   "tasks",
		TTL:    5 * time.Minute,
		Clock:  clk,
		Dedupe: dedupe.New(),
		Bus:    bus,
	}, remote)
}

func TestFetchHonoursTTL(t *testing.T) {
	clk := clock.NewFake(epoch)
	remote := &fakeTasks{items: []api.Task{{ID: "a", Title: "one"}}}
	s := newTaskStore(remote, clk, nil)

	if !s.ShouldRefetch() {
		t.Fatal("expected a never-fetched store to be stale")
	}
	if err := s.Fetch(context.Background(), false); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if s.ShouldRefetch() {
		t.Fatal("expected fresh store right after fetch")
	}

	clk.Advance(4 * time.Minute)
	if err := s.Fetch(context.Background(), false); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := remote.listCalls.Load(); got != 1 {
		t.Fatalf("list calls = %d, want 1 within TTL", got)
	}

	clk.Advance(2 * time.Minute)
	if !s.ShouldRefetch() {
		t.Fatal("expected stale store after TTL elapsed")
	}
	if err := s.Fetch(context.Background(), false); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := remote.listCalls.Load(); got != 2 {
		t.Fatalf("list calls = %d, want 2 after TTL", got)
	}

	snap := s.Snapshot()
	if !snap.HasData || len(snap.Data) != 1 || snap.Data[0].Title != "one" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if !snap.LastFetch.Equal(epoch.Add(6 * time.Minute)) {
		t.Fatalf("LastFetch = %v", snap.LastFetch)
	}
}

func TestStalenessIsMonotonicWithoutFetch(t *testing.T) {
	clk := clock.NewFake(epoch)
	s := newTaskStore(&fakeTasks{}, clk, nil)
	if err := s.Fetch(context.Background(), true); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	clk.Advance(6 * time.Minute)
	for i := 0; i < 5; i++ {
		clk.Advance(time.Minute)
		if !s.ShouldRefetch() {
			t.Fatalf("store became fresh again at step %d without a fetch", i)
		}
	}
}

func TestForcedFetchBypassesTTL(t *testing.T) {
	remote := &fakeTasks{}
	s := newTaskStore(remote, clock.NewFake(epoch), nil)
	ctx := context.Background()
	_ = s.Fetch(ctx, false)
	_ = s.Fetch(ctx, true)
	if got := remote.listCalls.Load(); got != 2 {
		t.Fatalf("list calls = %d, want 2", got)
	}
}

func TestConcurrentFetchIssuesOneRequest(t *testing.T) {
	remote := &fakeTasks{gate: make(chan struct{})}
	s := newTaskStore(remote, clock.NewFake(epoch), nil)

	var wg sync.WaitGroup
	first := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		close(first)
		_ = s.Fetch(context.Background(), true)
	}()
	<-first
	waitFor(t, func() bool { return s.Snapshot().Loading })

	// The store is loading, so these return immediately.
	for i := 0; i < 3; i++ {
		if err := s.Fetch(context.Background(), true); err != nil {
			t.Fatalf("Fetch while loading: %v", err)
		}
	}
	close(remote.gate)
	wg.Wait()

	if got := remote.listCalls.Load(); got != 1 {
		t.Fatalf("list calls = %d, want 1", got)
	}
	if s.Snapshot().Loading {
		t.Fatal("loading flag left set")
	}
}

func TestStoresSharingAGroupShareOneRequest(t *testing.T) {
	remote := &fakeTasks{items: []api.Task{{ID: "a"}}, gate: make(chan struct{})}
	group := dedupe.New()
	opts := Options{Name: "tasks", TTL: time.Minute, Clock: clock.NewFake(epoch), Dedupe: group}
	first := NewCollection[api.Task](opts, remote)
	second := NewCollection[api.Task](opts, remote)

	var wg sync.WaitGroup
	for _, s := range []*Collection[api.Task]{first, second} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Fetch(context.Background(), true)
		}()
	}
	waitFor(t, func() bool { return first.Snapshot().Loading && second.Snapshot().Loading })
	// Loading is set just before the store enters the flight.
	time.Sleep(20 * time.Millisecond)
	close(remote.gate)
	wg.Wait()

	if got := remote.listCalls.Load(); got != 1 {
		t.Fatalf("list calls = %d, want 1", got)
	}
	// singleflight reports the result as shared to the leader too.
	if got := group.Shared(); got != 2 {
		t.Fatalf("shared = %d, want 2", got)
	}
	if len(first.Snapshot().Data) != 1 || len(second.Snapshot().Data) != 1 {
		t.Fatal("both stores should hold the shared result")
	}
}

func TestFetchFailureKeepsData(t *testing.T) {
	remote := &fakeTasks{items: []api.Task{{ID: "a"}}}
	clk := clock.NewFake(epoch)
	s := newTaskStore(remote, clk, nil)
	if err := s.Fetch(context.Background(), true); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	remote.listErr = errors.New("boom")
	clk.Advance(time.Minute)
	if err := s.Fetch(context.Background(), true); err == nil {
		t.Fatal("expected error")
	}
	snap := s.Snapshot()
	if len(snap.Data) != 1 {
		t.Fatalf("data discarded on failure: %+v", snap.Data)
	}
	if snap.Error != "boom" {
		t.Fatalf("Error = %q, want boom", snap.Error)
	}
	if !snap.LastFetch.Equal(epoch) {
		t.Fatalf("LastFetch moved on failure: %v", snap.LastFetch)
	}

	remote.listErr = nil
	if err := s.Fetch(context.Background(), true); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := s.Snapshot().Error; got != "" {
		t.Fatalf("Error not cleared: %q", got)
	}
}

func TestInvalidateCacheIsIdempotent(t *testing.T) {
	clk := clock.NewFake(epoch)
	s := newTaskStore(&fakeTasks{items: []api.Task{{ID: "a"}}}, clk, nil)
	_ = s.Fetch(context.Background(), true)

	var notified atomic.Int32
	cancel := s.OnChange(func() { notified.Add(1) })
	defer cancel()

	s.InvalidateCache()
	once := s.Snapshot()
	s.InvalidateCache()
	twice := s.Snapshot()

	if !once.LastFetch.IsZero() || !twice.LastFetch.IsZero() {
		t.Fatal("expected zero LastFetch after invalidation")
	}
	if len(twice.Data) != 1 {
		t.Fatal("invalidation discarded data")
	}
	if got := notified.Load(); got != 1 {
		t.Fatalf("watchers notified %d times, want 1", got)
	}
}

func TestBusTokenInvalidatesOnChange(t *testing.T) {
	clk := clock.NewFake(epoch)
	bus := &fakeBus{}
	s := newTaskStore(&fakeTasks{}, clk, bus)

	_ = s.Fetch(context.Background(), true)
	bus.publish(1)
	if !s.ShouldRefetch() {
		t.Fatal("expected token 1 to invalidate")
	}

	_ = s.Fetch(context.Background(), true)
	bus.publish(1)
	if s.ShouldRefetch() {
		t.Fatal("repeated token must not invalidate again")
	}

	bus.publish(2)
	if !s.ShouldRefetch() {
		t.Fatal("expected token 2 to invalidate")
	}

	_ = s.Fetch(context.Background(), true)
	bus.publish(1)
	if !s.ShouldRefetch() {
		t.Fatal("expected a restarted token sequence to invalidate")
	}

	s.Close()
	bus.publish(3)
	if err := s.Fetch(context.Background(), true); err != nil {
		t.Fatalf("Fetch after Close: %v", err)
	}
	if got := s.Snapshot().LastFetch; !got.IsZero() {
		t.Fatalf("closed store fetched: LastFetch = %v", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}
