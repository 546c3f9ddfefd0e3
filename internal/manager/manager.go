// Package manager coordinates background synchronisation of the entity stores.
//
// A Manager is built once at startup and passed to whoever needs it. It reacts
// to three triggers: connectivity coming back (full sync), the client becoming
// visible (sync if stale) and a periodic ticker (sync if stale, only while
// visible and online). Coordinated syncs are serialised; each one fans out to
// the selected stores in parallel and settles when all of them have, whatever
// their individual outcome.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/five82/tally/internal/appstate"
	"github.com/five82/tally/internal/clock"
	"github.com/five82/tally/internal/signals"
)

var tracer = otel.Tracer("tally.manager")

const (
	DefaultInterval     = 5 * time.Minute
	DefaultMinResyncGap = 2 * time.Minute
	// NoResyncGap turns the minimum resync gap off.
	NoResyncGap time.Duration = -1

	refreshAllOperation = "refresh-all"

	modeIntelligent = "intelligent"
	modeFull        = "full"
)

// ErrOffline is returned by RefreshAll when the API is known to be unreachable.
var ErrOffline = errors.New("cannot refresh while offline")

// Syncable is the part of an entity store the manager drives.
type Syncable interface {
	Name() string
	ShouldRefetch() bool
	Fetch(ctx context.Context, force bool) error
}

// Recorder receives batch outcomes for metrics. Nil is allowed.
type Recorder interface {
	SyncBatch(mode string, elapsed time.Duration)
	SetOnline(online bool)
}

// StoreFailure is one store that failed during a batch.
type StoreFailure struct {
	Store string
	Err   error
}

// SyncError reports the stores that failed in a coordinated sync. The other
// stores in the batch were still refreshed.
type SyncError struct {
	Mode     string
	Total    int
	Failures []StoreFailure
}

func (e *SyncError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Store, f.Err))
	}
	return fmt.Sprintf("%s sync: %d of %d stores failed: %s", e.Mode, len(e.Failures), e.Total, strings.Join(parts, "; "))
}

// Unwrap exposes the per-store errors to errors.Is and errors.As.
func (e *SyncError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// SyncStatus is the read surface handed to the UI.
type SyncStatus struct {
	IsOnline    bool
	LastSync    time.Time
	PendingSync bool
	IsLoading   bool
}

// Options configure a Manager. App is required.
type Options struct {
	App          *appstate.Store
	Stores       []Syncable
	Connectivity signals.Connectivity
	Visibility   signals.Visibility
	Clock        clock.Clock
	Interval     time.Duration
	MinResyncGap time.Duration
	Logger       *slog.Logger
	Metrics      Recorder
}

// Manager orchestrates the entity stores.
type Manager struct {
	app      *appstate.Store
	stores   []Syncable
	conn     signals.Connectivity
	vis      signals.Visibility
	clock    clock.Clock
	interval time.Duration
	minGap   time.Duration
	logger   *slog.Logger
	metrics  Recorder

	// sem holds the single coordinated-sync slot.
	sem       chan struct{}
	listeners listeners

	mu          sync.Mutex
	initialized bool
	generation  uint64
	ctx         context.Context
	stop        chan struct{}
	ticker      clock.Ticker
}

// New builds an uninitialized Manager.
func New(opts Options) (*Manager, error) {
	if opts.App == nil {
		return nil, errors.New("manager: app store is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MinResyncGap < 0 {
		opts.MinResyncGap = 0
	} else if opts.MinResyncGap == 0 {
		opts.MinResyncGap = DefaultMinResyncGap
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		app:      opts.App,
		stores:   opts.Stores,
		conn:     opts.Connectivity,
		vis:      opts.Visibility,
		clock:    opts.Clock,
		interval: opts.Interval,
		minGap:   opts.MinResyncGap,
		logger:   opts.Logger.With("component", "manager"),
		metrics:  opts.Metrics,
		sem:      make(chan struct{}, 1),
	}, nil
}

// Initialize attaches the signal listeners and starts the periodic ticker.
// Calling it again while initialized does nothing. ctx bounds every sync the
// manager starts on its own.
func (m *Manager) Initialize(ctx context.Context) {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return
	}
	m.initialized = true
	m.ctx = ctx
	m.stop = make(chan struct{})
	m.ticker = m.clock.NewTicker(m.interval)
	ticker, stop := m.ticker, m.stop
	m.mu.Unlock()

	online := m.online()
	m.app.SetOnlineStatus(online)
	if m.metrics != nil {
		m.metrics.SetOnline(online)
	}
	if m.listeners.attach(m.conn, m.vis, m.handleConnectivity, m.handleVisibility) {
		m.app.BindListeners(m.listeners.detach)
	}

	go m.tickLoop(ctx, ticker, stop)
	m.logger.Info("manager initialized", "interval", m.interval, "min_resync_gap", m.minGap, "stores", len(m.stores))
}

// Destroy stops the periodic ticker and marks the manager uninitialized.
// Requests in flight are left to finish; their batch does not record a sync
// time. Listener detachment belongs to the app store's Cleanup.
func (m *Manager) Destroy() {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return
	}
	m.initialized = false
	m.generation++
	close(m.stop)
	m.ticker.Stop()
	m.ticker = nil
	m.mu.Unlock()
	m.logger.Info("manager destroyed")
}

// Initialized reports whether the manager is running.
func (m *Manager) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

func (m *Manager) tickLoop(ctx context.Context, ticker clock.Ticker, stop <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C():
			if !m.visible() || !m.app.IsOnline() {
				m.logger.Debug("tick skipped", "visible", m.visible(), "online", m.app.IsOnline())
				continue
			}
			m.logIfFailed(m.SyncIfStale(ctx))
		}
	}
}

func (m *Manager) handleConnectivity(online bool) {
	m.app.SetOnlineStatus(online)
	if m.metrics != nil {
		m.metrics.SetOnline(online)
	}
	if !online {
		return
	}
	ctx, ok := m.runContext()
	if !ok {
		return
	}
	go func() { m.logIfFailed(m.SyncWhenOnline(ctx)) }()
}

func (m *Manager) handleVisibility(visible bool) {
	if !visible {
		return
	}
	ctx, ok := m.runContext()
	if !ok {
		return
	}
	go func() { m.logIfFailed(m.SyncIfStale(ctx)) }()
}

func (m *Manager) runContext() (context.Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx, m.initialized
}

func (m *Manager) online() bool {
	if m.conn == nil {
		return true
	}
	return m.conn.Online()
}

func (m *Manager) visible() bool {
	if m.vis == nil {
		return true
	}
	return m.vis.Visible()
}

func (m *Manager) logIfFailed(err error) {
	if err != nil {
		m.logger.Warn("background sync incomplete", "error", err)
	}
}

// SyncIfStale runs an intelligent sync unless the last coordinated sync
// finished less than the minimum resync gap ago.
func (m *Manager) SyncIfStale(ctx context.Context) error {
	last := m.app.LastSync()
	if !last.IsZero() {
		if age := m.clock.Now().Sub(last); age < m.minGap {
			m.logger.Debug("sync skipped, synced recently", "age", age)
			return nil
		}
	}
	return m.PerformIntelligentSync(ctx)
}

// SyncWhenOnline is the recovery path after connectivity returns.
func (m *Manager) SyncWhenOnline(ctx context.Context) error {
	m.logger.Info("back online, running full sync")
	return m.PerformFullSync(ctx)
}

// PerformIntelligentSync fetches every store that reports stale. It returns
// immediately if another coordinated sync is running.
func (m *Manager) PerformIntelligentSync(ctx context.Context) error {
	select {
	case m.sem <- struct{}{}:
	default:
		m.logger.Debug("sync skipped, another sync is pending")
		return nil
	}
	defer func() { <-m.sem }()
	return m.runBatch(ctx, modeIntelligent)
}

// PerformFullSync fetches every store regardless of staleness. It waits for a
// running coordinated sync to finish instead of overlapping with it.
func (m *Manager) PerformFullSync(ctx context.Context) error {
	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-m.sem }()
	return m.runBatch(ctx, modeFull)
}

// RefreshAll is the user-triggered full refresh. It fails with ErrOffline,
// without touching the network, when the API is unreachable, and with a
// *SyncError when some stores could not be refreshed.
func (m *Manager) RefreshAll(ctx context.Context) error {
	if !m.app.IsOnline() {
		return ErrOffline
	}
	m.app.SetGlobalLoading(true)
	m.app.AddLoadingOperation(refreshAllOperation)
	defer func() {
		m.app.RemoveLoadingOperation(refreshAllOperation)
		m.app.SetGlobalLoading(false)
	}()
	return m.PerformFullSync(ctx)
}

// InvalidateAll marks every subscribed store stale.
func (m *Manager) InvalidateAll() {
	token := m.app.InvalidateAllCaches()
	m.logger.Info("caches invalidated", "token", token)
}

// Status returns the UI-facing sync summary.
func (m *Manager) Status() SyncStatus {
	snap := m.app.Snapshot()
	return SyncStatus{
		IsOnline:    snap.IsOnline,
		LastSync:    snap.LastSync,
		PendingSync: snap.PendingSync,
		IsLoading:   snap.GlobalLoading || len(snap.LoadingOperations) > 0,
	}
}

func (m *Manager) currentGeneration() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// runBatch must be called holding the sync slot.
func (m *Manager) runBatch(ctx context.Context, mode string) error {
	generation := m.currentGeneration()
	started := time.Now()

	ctx, span := tracer.Start(ctx, "manager.sync", trace.WithAttributes(
		attribute.String("sync.mode", mode),
	))
	defer span.End()

	m.app.SetPendingSync(true)
	defer m.app.SetPendingSync(false)

	selected := make([]Syncable, 0, len(m.stores))
	for _, s := range m.stores {
		if mode == modeFull || s.ShouldRefetch() {
			selected = append(selected, s)
		}
	}
	span.SetAttributes(attribute.Int("sync.stores", len(selected)))

	var (
		mu       sync.Mutex
		failures []StoreFailure
		g        errgroup.Group
	)
	for _, s := range selected {
		g.Go(func() error {
			if err := s.Fetch(ctx, mode == modeFull); err != nil {
				mu.Lock()
				failures = append(failures, StoreFailure{Store: s.Name(), Err: err})
				mu.Unlock()
				m.logger.Warn("store sync failed", "store", s.Name(), "mode", mode, "error", err)
			}
			// Failures are collected, never returned, so one store cannot cut
			// the batch short.
			return nil
		})
	}
	_ = g.Wait()

	if m.currentGeneration() == generation {
		m.app.SetLastSync(m.clock.Now())
	} else {
		m.logger.Debug("batch finished after destroy, sync time not recorded", "mode", mode)
	}

	elapsed := time.Since(started)
	if m.metrics != nil {
		m.metrics.SyncBatch(mode, elapsed)
	}

	if len(failures) > 0 {
		err := &SyncError{Mode: mode, Total: len(selected), Failures: failures}
		span.RecordError(err)
		span.SetStatus(codes.Error, "stores failed")
		return err
	}
	m.logger.Debug("sync complete", "mode", mode, "stores", len(selected), "elapsed", elapsed)
	return nil
}
