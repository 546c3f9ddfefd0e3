package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/five82/tally/internal/api"
	"github.com/five82/tally/internal/appstate"
	"github.com/five82/tally/internal/clock"
	"github.com/five82/tally/internal/config"
	"github.com/five82/tally/internal/dedupe"
	"github.com/five82/tally/internal/manager"
	"github.com/five82/tally/internal/metrics"
	"github.com/five82/tally/internal/signals"
	"github.com/five82/tally/internal/state"
)

// Runtime is the wired sync layer shared by the TUI and the one-shot commands.
type Runtime struct {
	Config  config.Config
	Logger  *slog.Logger
	Client  *api.Client
	Metrics *metrics.Metrics
	App     *appstate.Store
	Probe   *signals.Probe
	Focus   *signals.Focus
	Manager *manager.Manager

	Profile   *state.Singleton[api.Profile]
	Events    *state.Collection[api.Event]
	Tasks     *state.Collection[api.Task]
	Sanctions *state.Collection[api.Sanction]
}

// Build constructs every component from cfg. Nothing is started: call
// Manager.Initialize and run the probe to bring the layer up.
func Build(cfg config.Config, logger *slog.Logger, clk clock.Clock) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}

	client, err := api.NewClient(cfg.APIURL)
	if err != nil {
		return nil, fmt.Errorf("init api client: %w", err)
	}

	m := metrics.New()
	flight := dedupe.New(dedupe.WithSharedHook(m.DedupeShared))
	app := appstate.New(
		appstate.WithClock(clk),
		appstate.WithLoadingThreshold(cfg.Sync.LoadingThreshold),
	)

	storeOpts := func(name string, ttl time.Duration) state.Options {
		return state.Options{
			Name:    name,
			TTL:     ttl,
			Clock:   clk,
			Dedupe:  flight,
			Bus:     app,
			Logger:  logger,
			Metrics: m,
		}
	}

	rt := &Runtime{
		Config:    cfg,
		Logger:    logger,
		Client:    client,
		Metrics:   m,
		App:       app,
		Focus:     signals.NewFocus(),
		Profile:   state.NewSingleton[api.Profile](storeOpts("profile", cfg.TTL.Profile), client.Profile()),
		Events:    state.NewCollection[api.Event](storeOpts("events", cfg.TTL.Events), client.Events()),
		Tasks:     state.NewCollection[api.Task](storeOpts("tasks", cfg.TTL.Tasks), client.Tasks()),
		Sanctions: state.NewCollection[api.Sanction](storeOpts("sanctions", cfg.TTL.Sanctions), client.Sanctions()),
	}
	rt.Probe = signals.NewProbe(client.Health,
		signals.WithInterval(cfg.Sync.ProbeInterval),
		signals.WithLogger(logger),
		signals.WithStatusHook(m.SetOnline),
	)

	// A configured gap of zero means no gap; the manager reads zero as unset.
	minGap := cfg.Sync.MinResyncGap
	if minGap == 0 {
		minGap = manager.NoResyncGap
	}

	mgr, err := manager.New(manager.Options{
		App:          app,
		Stores:       rt.Syncables(),
		Connectivity: rt.Probe,
		Visibility:   rt.Focus,
		Clock:        clk,
		Interval:     cfg.Sync.Interval,
		MinResyncGap: minGap,
		Logger:       logger,
		Metrics:      m,
	})
	if err != nil {
		return nil, fmt.Errorf("init manager: %w", err)
	}
	rt.Manager = mgr
	return rt, nil
}

// Syncables lists the entity stores in sync order.
func (r *Runtime) Syncables() []manager.Syncable {
	return []manager.Syncable{r.Profile, r.Events, r.Tasks, r.Sanctions}
}

// OnChange returns the change subscriptions the UI redraws on.
func (r *Runtime) OnChange() []func(fn func()) (cancel func()) {
	return []func(fn func()) (cancel func()){
		r.Profile.OnChange,
		r.Events.OnChange,
		r.Tasks.OnChange,
		r.Sanctions.OnChange,
		r.App.OnChange,
	}
}

// Close tears the layer down: the manager stops scheduling, listeners detach,
// and stores leave the invalidation bus.
func (r *Runtime) Close() {
	r.Manager.Destroy()
	r.App.Cleanup()
	r.Profile.Close()
	r.Events.Close()
	r.Tasks.Close()
	r.Sanctions.Close()
}
