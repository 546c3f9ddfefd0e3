package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/five82/tally/internal/config"
	"github.com/five82/tally/internal/logging"
	"github.com/five82/tally/internal/prefs"
	"github.com/five82/tally/internal/ui"
)

// uiTick is how often the TUI redraws relative times and re-reads the log tail.
const uiTick = time.Second

// Options configure the tally application.
type Options struct {
	ConfigPath string
	PrefsPath  string        // empty uses default ~/.config/tally/prefs.toml
	SyncEvery  time.Duration // zero keeps the configured sync interval
}

// LoadConfig reads the config and applies command-line overrides.
func LoadConfig(opts Options) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if opts.SyncEvery > 0 {
		cfg.Sync.Interval = opts.SyncEvery
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

// Run boots the tally TUI until the user quits or the context is cancelled.
func Run(ctx context.Context, opts Options) error {
	cfg, err := LoadConfig(opts)
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	// The terminal belongs to the UI, so logs go to a file the log view tails.
	logger, logPath, closeLog, err := logging.OpenFile(cfg.LogDir, level)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	prefsPath := opts.PrefsPath
	if prefsPath == "" {
		prefsPath = prefs.DefaultPath()
	}
	userPrefs, err := prefs.Load(prefsPath)
	if err != nil {
		logger.Warn("load preferences", "error", err)
	}

	rt, err := Build(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(ctx)
	wait := StartBackground(ctx, rt)
	defer func() {
		cancel()
		wait()
	}()

	rt.Probe.Check(ctx)
	rt.Manager.Initialize(ctx)
	go func() {
		if err := rt.Manager.PerformFullSync(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("initial sync incomplete", "error", err)
		}
	}()

	logger.Info("tally started", "api", rt.Client.BaseURL(), "config", cfg.Path, "pid", os.Getpid())
	return ui.Run(ui.Options{
		Context: ctx,
		Sync:    rt.Manager,
		Loading: rt.App,
		Stores: ui.Stores{
			Profile:   rt.Profile,
			Events:    rt.Events,
			Tasks:     rt.Tasks,
			Sanctions: rt.Sanctions,
		},
		Focus:     rt.Focus,
		LogPath:   logPath,
		PollTick:  uiTick,
		ThemeName: userPrefs.Theme,
		StartView: userPrefs.StartView,
		PrefsPath: prefsPath,
		Logger:    logger,
		OnChange:  rt.OnChange(),
	})
}
