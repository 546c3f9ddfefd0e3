package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/five82/tally/internal/app"
	"github.com/five82/tally/internal/config"
	"github.com/five82/tally/internal/devserver"
	"github.com/five82/tally/internal/logging"
	"github.com/five82/tally/internal/manager"
)

const defaultDevBind = "127.0.0.1:8787"

// Exit codes beyond the generic failure.
const (
	exitPartialSync = 2
	exitOffline     = 3
)

type rootFlags struct {
	configPath string
	syncEvery  time.Duration
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "tally",
		Short: "Terminal client for the tally habit tracker",
		Long: `tally keeps a local, optimistically updated copy of your profile, events,
tasks and sanctions, and keeps it in sync with the tracker API.

Run without a subcommand to open the terminal UI.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Run(cmd.Context(), app.Options{
				ConfigPath: flags.configPath,
				SyncEvery:  flags.syncEvery,
			})
		},
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default ~/.config/tally/config.toml)")
	root.Flags().DurationVar(&flags.syncEvery, "poll", 0, "periodic sync interval, overrides sync.interval")

	root.AddCommand(newSyncCmd(flags), newStatusCmd(flags), newDevserverCmd())
	return root
}

func newSyncCmd(flags *rootFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Refresh every store once and print the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig(app.Options{ConfigPath: flags.configPath})
			if err != nil {
				return err
			}
			logger, err := stderrLogger(cmd.ErrOrStderr(), cfg.LogLevel)
			if err != nil {
				return err
			}

			report, syncErr := app.SyncOnce(cmd.Context(), cfg, logger)
			if report.API != "" {
				write := report.WriteText
				if asJSON {
					write = report.WriteJSON
				}
				if err := write(cmd.OutOrStdout()); err != nil {
					return err
				}
			}
			return syncErr
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func newStatusCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the resolved configuration and API health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig(app.Options{ConfigPath: flags.configPath})
			if err != nil {
				return err
			}
			healthErr := app.Health(cmd.Context(), cfg)
			if err := writeStatus(cmd.OutOrStdout(), cfg, healthErr); err != nil {
				return err
			}
			if healthErr != nil {
				return fmt.Errorf("api unreachable: %w", healthErr)
			}
			return nil
		},
	}
}

func writeStatus(w io.Writer, cfg config.Config, healthErr error) error {
	health := "ok"
	if healthErr != nil {
		health = "unreachable (" + healthErr.Error() + ")"
	}
	metricsBind := cfg.MetricsBind
	if metricsBind == "" {
		metricsBind = "disabled"
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	rows := [][2]string{
		{"config", cfg.Path},
		{"api", cfg.APIURL},
		{"health", health},
		{"log file", cfg.LogPath()},
		{"log level", cfg.LogLevel},
		{"metrics", metricsBind},
		{"sync interval", cfg.Sync.Interval.String()},
		{"min resync gap", cfg.Sync.MinResyncGap.String()},
		{"probe interval", cfg.Sync.ProbeInterval.String()},
		{"loading threshold", fmt.Sprintf("%d", cfg.Sync.LoadingThreshold)},
		{"ttl profile", cfg.TTL.Profile.String()},
		{"ttl events", cfg.TTL.Events.String()},
		{"ttl tasks", cfg.TTL.Tasks.String()},
		{"ttl sanctions", cfg.TTL.Sanctions.String()},
	}
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\n", row[0], row[1])
	}
	return tw.Flush()
}

func newDevserverCmd() *cobra.Command {
	var (
		bind       string
		failWrites bool
		seed       bool
		verbose    bool
	)
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run an in-memory tracker API for local development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			level := "info"
			if verbose {
				level = "debug"
			} else {
				gin.SetMode(gin.ReleaseMode)
			}
			logger, err := stderrLogger(cmd.ErrOrStderr(), level)
			if err != nil {
				return err
			}
			srv := devserver.New(devserver.Options{
				FailWrites: failWrites,
				Seed:       seed,
				Logger:     logger,
			})
			return srv.ListenAndServe(cmd.Context(), bind)
		},
	}
	cmd.Flags().StringVar(&bind, "bind", defaultDevBind, "listen address")
	cmd.Flags().BoolVar(&failWrites, "fail-writes", false, "reject every write with 503")
	cmd.Flags().BoolVar(&seed, "seed", true, "start with sample data")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging and gin request logs")
	return cmd
}

func stderrLogger(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return logging.NewText(w, lvl), nil
}

func exitCode(err error) int {
	var syncErr *manager.SyncError
	switch {
	case errors.Is(err, manager.ErrOffline):
		return exitOffline
	case errors.As(err, &syncErr):
		return exitPartialSync
	default:
		return 1
	}
}
