package app

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"
)

// StartBackground launches the connectivity probe and, when configured, the
// metrics listener. It returns immediately; the returned wait blocks until
// both have stopped after ctx is cancelled.
func StartBackground(ctx context.Context, rt *Runtime) (wait func()) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rt.Probe.Run(gctx)
		return nil
	})

	if bind := strings.TrimSpace(rt.Config.MetricsBind); bind != "" {
		g.Go(func() error {
			if err := rt.Metrics.Serve(gctx, bind, rt.Logger); err != nil {
				rt.Logger.Warn("metrics listener stopped", "component", "metrics", "error", err)
			}
			return nil
		})
	}

	return func() { _ = g.Wait() }
}
