// Package metrics exposes Prometheus counters for the sync layer.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector on its own registry so tests and multiple
// managers never collide on the global one.
type Metrics struct {
	Registry *prometheus.Registry

	fetches      *prometheus.CounterVec
	mutations    *prometheus.CounterVec
	rollbacks    *prometheus.CounterVec
	dedupeShared prometheus.Counter
	syncBatches  *prometheus.CounterVec
	syncDuration *prometheus.HistogramVec
	online       prometheus.Gauge
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		Registry: reg,

		// fetches counts canonical store fetches.
		// Labels: store, outcome (ok, error)
		fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tally",
			Name:      "fetch_total",
			Help:      "Store fetches by outcome",
		}, []string{"store", "outcome"}),

		// mutations counts optimistic writes once the server answered.
		// Labels: store, op (create, update, delete), outcome (ok, error)
		mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tally",
			Name:      "mutation_total",
			Help:      "Optimistic mutations by outcome",
		}, []string{"store", "op", "outcome"}),

		rollbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tally",
			Name:      "rollback_total",
			Help:      "Optimistic mutations rolled back",
		}, []string{"store"}),

		dedupeShared: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tally",
			Name:      "dedupe_shared_total",
			Help:      "Calls that joined an in-flight request",
		}),

		// Labels: mode (intelligent, full)
		syncBatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tally",
			Name:      "sync_batches_total",
			Help:      "Coordinated sync batches",
		}, []string{"mode"}),

		syncDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tally",
			Name:      "sync_duration_seconds",
			Help:      "Wall time of coordinated sync batches",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"mode"}),

		online: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "tally",
			Name:      "online",
			Help:      "1 when the API is reachable",
		}),
	}
	reg.MustRegister(collectors.NewGoCollector())
	m.online.Set(1)
	return m
}

// Fetch records a store fetch.
func (m *Metrics) Fetch(store, outcome string) {
	m.fetches.WithLabelValues(store, outcome).Inc()
}

// Mutation records a settled optimistic write.
func (m *Metrics) Mutation(store, op, outcome string) {
	m.mutations.WithLabelValues(store, op, outcome).Inc()
}

// Rollback records a restored snapshot.
func (m *Metrics) Rollback(store string) {
	m.rollbacks.WithLabelValues(store).Inc()
}

// DedupeShared records a caller that joined an in-flight request.
func (m *Metrics) DedupeShared(string) {
	m.dedupeShared.Inc()
}

// SyncBatch records one completed coordinated sync.
func (m *Metrics) SyncBatch(mode string, elapsed time.Duration) {
	m.syncBatches.WithLabelValues(mode).Inc()
	m.syncDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// SetOnline records connectivity.
func (m *Metrics) SetOnline(online bool) {
	if online {
		m.online.Set(1)
		return
	}
	m.online.Set(0)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on bind until ctx is done.
func (m *Metrics) Serve(ctx context.Context, bind string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              bind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", "component", "metrics", "bind", bind)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
