package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.Fetch("tasks", "ok")
	m.Fetch("tasks", "ok")
	m.Fetch("events", "error")
	m.Mutation("tasks", "update", "error")
	m.Rollback("tasks")
	m.DedupeShared("tasks:list")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.fetches.WithLabelValues("tasks", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetches.WithLabelValues("events", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues("tasks", "update", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rollbacks.WithLabelValues("tasks")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dedupeShared))
}

func TestSyncBatchAndOnline(t *testing.T) {
	m := New()
	m.SyncBatch("full", 300*time.Millisecond)
	m.SyncBatch("intelligent", 10*time.Millisecond)
	m.SetOnline(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.syncBatches.WithLabelValues("full")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.online))
	assert.Equal(t, 2, testutil.CollectAndCount(m.syncDuration))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.Fetch("profile", "ok")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, `tally_fetch_total{outcome="ok",store="profile"} 1`), text)
	assert.Contains(t, text, "tally_online 1")
}
