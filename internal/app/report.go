package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/five82/tally/internal/api"
	"github.com/five82/tally/internal/config"
	"github.com/five82/tally/internal/state"
)

// StoreReport is the outcome of one store after a sync.
type StoreReport struct {
	Name      string    `json:"name"`
	Items     int       `json:"items"`
	HasData   bool      `json:"hasData"`
	LastFetch time.Time `json:"lastFetch"`
	Error     string    `json:"error,omitempty"`
}

// SyncReport is what `tally sync` prints.
type SyncReport struct {
	API      string        `json:"api"`
	Online   bool          `json:"online"`
	LastSync time.Time     `json:"lastSync"`
	Elapsed  string        `json:"elapsed"`
	Stores   []StoreReport `json:"stores"`
	Error    string        `json:"error,omitempty"`
}

func reportOf[T any](name string, snap state.SyncState[T], items int) StoreReport {
	return StoreReport{
		Name:      name,
		Items:     items,
		HasData:   snap.HasData,
		LastFetch: snap.LastFetch,
		Error:     snap.Error,
	}
}

// Report snapshots every store.
func (r *Runtime) Report() []StoreReport {
	events := r.Events.Snapshot()
	tasks := r.Tasks.Snapshot()
	sanctions := r.Sanctions.Snapshot()
	profile := r.Profile.Snapshot()
	profileItems := 0
	if profile.HasData {
		profileItems = 1
	}
	return []StoreReport{
		reportOf(r.Profile.Name(), profile, profileItems),
		reportOf(r.Events.Name(), events, len(events.Data)),
		reportOf(r.Tasks.Name(), tasks, len(tasks.Data)),
		reportOf(r.Sanctions.Name(), sanctions, len(sanctions.Data)),
	}
}

// SyncOnce brings the layer up, refreshes every store once, and reports the
// result. The returned error is the refresh error, if any; the report is
// filled either way.
func SyncOnce(ctx context.Context, cfg config.Config, logger *slog.Logger) (SyncReport, error) {
	rt, err := Build(cfg, logger, nil)
	if err != nil {
		return SyncReport{}, err
	}
	defer rt.Close()

	start := time.Now()
	rt.Probe.Check(ctx)
	rt.Manager.Initialize(ctx)
	syncErr := rt.Manager.RefreshAll(ctx)

	status := rt.Manager.Status()
	report := SyncReport{
		API:      rt.Client.BaseURL(),
		Online:   status.IsOnline,
		LastSync: status.LastSync,
		Elapsed:  time.Since(start).Round(time.Millisecond).String(),
		Stores:   rt.Report(),
	}
	if syncErr != nil {
		report.Error = syncErr.Error()
	}
	return report, syncErr
}

// WriteJSON prints the report as indented JSON.
func (s SyncReport) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// WriteText prints the report as an aligned table.
func (s SyncReport) WriteText(w io.Writer) error {
	conn := "online"
	if !s.Online {
		conn = "offline"
	}
	if _, err := fmt.Fprintf(w, "api %s (%s), took %s\n", s.API, conn, s.Elapsed); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STORE\tITEMS\tFETCHED\tERROR")
	for _, st := range s.Stores {
		fetched := "-"
		if !st.LastFetch.IsZero() {
			fetched = st.LastFetch.Local().Format("15:04:05")
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", st.Name, st.Items, fetched, st.Error)
	}
	return tw.Flush()
}

// Health reports whether the API answers its health check.
func Health(ctx context.Context, cfg config.Config) error {
	client, err := api.NewClient(cfg.APIURL)
	if err != nil {
		return fmt.Errorf("init api client: %w", err)
	}
	return client.Health(ctx)
}
