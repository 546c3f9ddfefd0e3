package ui

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/five82/tally/internal/api"
	"github.com/five82/tally/internal/logging"
	"github.com/five82/tally/internal/manager"
	"github.com/five82/tally/internal/prefs"
	"github.com/five82/tally/internal/signals"
	"github.com/five82/tally/internal/state"
)

type fakeTasks struct {
	mu      sync.Mutex
	items   []api.Task
	patches []api.Patch
}

func (f *fakeTasks) List(context.Context) ([]api.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.Task(nil), f.items...), nil
}

func (f *fakeTasks) Create(_ context.Context, t api.Task) (api.Task, error) {
	return t.WithID("srv-1"), nil
}

func (f *fakeTasks) Update(_ context.Context, id string, patch api.Patch) (api.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, patch)
	for i, t := range f.items {
		if t.ID == id {
			next, err := api.ApplyPatch(t, patch)
			if err != nil {
				return api.Task{}, err
			}
			f.items[i] = next
			return next, nil
		}
	}
	return api.Task{}, &api.Error{Status: 404, Message: "not found"}
}

func (f *fakeTasks) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, t := range f.items {
		if t.ID == id {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return nil
		}
	}
	return nil
}

type fakeSyncer struct {
	status     manager.SyncStatus
	refreshErr error
	refreshes  int
	invalidate int
	syncs      int
}

func (f *fakeSyncer) RefreshAll(context.Context) error {
	f.refreshes++
	return f.refreshErr
}

func (f *fakeSyncer) PerformIntelligentSync(context.Context) error {
	f.syncs++
	return nil
}

func (f *fakeSyncer) InvalidateAll()             { f.invalidate++ }
func (f *fakeSyncer) Status() manager.SyncStatus { return f.status }

type fixedLoading bool

func (l fixedLoading) ShouldShowGlobalLoading() bool { return bool(l) }

func newTaskStore(t *testing.T, remote *fakeTasks) *state.Collection[api.Task] {
	t.Helper()
	store := state.NewCollection[api.Task](state.Options{
		Name:   "tasks",
		TTL:    time.Minute,
		Logger: logging.Discard(),
	}, remote)
	if err := store.Fetch(context.Background(), true); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	return store
}

func sized(t *testing.T, opts Options) Model {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	next, _ := New(opts).Update(tea.WindowSizeMsg{Width: 120, Height: 30})
	return next.(Model)
}

func press(m Model, k string) (Model, tea.Cmd) {
	var msg tea.KeyMsg
	switch k {
	case "tab":
		msg = tea.KeyMsg{Type: tea.KeyTab}
	case "shift+tab":
		msg = tea.KeyMsg{Type: tea.KeyShiftTab}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func TestParseView(t *testing.T) {
	tests := map[string]View{
		"tasks":     ViewTasks,
		"Events":    ViewEvents,
		" log ":     ViewLog,
		"sanctions": ViewSanctions,
		"unknown":   ViewTasks,
		"":          ViewTasks,
	}
	for name, want := range tests {
		if got := ParseView(name); got != want {
			t.Fatalf("ParseView(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestTabCyclesViews(t *testing.T) {
	m := sized(t, Options{StartView: "sanctions"})
	if m.view != ViewSanctions {
		t.Fatalf("view = %v, want sanctions", m.view)
	}
	m, _ = press(m, "tab")
	if m.view != ViewLog {
		t.Fatalf("view = %v, want log", m.view)
	}
	m, _ = press(m, "tab")
	if m.view != ViewTasks {
		t.Fatalf("view = %v, want tasks after wrap", m.view)
	}
	m, _ = press(m, "shift+tab")
	if m.view != ViewLog {
		t.Fatalf("view = %v, want log after reverse wrap", m.view)
	}
	m, _ = press(m, "2")
	if m.view != ViewEvents {
		t.Fatalf("view = %v, want events", m.view)
	}
}

func TestToggleTaskAppliesOptimisticUpdate(t *testing.T) {
	remote := &fakeTasks{items: []api.Task{
		{ID: "a", Title: "Water plants"},
		{ID: "b", Title: "Run"},
	}}
	tasks := newTaskStore(t, remote)
	m := sized(t, Options{Stores: Stores{Tasks: tasks}})

	m, _ = press(m, "j")
	if m.selected[ViewTasks] != 1 {
		t.Fatalf("selected = %d, want 1", m.selected[ViewTasks])
	}
	m, cmd := press(m, "x")
	if cmd == nil {
		t.Fatalf("toggle returned no command")
	}
	msg := cmd()
	action, ok := msg.(actionMsg)
	if !ok {
		t.Fatalf("cmd() = %T, want actionMsg", msg)
	}
	if action.err != nil {
		t.Fatalf("toggle error: %v", action.err)
	}
	if len(remote.patches) != 1 || remote.patches[0]["done"] != true {
		t.Fatalf("patches = %v, want one done=true", remote.patches)
	}
	got, _ := tasks.Get("b")
	if !got.Done {
		t.Fatalf("task b Done = false, want true")
	}

	next, _ := m.Update(action)
	m = next.(Model)
	if !strings.Contains(m.flash, "complete Run") || m.flashErr {
		t.Fatalf("flash = %q (err=%v), want completion notice", m.flash, m.flashErr)
	}
	if !strings.Contains(m.View(), "[x]") {
		t.Fatalf("View does not show the completed task")
	}
}

func TestToggleWaitsForPendingWrite(t *testing.T) {
	remote := &fakeTasks{items: []api.Task{{ID: "a", Title: "Stretch"}}}
	tasks := newTaskStore(t, remote)
	m := sized(t, Options{Stores: Stores{Tasks: tasks}})

	m, first := press(m, "x")
	if first == nil {
		t.Fatalf("toggle returned no command")
	}
	m, second := press(m, "x")
	if second != nil {
		t.Fatalf("second toggle issued a write while the first is in flight")
	}
	if !strings.Contains(m.flash, "Still saving") {
		t.Fatalf("flash = %q, want still saving notice", m.flash)
	}

	next, _ := m.Update(first())
	m = next.(Model)
	m, third := press(m, "x")
	if third == nil {
		t.Fatalf("toggle after the write settled returned no command")
	}
	next, _ = m.Update(third())
	m = next.(Model)

	if len(remote.patches) != 2 || remote.patches[0]["done"] != true || remote.patches[1]["done"] != false {
		t.Fatalf("patches = %v, want done=true then done=false", remote.patches)
	}
	if got, _ := tasks.Get("a"); got.Done {
		t.Fatalf("task a Done = true, want false after two toggles")
	}
	if len(m.saving) != 0 {
		t.Fatalf("saving = %v, want empty", m.saving)
	}
}

func TestDeleteTaskClampsSelection(t *testing.T) {
	remote := &fakeTasks{items: []api.Task{{ID: "a", Title: "One"}, {ID: "b", Title: "Two"}}}
	tasks := newTaskStore(t, remote)
	m := sized(t, Options{Stores: Stores{Tasks: tasks}})

	m, _ = press(m, "G")
	m, cmd := press(m, "d")
	if cmd == nil {
		t.Fatalf("delete returned no command")
	}
	next, _ := m.Update(cmd())
	m = next.(Model)
	if n := len(tasks.Snapshot().Data); n != 1 {
		t.Fatalf("tasks = %d, want 1", n)
	}
	if m.selected[ViewTasks] != 0 {
		t.Fatalf("selected = %d, want clamped to 0", m.selected[ViewTasks])
	}
}

func TestRefreshReportsOffline(t *testing.T) {
	syncer := &fakeSyncer{refreshErr: manager.ErrOffline}
	m := sized(t, Options{Sync: syncer})

	m, cmd := press(m, "r")
	if cmd == nil {
		t.Fatalf("refresh returned no command")
	}
	next, _ := m.Update(cmd())
	m = next.(Model)
	if syncer.refreshes != 1 {
		t.Fatalf("refreshes = %d, want 1", syncer.refreshes)
	}
	if !m.flashErr || !strings.Contains(m.flash, "Offline") {
		t.Fatalf("flash = %q (err=%v), want offline error", m.flash, m.flashErr)
	}
}

func TestRefreshReportsFailedStores(t *testing.T) {
	syncer := &fakeSyncer{refreshErr: &manager.SyncError{
		Mode:     "full",
		Total:    4,
		Failures: []manager.StoreFailure{{Store: "events", Err: context.DeadlineExceeded}},
	}}
	m := sized(t, Options{Sync: syncer})
	m, cmd := press(m, "r")
	next, _ := m.Update(cmd())
	m = next.(Model)
	if !strings.Contains(m.flash, "1/4 stores failed (events)") {
		t.Fatalf("flash = %q, want failed store summary", m.flash)
	}
}

func TestInvalidateResyncs(t *testing.T) {
	syncer := &fakeSyncer{}
	m := sized(t, Options{Sync: syncer})
	_, cmd := press(m, "R")
	if cmd == nil {
		t.Fatalf("invalidate returned no command")
	}
	cmd()
	if syncer.invalidate != 1 || syncer.syncs != 1 {
		t.Fatalf("invalidate=%d syncs=%d, want 1 and 1", syncer.invalidate, syncer.syncs)
	}
}

func TestFocusMessagesDriveVisibility(t *testing.T) {
	focus := signals.NewFocus()
	m := sized(t, Options{Focus: focus})

	next, _ := m.Update(tea.BlurMsg{})
	if focus.Visible() {
		t.Fatalf("Visible = true after blur")
	}
	next.(Model).Update(tea.FocusMsg{})
	if !focus.Visible() {
		t.Fatalf("Visible = false after focus")
	}
}

func TestHeaderShowsSyncState(t *testing.T) {
	syncer := &fakeSyncer{status: manager.SyncStatus{IsOnline: false}}
	m := sized(t, Options{Sync: syncer, Loading: fixedLoading(true)})
	view := m.View()
	for _, want := range []string{"offline", "never", "REFRESHING"} {
		if !strings.Contains(view, want) {
			t.Fatalf("View missing %q", want)
		}
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	syncer.status = manager.SyncStatus{IsOnline: true, LastSync: now.Add(-3 * time.Minute)}
	m = sized(t, Options{Sync: syncer, Loading: fixedLoading(false)})
	m.now = func() time.Time { return now }
	view = m.View()
	if !strings.Contains(view, "online") || !strings.Contains(view, "3m") {
		t.Fatalf("View = %q, want online and 3m age", view)
	}
	if strings.Contains(view, "REFRESHING") {
		t.Fatalf("View shows overlay below threshold")
	}
}

func TestThemeCycleSavesPrefs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.toml")
	m := sized(t, Options{PrefsPath: path, ThemeName: "Nightfox", StartView: "events"})

	m, _ = press(m, "T")
	if m.theme.Name != "Kanagawa" {
		t.Fatalf("theme = %q, want Kanagawa", m.theme.Name)
	}
	got, err := prefs.Load(path)
	if err != nil {
		t.Fatalf("prefs.Load: %v", err)
	}
	if got.Theme != "Kanagawa" || got.StartView != "events" {
		t.Fatalf("prefs = %+v, want Kanagawa/events", got)
	}
}

func TestLogViewReadsTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tally.log")
	body := `{"time":"2026-03-01T12:00:00Z","level":"WARN","msg":"sync batch had failures","component":"manager","failed":1}` + "\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	m := sized(t, Options{LogPath: path})

	m, cmd := press(m, "4")
	if m.view != ViewLog || cmd == nil {
		t.Fatalf("view = %v cmd nil = %v, want log view with read command", m.view, cmd == nil)
	}
	next, _ := m.Update(cmd())
	m = next.(Model)
	if len(m.logEntries) != 1 {
		t.Fatalf("logEntries = %d, want 1", len(m.logEntries))
	}
	if !strings.Contains(m.View(), "sync batch had failures") {
		t.Fatalf("View does not contain the log message")
	}
}

func TestHelpOverlayClosesOnAnyKey(t *testing.T) {
	m := sized(t, Options{})
	m, _ = press(m, "?")
	if !m.showHelp {
		t.Fatalf("showHelp = false, want true")
	}
	if !strings.Contains(m.View(), "Keyboard Shortcuts") {
		t.Fatalf("help overlay not rendered")
	}
	m, _ = press(m, "j")
	if m.showHelp {
		t.Fatalf("showHelp = true after key, want false")
	}
}
