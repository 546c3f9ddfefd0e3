package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/five82/tally/internal/api"
	"github.com/five82/tally/internal/logtail"
	"github.com/five82/tally/internal/manager"
	"github.com/five82/tally/internal/prefs"
	"github.com/five82/tally/internal/signals"
	"github.com/five82/tally/internal/state"
)

// View represents the current active view.
type View int

const (
	ViewTasks View = iota
	ViewEvents
	ViewSanctions
	ViewLog
	viewCount
)

var viewNames = [viewCount]string{"tasks", "events", "sanctions", "log"}

func (v View) String() string {
	if v < 0 || v >= viewCount {
		return viewNames[ViewTasks]
	}
	return viewNames[v]
}

// ParseView maps a view name to its View, defaulting to tasks.
func ParseView(name string) View {
	for i, n := range viewNames {
		if strings.EqualFold(strings.TrimSpace(name), n) {
			return View(i)
		}
	}
	return ViewTasks
}

const (
	logTailLines = 500
	flashTTL     = 5 * time.Second
	headerLines  = 2
	footerLines  = 1
)

// Syncer is the part of the data manager the UI drives.
type Syncer interface {
	RefreshAll(ctx context.Context) error
	PerformIntelligentSync(ctx context.Context) error
	InvalidateAll()
	Status() manager.SyncStatus
}

// LoadingState reports whether the global loading overlay should show.
type LoadingState interface {
	ShouldShowGlobalLoading() bool
}

// Stores are the entity stores rendered by the UI.
type Stores struct {
	Profile   *state.Singleton[api.Profile]
	Events    *state.Collection[api.Event]
	Tasks     *state.Collection[api.Task]
	Sanctions *state.Collection[api.Sanction]
}

// Options configures the UI.
type Options struct {
	Context   context.Context
	Sync      Syncer
	Loading   LoadingState
	Stores    Stores
	Focus     *signals.Focus
	LogPath   string
	PollTick  time.Duration
	ThemeName string
	StartView string
	PrefsPath string
	Logger    *slog.Logger

	// OnChange subscribes to data changes; Run uses it to redraw when a store
	// or the app store changes. Each call returns its unsubscribe function.
	OnChange []func(fn func()) (cancel func())
}

// Model is the root application state for Bubble Tea.
type Model struct {
	ctx       context.Context
	sync      Syncer
	loading   LoadingState
	stores    Stores
	focus     *signals.Focus
	logPath   string
	prefsPath string
	pollTick  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	theme    Theme
	keys     keyMap
	help     help.Model
	view     View
	width    int
	height   int
	ready    bool
	showHelp bool

	selected [viewCount]int

	logViewport viewport.Model
	logEntries  []logtail.Entry
	logErr      error

	flash    string
	flashErr bool
	flashAt  time.Time

	// saving holds the entities with a write in flight. A second write to
	// one of them is refused until the first settles, so writes reach the
	// API in key-press order.
	saving map[string]struct{}
}

// New creates a new Bubble Tea model.
func New(opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	pollTick := opts.PollTick
	if pollTick <= 0 {
		pollTick = time.Second
	}
	themeName := opts.ThemeName
	if themeName == "" {
		themeName = prefs.Defaults().Theme
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return Model{
		ctx:       ctx,
		sync:      opts.Sync,
		loading:   opts.Loading,
		stores:    opts.Stores,
		focus:     opts.Focus,
		logPath:   opts.LogPath,
		prefsPath: opts.PrefsPath,
		pollTick:  pollTick,
		logger:    logger.With("component", "ui"),
		now:       time.Now,
		theme:     GetTheme(themeName),
		keys:      DefaultKeyMap(),
		help:      help.New(),
		view:      ParseView(opts.StartView),
		saving:    make(map[string]struct{}),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{tickCmd(m.pollTick)}
	if m.view == ViewLog {
		cmds = append(cmds, m.readLogsCmd())
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		if !m.ready {
			m.logViewport = viewport.New(msg.Width, m.contentHeight())
		} else {
			m.logViewport.Width = msg.Width
			m.logViewport.Height = m.contentHeight()
		}
		m.ready = true
		m.updateLogViewport()
		return m, nil

	case tea.FocusMsg:
		if m.focus != nil {
			m.focus.SetVisible(true)
		}
		return m, nil

	case tea.BlurMsg:
		if m.focus != nil {
			m.focus.SetVisible(false)
		}
		return m, nil

	case tickMsg:
		return m.handleTick(time.Time(msg))

	case changedMsg:
		m.clampSelection()
		return m, nil

	case actionMsg:
		if msg.entity != "" {
			delete(m.saving, msg.entity)
		}
		m.setFlash(msg.describe(), msg.err != nil)
		if msg.err != nil {
			m.logger.Warn("action failed", "action", msg.label, "error", msg.err)
		}
		m.clampSelection()
		return m, nil

	case logsMsg:
		m.logErr = msg.err
		if msg.err == nil {
			m.logEntries = msg.entries
		}
		m.updateLogViewport()
		return m, nil
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	if m.showHelp {
		return m.renderHelp()
	}
	return m.renderMain()
}

// handleKey processes keyboard input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		// Any key closes help
		m.showHelp = false
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
		return m, nil

	case key.Matches(msg, m.keys.CycleTheme):
		m.theme = GetTheme(NextTheme(m.theme.Name))
		m.savePrefs()
		return m, nil

	case key.Matches(msg, m.keys.Tab):
		return m.switchView((m.view + 1) % viewCount)

	case key.Matches(msg, m.keys.ShiftTab):
		return m.switchView((m.view + viewCount - 1) % viewCount)

	case key.Matches(msg, m.keys.ViewTasks):
		return m.switchView(ViewTasks)
	case key.Matches(msg, m.keys.ViewEvents):
		return m.switchView(ViewEvents)
	case key.Matches(msg, m.keys.ViewSanctions):
		return m.switchView(ViewSanctions)
	case key.Matches(msg, m.keys.ViewLog):
		return m.switchView(ViewLog)

	case key.Matches(msg, m.keys.Refresh):
		if m.sync == nil {
			return m, nil
		}
		m.setFlash("Refreshing...", false)
		return m, refreshCmd(m.ctx, m.sync)

	case key.Matches(msg, m.keys.Invalidate):
		if m.sync == nil {
			return m, nil
		}
		m.setFlash("Caches invalidated", false)
		return m, invalidateCmd(m.ctx, m.sync)
	}

	if m.view == ViewLog {
		var cmd tea.Cmd
		m.logViewport, cmd = m.logViewport.Update(msg)
		return m, cmd
	}
	return m.handleListKey(msg)
}

// handleListKey processes keyboard input for the entity list views.
func (m Model) handleListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	count := m.rowCount(m.view)
	switch {
	case key.Matches(msg, m.keys.Toggle):
		cmd := m.toggleSelected()
		return m, cmd
	case key.Matches(msg, m.keys.Delete):
		cmd := m.deleteSelected()
		return m, cmd
	}
	if count == 0 {
		return m, nil
	}

	sel := &m.selected[m.view]
	switch {
	case key.Matches(msg, m.keys.Down):
		if *sel < count-1 {
			*sel++
		}
	case key.Matches(msg, m.keys.Up):
		if *sel > 0 {
			*sel--
		}
	case key.Matches(msg, m.keys.Top):
		*sel = 0
	case key.Matches(msg, m.keys.Bottom):
		*sel = count - 1
	}
	return m, nil
}

func (m Model) switchView(v View) (tea.Model, tea.Cmd) {
	m.view = v
	m.clampSelection()
	m.savePrefs()
	if v == ViewLog {
		return m, m.readLogsCmd()
	}
	return m, nil
}

// handleTick processes the redraw tick.
func (m Model) handleTick(now time.Time) (tea.Model, tea.Cmd) {
	cmds := []tea.Cmd{tickCmd(m.pollTick)}
	if m.flash != "" && now.Sub(m.flashAt) > flashTTL {
		m.flash = ""
		m.flashErr = false
	}
	if m.view == ViewLog {
		cmds = append(cmds, m.readLogsCmd())
	}
	return m, tea.Batch(cmds...)
}

func (m *Model) setFlash(text string, isErr bool) {
	m.flash = text
	m.flashErr = isErr
	m.flashAt = m.now()
}

func (m Model) savePrefs() {
	if m.prefsPath == "" {
		return
	}
	p := prefs.Prefs{Theme: m.theme.Name, StartView: m.view.String()}
	if err := prefs.Save(m.prefsPath, p); err != nil {
		m.logger.Warn("save preferences", "error", err)
	}
}

func (m Model) contentHeight() int {
	h := m.height - headerLines - footerLines
	if h < 1 {
		return 1
	}
	return h
}

func (m *Model) clampSelection() {
	for v := ViewTasks; v < ViewLog; v++ {
		count := m.rowCount(v)
		if m.selected[v] >= count {
			m.selected[v] = count - 1
		}
		if m.selected[v] < 0 {
			m.selected[v] = 0
		}
	}
}

func (m *Model) updateLogViewport() {
	if !m.ready {
		return
	}
	follow := m.logViewport.AtBottom() || m.logViewport.TotalLineCount() == 0
	m.logViewport.SetContent(m.renderLogContent())
	if follow {
		m.logViewport.GotoBottom()
	}
}

// toggleSelected flips the done flag of the selected task or the active flag
// of the selected sanction.
func (m *Model) toggleSelected() tea.Cmd {
	switch m.view {
	case ViewTasks:
		task, ok := m.selectedTask()
		if !ok || m.stores.Tasks == nil {
			return nil
		}
		label := "complete " + task.Title
		if task.Done {
			label = "reopen " + task.Title
		}
		tasks := m.stores.Tasks
		return m.write(tasks.Name()+":"+task.ID, label, func(ctx context.Context) error {
			_, err := tasks.Update(ctx, task.ID, api.Patch{"done": !task.Done})
			return err
		})
	case ViewSanctions:
		sanction, ok := m.selectedSanction()
		if !ok || m.stores.Sanctions == nil {
			return nil
		}
		label := "lift " + sanction.Title
		if !sanction.Active {
			label = "reinstate " + sanction.Title
		}
		sanctions := m.stores.Sanctions
		return m.write(sanctions.Name()+":"+sanction.ID, label, func(ctx context.Context) error {
			_, err := sanctions.Update(ctx, sanction.ID, api.Patch{"active": !sanction.Active})
			return err
		})
	}
	return nil
}

func (m *Model) deleteSelected() tea.Cmd {
	switch m.view {
	case ViewTasks:
		task, ok := m.selectedTask()
		if !ok || m.stores.Tasks == nil {
			return nil
		}
		tasks := m.stores.Tasks
		return m.write(tasks.Name()+":"+task.ID, "delete "+task.Title, func(ctx context.Context) error {
			return tasks.Delete(ctx, task.ID)
		})
	case ViewEvents:
		events := m.sortedEvents()
		i := m.selected[ViewEvents]
		if i < 0 || i >= len(events) || m.stores.Events == nil {
			return nil
		}
		ev := events[i]
		store := m.stores.Events
		return m.write(store.Name()+":"+ev.ID, "delete "+ev.Title, func(ctx context.Context) error {
			return store.Delete(ctx, ev.ID)
		})
	case ViewSanctions:
		sanction, ok := m.selectedSanction()
		if !ok || m.stores.Sanctions == nil {
			return nil
		}
		sanctions := m.stores.Sanctions
		return m.write(sanctions.Name()+":"+sanction.ID, "delete "+sanction.Title, func(ctx context.Context) error {
			return sanctions.Delete(ctx, sanction.ID)
		})
	}
	return nil
}

// write reserves entity and returns the command that performs fn. It returns
// nil while an earlier write to the same entity is still in flight.
func (m *Model) write(entity, label string, fn func(ctx context.Context) error) tea.Cmd {
	if _, busy := m.saving[entity]; busy {
		m.setFlash("Still saving, try again: "+label, false)
		return nil
	}
	m.saving[entity] = struct{}{}
	return updateCmd(m.ctx, entity, label, fn)
}

// Messages

type tickMsg time.Time

type changedMsg struct{}

type actionMsg struct {
	label  string
	entity string
	err    error
}

func (a actionMsg) describe() string {
	if a.err == nil {
		return "Done: " + a.label
	}
	var syncErr *manager.SyncError
	switch {
	case errors.Is(a.err, manager.ErrOffline):
		return "Offline: " + a.label + " skipped"
	case errors.As(a.err, &syncErr):
		names := make([]string, 0, len(syncErr.Failures))
		for _, f := range syncErr.Failures {
			names = append(names, f.Store)
		}
		return fmt.Sprintf("%s: %d/%d stores failed (%s)", a.label, len(syncErr.Failures), syncErr.Total, strings.Join(names, ", "))
	default:
		return "Failed to " + a.label + ": " + a.err.Error()
	}
}

type logsMsg struct {
	entries []logtail.Entry
	err     error
}

// Commands

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func refreshCmd(ctx context.Context, s Syncer) tea.Cmd {
	return func() tea.Msg {
		return actionMsg{label: "refresh", err: s.RefreshAll(ctx)}
	}
}

func invalidateCmd(ctx context.Context, s Syncer) tea.Cmd {
	return func() tea.Msg {
		s.InvalidateAll()
		return actionMsg{label: "resync", err: s.PerformIntelligentSync(ctx)}
	}
}

func updateCmd(ctx context.Context, entity, label string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return actionMsg{label: label, entity: entity, err: fn(ctx)}
	}
}

func (m Model) readLogsCmd() tea.Cmd {
	path := m.logPath
	if path == "" {
		return nil
	}
	return func() tea.Msg {
		lines, err := logtail.Read(path, logTailLines)
		if err != nil {
			return logsMsg{err: err}
		}
		return logsMsg{entries: logtail.ParseLines(lines)}
	}
}

// Run starts the Bubble Tea program and blocks until the user quits or ctx is
// done.
func Run(opts Options) error {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	opts.Context = ctx

	m := New(opts)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithReportFocus(), tea.WithContext(ctx))

	// Coalesce change notifications so store writers never block on the UI.
	changed := make(chan struct{}, 1)
	redraw := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}
	for _, subscribe := range opts.OnChange {
		if subscribe != nil {
			defer subscribe(redraw)()
		}
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-changed:
				p.Send(changedMsg{})
			}
		}
	}()

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
