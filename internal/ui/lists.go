package ui

import (
	"fmt"
	"slices"
	"strings"

	"github.com/five82/tally/internal/api"
	"github.com/five82/tally/internal/state"
)

// renderContent renders the main content area based on current view.
func (m Model) renderContent() string {
	height := m.contentHeight()
	switch m.view {
	case ViewTasks:
		return m.renderList(m.taskRows(), m.storeBanner(m.tasksMeta()), height)
	case ViewEvents:
		return m.renderList(m.eventRows(), m.storeBanner(m.eventsMeta()), height)
	case ViewSanctions:
		return m.renderList(m.sanctionRows(), m.storeBanner(m.sanctionsMeta()), height)
	case ViewLog:
		return m.logViewport.View()
	default:
		return ""
	}
}

// storeMeta is the fetch bookkeeping of one store, independent of its type.
type storeMeta struct {
	present bool
	hasData bool
	loading bool
	err     string
}

func metaOf[T any](snap state.SyncState[T]) storeMeta {
	return storeMeta{present: true, hasData: snap.HasData, loading: snap.Loading, err: snap.Error}
}

func (m Model) tasksMeta() storeMeta {
	if m.stores.Tasks == nil {
		return storeMeta{}
	}
	return metaOf(m.stores.Tasks.Snapshot())
}

func (m Model) eventsMeta() storeMeta {
	if m.stores.Events == nil {
		return storeMeta{}
	}
	return metaOf(m.stores.Events.Snapshot())
}

func (m Model) sanctionsMeta() storeMeta {
	if m.stores.Sanctions == nil {
		return storeMeta{}
	}
	return metaOf(m.stores.Sanctions.Snapshot())
}

// storeBanner is the status line above a list: the last error, or a loading
// or empty-cache notice.
func (m Model) storeBanner(meta storeMeta) string {
	styles := m.theme.Styles()
	switch {
	case !meta.present:
		return styles.FaintText.Render("not configured")
	case meta.err != "":
		return styles.DangerText.Render("! " + truncate(meta.err, m.width-4))
	case meta.loading:
		return styles.InfoText.Render("loading...")
	case !meta.hasData:
		return styles.FaintText.Render("no data yet; press r to refresh")
	default:
		return ""
	}
}

// renderList renders rows with the selected one highlighted, scrolled so the
// selection stays visible.
func (m Model) renderList(rows []string, banner string, height int) string {
	styles := m.theme.Styles()
	lines := make([]string, 0, height)
	if banner != "" {
		lines = append(lines, banner)
		height--
	}
	sel := m.selected[m.view]
	start := 0
	if height > 0 && sel >= height {
		start = sel - height + 1
	}
	for i := start; i < len(rows) && len(lines) < cap(lines); i++ {
		row := padRight(truncate(rows[i], m.width), m.width)
		if i == sel {
			row = styles.Selected.Render(row)
		} else {
			row = styles.Text.Render(row)
		}
		lines = append(lines, row)
	}
	for len(lines) < cap(lines) {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func (m Model) rowCount(v View) int {
	switch v {
	case ViewTasks:
		if m.stores.Tasks != nil {
			return len(m.stores.Tasks.Snapshot().Data)
		}
	case ViewEvents:
		if m.stores.Events != nil {
			return len(m.stores.Events.Snapshot().Data)
		}
	case ViewSanctions:
		if m.stores.Sanctions != nil {
			return len(m.stores.Sanctions.Snapshot().Data)
		}
	}
	return 0
}

func (m Model) selectedTask() (api.Task, bool) {
	if m.stores.Tasks == nil {
		return api.Task{}, false
	}
	tasks := m.stores.Tasks.Snapshot().Data
	i := m.selected[ViewTasks]
	if i < 0 || i >= len(tasks) {
		return api.Task{}, false
	}
	return tasks[i], true
}

func (m Model) selectedSanction() (api.Sanction, bool) {
	if m.stores.Sanctions == nil {
		return api.Sanction{}, false
	}
	sanctions := m.stores.Sanctions.Snapshot().Data
	i := m.selected[ViewSanctions]
	if i < 0 || i >= len(sanctions) {
		return api.Sanction{}, false
	}
	return sanctions[i], true
}

// sortedEvents returns events ordered by start time.
func (m Model) sortedEvents() []api.Event {
	if m.stores.Events == nil {
		return nil
	}
	events := m.stores.Events.Snapshot().Data
	slices.SortStableFunc(events, func(a, b api.Event) int {
		return a.Start.Compare(b.Start)
	})
	return events
}

func (m Model) taskRows() []string {
	if m.stores.Tasks == nil {
		return nil
	}
	tasks := m.stores.Tasks.Snapshot().Data
	rows := make([]string, 0, len(tasks))
	for _, t := range tasks {
		mark := "[ ]"
		if t.Done {
			mark = "[x]"
		}
		row := fmt.Sprintf("%s %s  +%dg +%dxp", mark, padRight(t.Title, 32), t.Gold, t.Exp)
		if t.Due != nil {
			row += "  due " + t.Due.Local().Format("Jan 2 15:04")
		}
		if state.IsTemporary(t.ID) {
			row += "  (saving)"
		}
		rows = append(rows, row)
	}
	return rows
}

func (m Model) eventRows() []string {
	events := m.sortedEvents()
	rows := make([]string, 0, len(events))
	for _, e := range events {
		when := e.Start.Local().Format("Mon Jan 2 15:04")
		if !e.End.IsZero() {
			when += "-" + e.End.Local().Format("15:04")
		}
		row := fmt.Sprintf("%s  %s", padRight(when, 24), e.Title)
		if e.Location != "" {
			row += " @ " + e.Location
		}
		if state.IsTemporary(e.ID) {
			row += "  (saving)"
		}
		rows = append(rows, row)
	}
	return rows
}

func (m Model) sanctionRows() []string {
	if m.stores.Sanctions == nil {
		return nil
	}
	sanctions := m.stores.Sanctions.Snapshot().Data
	rows := make([]string, 0, len(sanctions))
	for _, s := range sanctions {
		status := "lifted"
		if s.Active {
			status = "ACTIVE"
		}
		row := fmt.Sprintf("%-6s %s  -%dg", status, padRight(s.Title, 32), s.Gold)
		if s.Reason != "" {
			row += "  " + s.Reason
		}
		rows = append(rows, row)
	}
	return rows
}

// renderLogContent renders the parsed log tail for the viewport.
func (m Model) renderLogContent() string {
	styles := m.theme.Styles()
	if m.logPath == "" {
		return styles.FaintText.Render("logging to a file is disabled")
	}
	if m.logErr != nil {
		return styles.DangerText.Render("read log: " + m.logErr.Error())
	}
	if len(m.logEntries) == 0 {
		return styles.FaintText.Render("log is empty")
	}
	lines := make([]string, 0, len(m.logEntries))
	for _, e := range m.logEntries {
		line := e.Plain()
		switch strings.ToUpper(e.Level) {
		case "ERROR":
			line = styles.DangerText.Render(line)
		case "WARN":
			line = styles.WarningText.Render(line)
		case "DEBUG":
			line = styles.FaintText.Render(line)
		default:
			line = styles.Text.Render(line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
