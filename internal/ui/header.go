package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// renderMain renders the full UI.
func (m Model) renderMain() string {
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderTabs())
	b.WriteString("\n")
	b.WriteString(m.renderContent())
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

// renderHeader renders the status bar: profile on the left of the sync state.
func (m Model) renderHeader() string {
	styles := m.theme.Styles().WithBackground(m.theme.Surface)
	bg := NewBgStyle(m.theme.Surface)

	parts := []string{bg.Render("tally", styles.Logo)}
	parts = append(parts, m.profileParts(styles, bg)...)
	parts = append(parts, m.syncParts(styles, bg)...)

	return styles.Header.Width(m.width).Render(bg.Join(parts, "  "))
}

func (m Model) profileParts(styles Styles, bg BgStyle) []string {
	if m.stores.Profile == nil {
		return nil
	}
	snap := m.stores.Profile.Snapshot()
	if !snap.HasData {
		if snap.Loading {
			return []string{bg.Render("loading profile...", styles.MutedText)}
		}
		return []string{bg.Render("no profile", styles.FaintText)}
	}
	p := snap.Data
	name := p.Username
	if name == "" {
		name = p.ID
	}
	return []string{
		bg.Render(name, styles.Text.Bold(true)),
		bg.Render("Lv", styles.MutedText) + bg.Space() + bg.Render(fmt.Sprintf("%d", p.Level), styles.AccentText),
		bg.Render(fmt.Sprintf("%dg", p.Gold), styles.WarningText),
		bg.Render(fmt.Sprintf("%d xp", p.Exp), styles.InfoText),
	}
}

func (m Model) syncParts(styles Styles, bg BgStyle) []string {
	if m.sync == nil {
		return nil
	}
	status := m.sync.Status()
	var parts []string
	if status.IsOnline {
		parts = append(parts, bg.Render("● online", styles.SuccessText))
	} else {
		parts = append(parts, bg.Render("○ offline", styles.DangerText))
	}

	switch {
	case status.PendingSync:
		parts = append(parts, bg.Render("syncing", styles.InfoText))
	case status.LastSync.IsZero():
		parts = append(parts, bg.Render("never synced", styles.FaintText))
	default:
		label := "synced " + humanizeDuration(m.now().Sub(status.LastSync))
		if !strings.HasSuffix(label, "now") {
			label += " ago"
		}
		parts = append(parts, bg.Render(label, styles.MutedText))
	}

	if m.loading != nil && m.loading.ShouldShowGlobalLoading() {
		parts = append(parts, styles.StatusStyle("loading").Render("REFRESHING"))
	}
	return parts
}

// renderTabs renders the view switcher line.
func (m Model) renderTabs() string {
	styles := m.theme.Styles()
	tabs := make([]string, 0, viewCount)
	for v := ViewTasks; v < viewCount; v++ {
		label := fmt.Sprintf("%d %s", int(v)+1, titleCase(v.String()))
		if count := m.rowCount(v); v != ViewLog && count > 0 {
			label += fmt.Sprintf(" (%d)", count)
		}
		if v == m.view {
			tabs = append(tabs, styles.ActiveTab.Render(label))
		} else {
			tabs = append(tabs, styles.Tab.Render(label))
		}
	}
	line := lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
	return NewBgStyle(m.theme.SurfaceAlt).FillLine(line, m.width)
}

// renderFooter shows the last action result or the short key help.
func (m Model) renderFooter() string {
	styles := m.theme.Styles()
	if m.flash != "" {
		style := styles.SuccessText
		if m.flashErr {
			style = styles.DangerText
		}
		return styles.Footer.Width(m.width).Render(style.Render(truncate(m.flash, m.width-2)))
	}
	return styles.Footer.Width(m.width).Render(m.help.View(m.keys))
}
