package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines all keyboard bindings for the application.
type keyMap struct {
	// Global
	Quit       key.Binding
	Help       key.Binding
	CycleTheme key.Binding
	Tab        key.Binding
	ShiftTab   key.Binding

	// View switching
	ViewTasks     key.Binding
	ViewEvents    key.Binding
	ViewSanctions key.Binding
	ViewLog       key.Binding

	// Sync
	Refresh    key.Binding
	Invalidate key.Binding

	// Entity actions
	Toggle key.Binding
	Delete key.Binding

	// Navigation
	Up     key.Binding
	Down   key.Binding
	Top    key.Binding
	Bottom key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() keyMap {
	return keyMap{
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c", "e"),
			key.WithHelp("e", "Quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("h", "?"),
			key.WithHelp("h/?", "Toggle help"),
		),
		CycleTheme: key.NewBinding(
			key.WithKeys("T"),
			key.WithHelp("T", "Cycle theme"),
		),
		Tab: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "Next view"),
		),
		ShiftTab: key.NewBinding(
			key.WithKeys("shift+tab"),
			key.WithHelp("shift+tab", "Previous view"),
		),

		ViewTasks: key.NewBinding(
			key.WithKeys("1"),
			key.WithHelp("1", "Tasks"),
		),
		ViewEvents: key.NewBinding(
			key.WithKeys("2"),
			key.WithHelp("2", "Events"),
		),
		ViewSanctions: key.NewBinding(
			key.WithKeys("3"),
			key.WithHelp("3", "Sanctions"),
		),
		ViewLog: key.NewBinding(
			key.WithKeys("4", "l"),
			key.WithHelp("4/l", "Log"),
		),

		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "Refresh all"),
		),
		Invalidate: key.NewBinding(
			key.WithKeys("R"),
			key.WithHelp("R", "Invalidate caches"),
		),

		Toggle: key.NewBinding(
			key.WithKeys("x", " "),
			key.WithHelp("x", "Toggle done/active"),
		),
		Delete: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "Delete selected"),
		),

		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/up", "Move up"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/down", "Move down"),
		),
		Top: key.NewBinding(
			key.WithKeys("g", "home"),
			key.WithHelp("g", "Go to top"),
		),
		Bottom: key.NewBinding(
			key.WithKeys("G", "end"),
			key.WithHelp("G", "Go to bottom"),
		),
	}
}

// ShortHelp returns key bindings for the footer.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Tab, k.Refresh, k.Toggle, k.Delete, k.Help, k.Quit}
}

// FullHelp returns key bindings for the full help view.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Tab, k.ShiftTab, k.ViewTasks, k.ViewEvents, k.ViewSanctions, k.ViewLog},
		{k.Up, k.Down, k.Top, k.Bottom},
		{k.Refresh, k.Invalidate},
		{k.Toggle, k.Delete},
		{k.CycleTheme, k.Help, k.Quit},
	}
}
