package main

import (
	"vigil/pkg/protocol"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// Theme defines the visual styling for the vigil dashboard.
type Theme struct {
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Success   lipgloss.Color
	Warning   lipgloss.Color
	Error     lipgloss.Color
	Muted     lipgloss.Color
}

// DefaultTheme returns the default theme for vigil-dash.
func DefaultTheme() Theme {
	return Theme{
		Primary:   lipgloss.Color("12"),  // Blue
		Secondary: lipgloss.Color("14"),  // Cyan
		Success:   lipgloss.Color("10"),  // Green
		Warning:   lipgloss.Color("11"),  // Yellow
		Error:     lipgloss.Color("9"),   // Red
		Muted:     lipgloss.Color("240"), // Gray
	}
}

// Styles are the lipgloss styles derived from a Theme.
type Styles struct {
	Title        lipgloss.Style
	SectionTitle lipgloss.Style
	OK           lipgloss.Style
	Warn         lipgloss.Style
	Error        lipgloss.Style
	Muted        lipgloss.Style
	Table        table.Styles
}

// NewStyles builds the dashboard styles for t.
func NewStyles(t Theme) Styles {
	ts := table.DefaultStyles()
	ts.Header = ts.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(t.Muted).
		BorderBottom(true).
		Bold(true).
		Foreground(t.Secondary)
	ts.Selected = ts.Selected.
		Foreground(lipgloss.Color("0")).
		Background(t.Primary).
		Bold(false)

	return Styles{
		Title:        lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		SectionTitle: lipgloss.NewStyle().Bold(true).Foreground(t.Secondary).MarginTop(1),
		OK:           lipgloss.NewStyle().Foreground(t.Success),
		Warn:         lipgloss.NewStyle().Foreground(t.Warning),
		Error:        lipgloss.NewStyle().Foreground(t.Error),
		Muted:        lipgloss.NewStyle().Foreground(t.Muted),
		Table:        ts,
	}
}

// Mode colors an operating mode: green, yellow or red.
func (s Styles) Mode(m protocol.Mode) lipgloss.Style {
	switch m {
	case protocol.ModePrimary:
		return s.OK
	case protocol.ModeFallback:
		return s.Warn
	default:
		return s.Error
	}
}
