package main

import (
	"fmt"
	"strings"
	"time"

	"vigil/pkg/daemon"
	"vigil/pkg/eventlog"
	"vigil/pkg/protocol"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
)

// ViewType represents the dashboard views.
type ViewType int

const (
	// OverviewView shows mode, backends, workspace and in-flight actions.
	OverviewView ViewType = iota
	// EventsView shows the newest event log entries.
	EventsView
)

// Model is the Bubble Tea model for the vigil dashboard.
type Model struct {
	dbPath  string
	watcher *fsnotify.Watcher
	match   func(string) bool

	activeView ViewType

	// Latest read of the state database
	status    *daemon.Status
	events    []eventlog.Event
	alive     bool
	missing   bool
	err       error
	fetchedAt time.Time

	backends  table.Model
	workspace table.Model
	inflight  table.Model
	eventLog  table.Model

	keys   keyMap
	help   help.Model
	styles Styles

	width  int
	height int

	now func() time.Time
}

// newModel creates a Model reading dbPath, with OverviewView active.
func newModel(dbPath string) Model {
	styles := NewStyles(DefaultTheme())

	workspace := newTable(workspaceColumns(), 8, styles)
	workspace.Focus()

	return Model{
		dbPath:     dbPath,
		watcher:    newStateWatcher(dbPath),
		match:      isStateFile(dbPath),
		activeView: OverviewView,
		backends:   newTable(backendColumns(), 5, styles),
		workspace:  workspace,
		inflight:   newTable(inflightColumns(), 4, styles),
		eventLog:   newTable(eventColumns(), 20, styles),
		keys:       defaultKeyMap(),
		help:       help.New(),
		styles:     styles,
		now:        time.Now,
	}
}

// Close releases the file watcher.
func (m Model) Close() {
	if m.watcher != nil {
		_ = m.watcher.Close()
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(fetchCmd(m.dbPath), tickCmd(), waitForChange(m.watcher, m.match))
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.resize()

	case snapshotMsg:
		m.applySnapshot(msg)

	case tickMsg:
		return m, tea.Batch(fetchCmd(m.dbPath), tickCmd())

	case fsChangeMsg:
		return m, tea.Batch(fetchCmd(m.dbPath), waitForChange(m.watcher, m.match))
	}

	return m, nil
}

// applySnapshot stores a fetch result and refreshes the table rows.
func (m *Model) applySnapshot(msg snapshotMsg) {
	m.fetchedAt = msg.at
	m.missing = msg.missing
	m.err = msg.err
	if msg.err != nil {
		// Keep showing the last good read.
		return
	}
	m.status = msg.status
	m.alive = msg.alive
	m.events = msg.events

	if m.status != nil {
		m.backends.SetRows(backendRows(m.status.Health))
		m.workspace.SetRows(workspaceRows(m.status.Workspace))
		m.inflight.SetRows(inflightRows(m.status.InFlight, m.now()))
	} else {
		m.backends.SetRows(nil)
		m.workspace.SetRows(nil)
		m.inflight.SetRows(nil)
	}
	m.eventLog.SetRows(eventRows(m.events))
}

// resize gives the events table whatever height the chrome leaves.
func (m *Model) resize() {
	if h := m.height - 6; h > 3 {
		m.eventLog.SetHeight(h)
	}
}

// handleKeyPress processes keyboard input and returns updated model with optional command.
func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Refresh):
		return m, fetchCmd(m.dbPath)
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.Switch):
		m.switchView()
		return m, nil
	}

	var cmd tea.Cmd
	switch m.activeView {
	case EventsView:
		m.eventLog, cmd = m.eventLog.Update(msg)
	default:
		m.workspace, cmd = m.workspace.Update(msg)
	}
	return m, cmd
}

func (m *Model) switchView() {
	if m.activeView == OverviewView {
		m.activeView = EventsView
		m.workspace.Blur()
		m.eventLog.Focus()
		return
	}
	m.activeView = OverviewView
	m.eventLog.Blur()
	m.workspace.Focus()
}

// View implements tea.Model.
func (m Model) View() string {
	var body string
	switch m.activeView {
	case EventsView:
		body = m.renderEvents()
	default:
		body = m.renderOverview()
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderStatusBar(),
		body,
		m.help.View(m.keys),
	)
}

// renderStatusBar shows process state, mode, threshold and freshness.
func (m Model) renderStatusBar() string {
	s := m.styles
	title := s.Title.Render("vigil")

	if m.missing {
		return title + s.Muted.Render("  waiting for "+m.dbPath)
	}
	if m.status == nil {
		line := title + s.Muted.Render("  no daemon snapshot yet")
		return line + m.renderErr()
	}

	var proc string
	switch {
	case m.alive && m.status.DryRun:
		proc = s.Warn.Render(fmt.Sprintf("dry run (PID %d)", m.status.PID))
	case m.alive:
		proc = s.OK.Render(fmt.Sprintf("online (PID %d)", m.status.PID))
	default:
		proc = s.Error.Render("offline")
	}

	parts := []string{
		title,
		proc,
		"mode " + s.Mode(m.status.Mode).Render(string(m.status.Mode)),
		fmt.Sprintf("threshold %.2f", m.status.Threshold),
		fmt.Sprintf("cycles %d", m.status.Cycles),
		s.Muted.Render("updated " + since(m.now(), m.status.UpdatedAt) + " ago"),
	}
	return strings.Join(parts, "  ") + m.renderErr()
}

func (m Model) renderErr() string {
	if m.err == nil {
		return ""
	}
	return "\n" + m.styles.Error.Render("read failed: "+m.err.Error())
}

// renderOverview renders backends, workspace, in-flight actions and the last decision.
func (m Model) renderOverview() string {
	if m.status == nil {
		return ""
	}
	s := m.styles
	st := m.status

	sections := []string{
		s.SectionTitle.Render(fmt.Sprintf("Backends  reasoner %s, executor %s", orDash(st.Reasoner), orDash(st.Executor))),
		m.backends.View(),
		s.SectionTitle.Render(fmt.Sprintf("Workspace %d/%d", len(st.Workspace), st.WorkspaceCapacity)),
		m.workspace.View(),
	}
	if len(st.InFlight) > 0 {
		sections = append(sections,
			s.SectionTitle.Render(fmt.Sprintf("In flight (%d)", len(st.InFlight))),
			m.inflight.View(),
		)
	}
	sections = append(sections, s.SectionTitle.Render("Last decision"), m.renderLastDecision())
	if st.PendingCommands > 0 {
		sections = append(sections, s.Warn.Render(fmt.Sprintf("%d operator command(s) pending", st.PendingCommands)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderLastDecision() string {
	d := m.status.LastDecision
	if d == nil {
		return m.styles.Muted.Render("none yet")
	}
	line := fmt.Sprintf("%s  %s  conf %.2f by %s, %s ago",
		m.verdictStyle(d.Verdict).Render(string(d.Verdict)),
		d.Action, d.Confidence, d.ProducedBy, since(m.now(), d.At))
	if d.Reason != "" {
		line += "\n" + m.styles.Muted.Render(oneLine(d.Reason))
	}
	return line
}

func (m Model) renderEvents() string {
	title := m.styles.SectionTitle.Render(fmt.Sprintf("Events (newest %d)", len(m.events)))
	return lipgloss.JoinVertical(lipgloss.Left, title, m.eventLog.View())
}

func (m Model) verdictStyle(v protocol.Verdict) lipgloss.Style {
	switch v {
	case protocol.VerdictExecute:
		return m.styles.OK
	case protocol.VerdictDefer:
		return m.styles.Warn
	default:
		return m.styles.Muted
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// since formats the time elapsed from t to now, rounded to seconds.
func since(now, t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t).Round(time.Second)
	if d < 0 {
		d = 0
	}
	return d.String()
}
