package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vigil/pkg/daemon"
	"vigil/pkg/eventlog"
	"vigil/pkg/protocol"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/go-cmp/cmp"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testModel(t *testing.T) Model {
	t.Helper()
	m := newModel(filepath.Join(t.TempDir(), "state.db"))
	t.Cleanup(m.Close)
	m.now = func() time.Time { return testNow }
	return m
}

func sampleStatus() *daemon.Status {
	return &daemon.Status{
		PID:       4242,
		StartedAt: testNow.Add(-time.Hour),
		UpdatedAt: testNow.Add(-3 * time.Second),
		Cycles:    17,
		Running:   true,
		Mode:      protocol.ModeFallback,
		ModeSince: testNow.Add(-time.Minute),
		Reasoner:  "gemini",
		Executor:  "claude",
		Health: []protocol.BackendHealth{
			{BackendID: "ollama", Role: protocol.RoleReasoner, ConsecutiveFailures: 3, LastError: "connection\nrefused"},
			{BackendID: "gemini", Role: protocol.RoleReasoner, Available: true, MeanLatency: 120 * time.Millisecond},
		},
		Workspace: []protocol.WorkspaceItem{
			{Salience: 0.82, Observation: protocol.Observation{Kind: protocol.KindModified, Source: protocol.SourceFilesystem, Path: "notes/a.md"}},
		},
		WorkspaceCapacity: 7,
		Threshold:         0.64,
		PendingCommands:   2,
		LastDecision: &daemon.DecisionSummary{
			Action:     "mutate notes/a.md",
			Confidence: 0.71,
			ProducedBy: "gemini",
			Verdict:    protocol.VerdictExecute,
			Reason:     "confidence above threshold",
			At:         testNow.Add(-10 * time.Second),
		},
	}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T, want Model", next)
	}
	return nm, cmd
}

func TestModel_SnapshotRendersOverview(t *testing.T) {
	m := testModel(t)
	m, _ = update(t, m, snapshotMsg{status: sampleStatus(), alive: true, at: testNow})

	view := m.View()
	for _, want := range []string{
		"online (PID 4242)",
		"mode fallback",
		"threshold 0.64",
		"cycles 17",
		"updated 3s ago",
		"reasoner gemini, executor claude",
		"ollama",
		"connection refused",
		"Workspace 1/7",
		"notes/a.md",
		"mutate notes/a.md",
		"conf 0.71 by gemini, 10s ago",
		"2 operator command(s) pending",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("overview missing %q\n%s", want, view)
		}
	}
	if strings.Contains(view, "In flight") {
		t.Error("in-flight section shown with nothing in flight")
	}
}

func TestModel_Offline(t *testing.T) {
	m := testModel(t)
	s := sampleStatus()
	s.Running = false
	m, _ = update(t, m, snapshotMsg{status: s, alive: false, at: testNow})

	if view := m.View(); !strings.Contains(view, "offline") {
		t.Errorf("expected offline marker, got:\n%s", view)
	}
}

func TestModel_MissingDatabase(t *testing.T) {
	m := testModel(t)
	m, _ = update(t, m, snapshotMsg{missing: true, at: testNow})

	if view := m.View(); !strings.Contains(view, "waiting for") {
		t.Errorf("expected waiting marker, got:\n%s", view)
	}
}

func TestModel_ReadErrorKeepsLastSnapshot(t *testing.T) {
	m := testModel(t)
	m, _ = update(t, m, snapshotMsg{status: sampleStatus(), alive: true, at: testNow})
	m, _ = update(t, m, snapshotMsg{err: errors.New("database is locked"), at: testNow})

	view := m.View()
	if !strings.Contains(view, "read failed: database is locked") {
		t.Errorf("expected read error, got:\n%s", view)
	}
	if !strings.Contains(view, "cycles 17") {
		t.Errorf("expected last snapshot to stay visible, got:\n%s", view)
	}
}

func TestModel_TabSwitchesView(t *testing.T) {
	m := testModel(t)
	events := []eventlog.Event{
		{ID: 2, Type: eventlog.TypeTransition, Source: "mode", Payload: `{"from":"primary",` + "\n" + `"to":"fallback"}`, CreatedAt: testNow},
		{ID: 1, Type: eventlog.TypeObservation, Source: "filesystem", Target: "notes/a.md", CreatedAt: testNow},
	}
	m, _ = update(t, m, snapshotMsg{status: sampleStatus(), alive: true, events: events, at: testNow})

	if m.activeView != OverviewView {
		t.Fatalf("initial view = %v, want OverviewView", m.activeView)
	}

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	if m.activeView != EventsView {
		t.Fatalf("after tab view = %v, want EventsView", m.activeView)
	}
	view := m.View()
	for _, want := range []string{"Events (newest 2)", eventlog.TypeTransition, "notes/a.md", `"to":"fallback"`} {
		if !strings.Contains(view, want) {
			t.Errorf("events view missing %q\n%s", want, view)
		}
	}

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	if m.activeView != OverviewView {
		t.Errorf("second tab view = %v, want OverviewView", m.activeView)
	}
}

func TestModel_Keys(t *testing.T) {
	m := testModel(t)

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected quit cmd")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}

	_, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	if cmd == nil {
		t.Fatal("expected fetch cmd on refresh")
	}
	if msg, ok := cmd().(snapshotMsg); !ok || !msg.missing {
		t.Errorf("refresh returned %#v, want snapshotMsg for a missing database", msg)
	}

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("?")})
	if !m.help.ShowAll {
		t.Error("? did not expand help")
	}
}

func TestModel_TickAndChangeRefetch(t *testing.T) {
	m := testModel(t)

	if _, cmd := update(t, m, tickMsg(testNow)); cmd == nil {
		t.Error("expected commands on tick")
	}
	if _, cmd := update(t, m, fsChangeMsg{}); cmd == nil {
		t.Error("expected commands on fsChangeMsg")
	}
}

func TestModel_WindowSize(t *testing.T) {
	m := testModel(t)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})

	if m.width != 120 || m.height != 40 {
		t.Errorf("size = %dx%d, want 120x40", m.width, m.height)
	}
	if m.help.Width != 120 {
		t.Errorf("help width = %d, want 120", m.help.Width)
	}
}

func TestFetchSnapshot(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "state.db")

	db, err := eventlog.Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s := *sampleStatus()
	s.PID = os.Getpid()
	if err := daemon.WriteStatus(ctx, db, s); err != nil {
		t.Fatalf("write status: %v", err)
	}
	if err := eventlog.NewWriter(db).Append(ctx, eventlog.TypeObservation, "filesystem", "notes/a.md", ""); err != nil {
		t.Fatalf("append: %v", err)
	}

	msg := fetchSnapshot(ctx, dbPath)
	if msg.err != nil {
		t.Fatalf("fetch: %v", msg.err)
	}
	if msg.status == nil {
		t.Fatal("expected a status snapshot")
	}
	if diff := cmp.Diff(&s, msg.status); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
	if !msg.alive {
		t.Error("expected own PID to be alive")
	}
	if len(msg.events) != 1 || msg.events[0].Target != "notes/a.md" {
		t.Errorf("events = %+v", msg.events)
	}
}

func TestFetchSnapshot_NoStatusYet(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "state.db")

	db, err := eventlog.Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	msg := fetchSnapshot(ctx, dbPath)
	if msg.err != nil || msg.missing {
		t.Fatalf("fetch = %+v, want empty snapshot", msg)
	}
	if msg.status != nil {
		t.Errorf("status = %+v, want nil", msg.status)
	}
}

func TestProcessAlive(t *testing.T) {
	if !processAlive(os.Getpid()) {
		t.Error("own process reported dead")
	}
	if processAlive(0) {
		t.Error("PID 0 reported alive")
	}
}
