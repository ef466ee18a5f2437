package main

import (
	"context"
	"errors"
	"os"
	"syscall"
	"time"

	"vigil/pkg/daemon"
	"vigil/pkg/eventlog"

	tea "github.com/charmbracelet/bubbletea"
)

// eventLimit is how many of the newest events the dashboard keeps.
const eventLimit = 200

// pollInterval refreshes the view when no file change arrives.
const pollInterval = 2 * time.Second

// tickMsg is sent by Bubble Tea on every poll interval.
type tickMsg time.Time

// snapshotMsg carries one read of the state database.
type snapshotMsg struct {
	status  *daemon.Status
	events  []eventlog.Event
	alive   bool
	missing bool // no state database yet
	err     error
	at      time.Time
}

// tickCmd returns a command that sends a tickMsg after pollInterval.
func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchCmd returns a tea.Cmd that reads the status snapshot and recent events.
func fetchCmd(dbPath string) tea.Cmd {
	return func() tea.Msg {
		return fetchSnapshot(context.Background(), dbPath)
	}
}

// fetchSnapshot reads the state database read-only.
func fetchSnapshot(ctx context.Context, dbPath string) snapshotMsg {
	msg := snapshotMsg{at: time.Now()}

	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		msg.missing = true
		return msg
	}

	r, err := eventlog.NewReader(dbPath)
	if err != nil {
		msg.err = err
		return msg
	}
	defer func() { _ = r.Close() }()

	s, err := daemon.ReadStatus(ctx, r.DB())
	switch {
	case errors.Is(err, daemon.ErrNoStatus):
	case err != nil:
		msg.err = err
		return msg
	default:
		msg.status = &s
		msg.alive = s.Running && processAlive(s.PID)
	}

	events, err := r.Query(ctx, eventlog.QueryOpts{Limit: eventLimit})
	if err != nil {
		msg.err = err
		return msg
	}
	msg.events = events
	return msg
}

// processAlive checks whether a process with the given PID is running.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
