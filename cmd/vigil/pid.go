package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
)

// processState is the liveness of the daemon as seen through its PID file.
type processState string

const (
	// procRunning means the PID file names a live process.
	procRunning processState = "running"
	// procStopped means there is no PID file.
	procStopped processState = "stopped"
	// procStale means the PID file names a dead process.
	procStale processState = "stale"
)

// pidFile is the path of the daemon's PID file.
type pidFile string

func (p pidFile) read() (int, error) {
	data, err := os.ReadFile(string(p)) //nolint:gosec // path comes from Paths
	if err != nil {
		return 0, fmt.Errorf("read PID file %s: %w", p, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("parse PID from %s: %q", p, strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// remove deletes the file; a missing file is not an error.
func (p pidFile) remove() error {
	if err := os.Remove(string(p)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove PID file %s: %w", p, err)
	}
	return nil
}

// state reports whether the recorded process is alive, and its PID.
func (p pidFile) state() (processState, int, error) {
	pid, err := p.read()
	switch {
	case errors.Is(err, os.ErrNotExist):
		return procStopped, 0, nil
	case err != nil:
		return procStopped, 0, err
	case processAlive(pid):
		return procRunning, pid, nil
	default:
		return procStale, pid, nil
	}
}

// claim records pid with an exclusive create. A file left by a dead process
// is replaced; a live one is an error.
func (p pidFile) claim(pid int) error {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(string(p), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(pid))
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				_ = p.remove()
				return fmt.Errorf("write PID file %s: %w", p, werr)
			}
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create PID file %s: %w", p, err)
		}

		state, other, err := p.state()
		if err != nil {
			// Unreadable contents count as stale.
			state = procStale
		}
		if state == procRunning {
			return fmt.Errorf("vigil is already running (PID %d)", other)
		}
		if err := p.remove(); err != nil {
			return err
		}
	}
	return fmt.Errorf("claim PID file %s: lost race with another daemon", p)
}

// terminate sends SIGTERM to the recorded process.
func (p pidFile) terminate() error {
	pid, err := p.read()
	if err != nil {
		return fmt.Errorf("stop daemon: %w", err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("send SIGTERM to PID %d: %w", pid, err)
	}
	return nil
}

// processAlive checks pid with signal 0.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// withShutdownSignals returns a context cancelled on SIGTERM or SIGINT. The
// release function stops signal delivery and removes the PID file; callers
// defer it.
func withShutdownSignals(parent context.Context, p pidFile) (context.Context, func()) {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	return ctx, func() {
		stop()
		_ = p.remove()
	}
}
