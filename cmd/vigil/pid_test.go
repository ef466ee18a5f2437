package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// deadPID is almost certainly not a running process.
const deadPID = 4000000

func writePID(t *testing.T, p pidFile, pid int) {
	t.Helper()
	if err := os.WriteFile(string(p), []byte(strconv.Itoa(pid)), 0o600); err != nil {
		t.Fatalf("setup PID file: %v", err)
	}
}

func TestPIDFile_ClaimAndRemove(t *testing.T) {
	p := pidFile(filepath.Join(t.TempDir(), "vigil.pid"))

	if err := p.claim(4242); err != nil {
		t.Fatalf("claim: %v", err)
	}
	pid, err := p.read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if pid != 4242 {
		t.Errorf("read = %d, want 4242", pid)
	}

	if err := p.remove(); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := p.remove(); err != nil {
		t.Errorf("second remove should be a no-op, got %v", err)
	}
}

func TestPIDFile_ReadRejectsGarbage(t *testing.T) {
	p := pidFile(filepath.Join(t.TempDir(), "vigil.pid"))
	for _, content := range []string{"not-a-pid", "", "-7"} {
		if err := os.WriteFile(string(p), []byte(content), 0o600); err != nil {
			t.Fatalf("setup: %v", err)
		}
		if _, err := p.read(); err == nil {
			t.Errorf("read(%q): expected parse error", content)
		}
	}
}

func TestPIDFile_State(t *testing.T) {
	p := pidFile(filepath.Join(t.TempDir(), "vigil.pid"))

	t.Run("stopped without PID file", func(t *testing.T) {
		state, pid, err := p.state()
		if err != nil {
			t.Fatalf("state: %v", err)
		}
		if state != procStopped || pid != 0 {
			t.Errorf("state = %q/%d, want stopped/0", state, pid)
		}
	})

	t.Run("running for a live process", func(t *testing.T) {
		writePID(t, p, os.Getpid())
		defer os.Remove(string(p))

		state, pid, err := p.state()
		if err != nil {
			t.Fatalf("state: %v", err)
		}
		if state != procRunning || pid != os.Getpid() {
			t.Errorf("state = %q/%d, want running/%d", state, pid, os.Getpid())
		}
	})

	t.Run("stale for a dead process", func(t *testing.T) {
		writePID(t, p, deadPID)
		defer os.Remove(string(p))

		state, _, err := p.state()
		if err != nil {
			t.Fatalf("state: %v", err)
		}
		if state != procStale {
			t.Errorf("state = %q, want %q", state, procStale)
		}
	})
}

func TestPIDFile_Claim(t *testing.T) {
	dir := t.TempDir()

	t.Run("refuses a live daemon", func(t *testing.T) {
		p := pidFile(filepath.Join(dir, "live.pid"))
		// The test process stands in for another live daemon.
		writePID(t, p, os.Getpid())

		err := p.claim(os.Getpid() + 1)
		if err == nil || !strings.Contains(err.Error(), "already running") {
			t.Errorf("claim error = %v, want already running", err)
		}
		if pid, _ := p.read(); pid != os.Getpid() {
			t.Errorf("live PID file was overwritten with %d", pid)
		}
	})

	t.Run("replaces a stale file", func(t *testing.T) {
		p := pidFile(filepath.Join(dir, "stale.pid"))
		writePID(t, p, deadPID)

		if err := p.claim(os.Getpid()); err != nil {
			t.Fatalf("claim: %v", err)
		}
		if pid, _ := p.read(); pid != os.Getpid() {
			t.Errorf("PID file holds %d, want %d", pid, os.Getpid())
		}
	})

	t.Run("replaces an unreadable file", func(t *testing.T) {
		p := pidFile(filepath.Join(dir, "garbage.pid"))
		if err := os.WriteFile(string(p), []byte("???"), 0o600); err != nil {
			t.Fatalf("setup: %v", err)
		}
		if err := p.claim(4242); err != nil {
			t.Fatalf("claim: %v", err)
		}
	})
}

func TestWithShutdownSignals_ReleaseRemovesPIDFile(t *testing.T) {
	p := pidFile(filepath.Join(t.TempDir(), "vigil.pid"))
	writePID(t, p, os.Getpid())

	ctx, release := withShutdownSignals(context.Background(), p)
	release()

	if ctx.Err() == nil {
		t.Error("expected context to be cancelled by release")
	}
	if _, err := os.Stat(string(p)); !os.IsNotExist(err) {
		t.Error("expected PID file to be removed")
	}
}

func TestStopCmd(t *testing.T) {
	home := t.TempDir()
	clearPathEnv(t)
	t.Setenv("VIGIL_HOME", home)

	run := func() string {
		var buf bytes.Buffer
		cmd := newStopCmd()
		cmd.SetOut(&buf)
		cmd.SetArgs(nil)
		if err := cmd.Execute(); err != nil {
			t.Fatalf("stop: %v", err)
		}
		return buf.String()
	}

	if out := run(); !strings.Contains(out, "not running") {
		t.Errorf("expected 'not running', got %q", out)
	}

	p := pidFile(filepath.Join(home, "vigil.pid"))
	writePID(t, p, deadPID)
	if out := run(); !strings.Contains(out, "stale") {
		t.Errorf("expected 'stale', got %q", out)
	}
	if _, err := os.Stat(string(p)); !os.IsNotExist(err) {
		t.Error("expected stale PID file to be removed")
	}
}
