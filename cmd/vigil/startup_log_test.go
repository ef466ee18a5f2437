package main

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestStartupLog_Step(t *testing.T) {
	var buf bytes.Buffer
	log := newStartupLog(&buf, false)

	log.Step("Config loaded")
	log.StepTimed("Daemon stopped", 1500*time.Millisecond)
	log.Warn("Daemon stopped with error")

	out := buf.String()
	for _, want := range []string{"✓ Config loaded", "✓ Daemon stopped (1.5s)", "! Daemon stopped with error"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %q", want, out)
		}
	}
}

func TestStartupLog_SpinnerNonTTY(t *testing.T) {
	var buf bytes.Buffer
	log := newStartupLog(&buf, false)

	stop := log.StartSpinner("Wiring backends")
	stop()

	if got, want := buf.String(), "Wiring backends\n✓ Wiring backends\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestStartupLog_SpinnerTTY(t *testing.T) {
	var buf bytes.Buffer
	log := newStartupLog(&buf, true)

	stop := log.StartSpinner("Wiring backends")
	time.Sleep(200 * time.Millisecond)
	stop()
	stop()

	out := buf.String()
	if !strings.Contains(out, "\r✓ Wiring backends\n") {
		t.Errorf("expected final checkmark, got %q", out)
	}
	if strings.Count(out, "✓") != 1 {
		t.Errorf("stop must be idempotent, got %q", out)
	}
}

func TestIsTerminal_NonFile(t *testing.T) {
	if isTerminal(&bytes.Buffer{}) {
		t.Error("a buffer is never a terminal")
	}
}
