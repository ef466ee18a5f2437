package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/mattn/go-isatty"
)

// startupLog prints the progress of `vigil run` and `vigil dry-run` before
// the daemon loop takes over. Waits show a spinner on a terminal.
type startupLog struct {
	mu    sync.Mutex
	w     io.Writer
	isTTY bool
}

func newStartupLog(w io.Writer, isTTY bool) *startupLog {
	return &startupLog{w: w, isTTY: isTTY}
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (s *startupLog) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format, args...)
}

// Step prints a finished step.
func (s *startupLog) Step(msg string) { s.printf("✓ %s\n", msg) }

// StepTimed prints a finished step and how long it took.
func (s *startupLog) StepTimed(msg string, d time.Duration) {
	s.printf("✓ %s (%s)\n", msg, d.Round(time.Millisecond))
}

// Warn prints a step that finished with a problem.
func (s *startupLog) Warn(msg string) { s.printf("! %s\n", msg) }

// StartSpinner shows msg until the returned stop function is called, which
// marks it done. Without a terminal msg is printed once, then the mark.
func (s *startupLog) StartSpinner(msg string) func() {
	if !s.isTTY {
		s.printf("%s\n", msg)
		return func() { s.Step(msg) }
	}

	sp := spinner.MiniDot
	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		ticker := time.NewTicker(sp.FPS)
		defer ticker.Stop()
		for i := 0; ; i = (i + 1) % len(sp.Frames) {
			select {
			case <-done:
				return
			case <-ticker.C:
				s.printf("\r%s %s", sp.Frames[i], msg)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-finished
			s.printf("\r✓ %s\n", msg)
		})
	}
}
