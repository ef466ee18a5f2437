package executor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// ExecSpawner implements Spawner using os/exec.
type ExecSpawner struct{}

// Spawn starts `<binary> -p <prompt> --model <model>` in workdir.
func (s *ExecSpawner) Spawn(ctx context.Context, binary, model, prompt, workdir string) (Process, error) {
	args := []string{"-p", prompt}
	if model != "" {
		args = append(args, "--model", model)
	}
	//nolint:gosec // binary comes from operator configuration
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = workdir

	out := &syncBuffer{}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", binary, err)
	}
	return &execProcess{cmd: cmd, output: out}, nil
}

// execProcess wraps exec.Cmd to implement Process.
type execProcess struct {
	cmd    *exec.Cmd
	output *syncBuffer
}

func (p *execProcess) Wait() error {
	if err := p.cmd.Wait(); err != nil {
		return fmt.Errorf("wait: %w", err)
	}
	return nil
}

func (p *execProcess) Kill() error {
	if err := p.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill: %w", err)
	}
	return nil
}

func (p *execProcess) Output() (string, error) { return p.output.String(), nil }

// syncBuffer is a strings.Builder safe for concurrent stdout/stderr writes.
type syncBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

// ExecCommandRunner implements CommandRunner using os/exec.
type ExecCommandRunner struct{}

// Run executes a command and returns its stdout as bytes.
func (r *ExecCommandRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if ok := errors.As(err, &exitErr); ok {
			return nil, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, exitErr.Stderr)
		}
		return nil, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}
