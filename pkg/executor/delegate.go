package executor

import (
	"context"
	"fmt"
	"strings"

	"vigil/pkg/protocol"
)

// --- Process abstraction ---

// Process represents a running subprocess.
type Process interface {
	Wait() error
	Kill() error
	Output() (string, error) // read combined output after completion
}

// Spawner starts coding-agent processes.
type Spawner interface {
	Spawn(ctx context.Context, binary, model, prompt, workdir string) (Process, error)
}

// CommandRunner runs a short command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// --- DelegateBackend ---

// DelegateBackend hands actions to a coding-agent CLI running in the
// knowledge-base root (`<binary> -p <prompt> --model <model>`).
type DelegateBackend struct {
	id      string
	binary  string
	model   string
	workdir string
	spawner Spawner
	runner  CommandRunner
}

// NewDelegateBackend creates a delegate backend.
func NewDelegateBackend(id, binary, model, workdir string, spawner Spawner, runner CommandRunner) *DelegateBackend {
	return &DelegateBackend{
		id:      id,
		binary:  binary,
		model:   model,
		workdir: workdir,
		spawner: spawner,
		runner:  runner,
	}
}

// ID implements Backend.
func (d *DelegateBackend) ID() string { return d.id }

// Probe checks the agent CLI is installed and runnable.
func (d *DelegateBackend) Probe(ctx context.Context) error {
	if _, err := d.runner.Run(ctx, d.binary, "--version"); err != nil {
		return fmt.Errorf("delegate %s: %w", d.binary, err)
	}
	return nil
}

// Dispatch spawns the agent and waits for it. The process is killed when ctx
// ends.
func (d *DelegateBackend) Dispatch(ctx context.Context, a protocol.Action) (Outcome, error) {
	if a.Kind == protocol.ActionNoop {
		return Outcome{Status: protocol.StatusSuccess, Output: "noop"}, nil
	}

	proc, err := d.spawner.Spawn(ctx, d.binary, d.model, BuildDelegatePrompt(a), d.workdir)
	if err != nil {
		return Outcome{}, &protocol.TransientBackendError{BackendID: d.id, Op: "dispatch", Err: err}
	}

	done := make(chan error, 1)
	go func() {
		done <- proc.Wait()
	}()

	select {
	case waitErr := <-done:
		out, _ := proc.Output()
		out = strings.TrimSpace(out)
		if waitErr != nil {
			return Outcome{Status: protocol.StatusFailure, Output: fmt.Sprintf("%v\n%s", waitErr, out)}, nil
		}
		return parseDelegateOutput(out), nil
	case <-ctx.Done():
		_ = proc.Kill()
		return Outcome{}, ctx.Err()
	}
}

// parseDelegateOutput treats a final FAILED line as a reported failure.
func parseDelegateOutput(out string) Outcome {
	lines := strings.Split(out, "\n")
	last := strings.ToUpper(strings.TrimSpace(lines[len(lines)-1]))
	if strings.HasPrefix(last, "FAILED") {
		return Outcome{Status: protocol.StatusFailure, Output: out}
	}
	return Outcome{Status: protocol.StatusSuccess, Output: out}
}

// BuildDelegatePrompt renders an action as an agent instruction.
func BuildDelegatePrompt(a protocol.Action) string {
	var b strings.Builder
	b.WriteString("CRITICAL: Do NOT run tasks in the background. Work only inside the current directory.\n\n")

	switch a.Kind {
	case protocol.ActionMutate:
		fmt.Fprintf(&b, "Update the file %s.\n", a.Target)
		if a.Payload != "" {
			b.WriteString("Instructions or new content:\n")
			b.WriteString(a.Payload)
			b.WriteString("\n")
		}
	case protocol.ActionQuery:
		fmt.Fprintf(&b, "Read %s and answer:\n", a.Target)
		if a.Payload != "" {
			b.WriteString(a.Payload)
		} else {
			b.WriteString("Summarize its content.")
		}
		b.WriteString("\n")
	case protocol.ActionAnalyze:
		fmt.Fprintf(&b, "Analyze %s", a.Target)
		if a.Payload != "" {
			fmt.Fprintf(&b, " with this focus: %s", a.Payload)
		}
		b.WriteString(".\nReport problems, inconsistencies and broken links.\n")
	}

	b.WriteString("\nWhen finished, end your reply with a final line DONE, or FAILED: <reason> if you could not do it.\n")
	return b.String()
}
