package executor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"vigil/pkg/protocol"
)

// DirectBackend performs file operations under the knowledge-base root.
type DirectBackend struct {
	id     string
	root   string
	policy Policy
}

// NewDirectBackend creates a backend rooted at root.
func NewDirectBackend(id, root string) *DirectBackend {
	return &DirectBackend{id: id, root: root, policy: Policy{KBRoot: root}}
}

// ID implements Backend.
func (d *DirectBackend) ID() string { return d.id }

// Probe checks the root is still a directory.
func (d *DirectBackend) Probe(context.Context) error {
	info, err := os.Stat(d.root)
	if err != nil {
		return fmt.Errorf("stat knowledge-base root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("knowledge-base root %s is not a directory", d.root)
	}
	return nil
}

// Dispatch implements Backend.
func (d *DirectBackend) Dispatch(ctx context.Context, a protocol.Action) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	if a.Kind == protocol.ActionNoop {
		return Outcome{Status: protocol.StatusSuccess, Output: "noop"}, nil
	}

	rel, err := d.policy.Resolve(a.Target)
	if err != nil {
		return Outcome{Status: protocol.StatusFailure, Output: err.Error()}, nil
	}
	full := filepath.Join(d.root, filepath.FromSlash(rel))

	switch a.Kind {
	case protocol.ActionMutate:
		if err := writeAtomic(full, []byte(a.Payload)); err != nil {
			return Outcome{Status: protocol.StatusFailure, Output: err.Error()}, nil
		}
		return Outcome{Status: protocol.StatusSuccess, Output: fmt.Sprintf("wrote %d bytes to %s", len(a.Payload), rel)}, nil

	case protocol.ActionQuery:
		//nolint:gosec // full is confined to the knowledge-base root by Resolve
		data, err := os.ReadFile(full)
		if err != nil {
			return Outcome{Status: protocol.StatusFailure, Output: describeFSError(rel, err)}, nil
		}
		return Outcome{Status: protocol.StatusSuccess, Output: string(data)}, nil

	case protocol.ActionAnalyze:
		out, err := analyze(full, rel)
		if err != nil {
			return Outcome{Status: protocol.StatusFailure, Output: describeFSError(rel, err)}, nil
		}
		return Outcome{Status: protocol.StatusSuccess, Output: out}, nil

	default:
		return Outcome{Status: protocol.StatusFailure, Output: fmt.Sprintf("unsupported action kind %q", a.Kind)}, nil
	}
}

// writeAtomic writes data to a temp file in the target directory and renames
// it into place, so an interrupted write never leaves a partial file.
func writeAtomic(full string, data []byte) error {
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".vigil-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if info, err := os.Stat(full); err == nil {
		_ = os.Chmod(tmpName, info.Mode().Perm())
	} else {
		_ = os.Chmod(tmpName, 0o644)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func analyze(full, rel string) (string, error) {
	info, err := os.Stat(full)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		entries, err := os.ReadDir(full)
		if err != nil {
			return "", err
		}
		files, dirs := 0, 0
		for _, e := range entries {
			if e.IsDir() {
				dirs++
			} else {
				files++
			}
		}
		return fmt.Sprintf("%s: directory, %d files, %d subdirectories", rel, files, dirs), nil
	}

	//nolint:gosec // full is confined to the knowledge-base root by Resolve
	data, err := os.ReadFile(full)
	if err != nil {
		return "", err
	}
	lines, words := 0, 0
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), len(data)+1)
	for sc.Scan() {
		lines++
		words += len(bytes.Fields(sc.Bytes()))
	}
	return fmt.Sprintf("%s: %d bytes, %d lines, %d words, modified %s",
		rel, info.Size(), lines, words, info.ModTime().UTC().Format("2006-01-02T15:04:05Z")), nil
}

func describeFSError(rel string, err error) string {
	if errors.Is(err, fs.ErrNotExist) {
		return rel + ": not found"
	}
	return err.Error()
}
