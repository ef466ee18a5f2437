package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"vigil/pkg/config"
	"vigil/pkg/eventlog"
	"vigil/pkg/protocol"
)

func TestBuildBackends(t *testing.T) {
	cfg := config.Default()
	cfg.KBRoot = t.TempDir()
	cfg.Backends.Primary = config.BackendConfig{ID: "local", Kind: config.KindStatic}
	cfg.Backends.Secondary = config.BackendConfig{ID: "secondary", Kind: config.KindNone}

	set, err := buildBackends(context.Background(), cfg)
	if err != nil {
		t.Fatalf("buildBackends: %v", err)
	}
	if len(set.reasoners) != 1 || set.reasoners[0].ID() != "local" {
		t.Errorf("reasoners = %v", set.reasoners)
	}
	if len(set.executors) != 2 || set.executors[0].ID() != "direct" || set.executors[1].ID() != "delegate" {
		t.Errorf("executors = %v", set.executors)
	}

	targets := set.targets()
	if len(targets) != 3 {
		t.Fatalf("targets = %d, want 3", len(targets))
	}
	if targets[0].Role != protocol.RoleReasoner || targets[2].Role != protocol.RoleExecutor {
		t.Errorf("roles = %q, %q", targets[0].Role, targets[2].Role)
	}
}

func TestBuildBackends_WrongKindForSlot(t *testing.T) {
	cfg := config.Default()
	cfg.Backends.Primary.Kind = config.KindDirect

	_, err := buildBackends(context.Background(), cfg)
	var cfgErr *protocol.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestModeBackends_DisabledSlotsAreEmpty(t *testing.T) {
	cfg := config.Default()
	cfg.Backends.Secondary.Kind = config.KindNone

	b := modeBackends(cfg)
	if b.PrimaryReasoner != "primary" || b.SecondaryReasoner != "" {
		t.Errorf("reasoners = %q/%q", b.PrimaryReasoner, b.SecondaryReasoner)
	}
	if b.DirectExecutor != "direct" || b.DelegateExecutor != "delegate" {
		t.Errorf("executors = %q/%q", b.DirectExecutor, b.DelegateExecutor)
	}
}

func TestWireDaemon(t *testing.T) {
	cfg := config.Default()
	cfg.KBRoot = t.TempDir()
	cfg.Watch.Paths = []string{cfg.KBRoot}
	cfg.Backends.Primary = config.BackendConfig{ID: "primary", Kind: config.KindStatic}
	cfg.Backends.Delegate = config.BackendConfig{ID: "delegate", Kind: config.KindDirect}

	db, err := eventlog.Open(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	d, err := wireDaemon(context.Background(), cfg, db, runOptions{DryRun: true, MaxCycles: 1}, nil)
	if err != nil {
		t.Fatalf("wireDaemon: %v", err)
	}
	s := d.Snapshot(false)
	if !s.DryRun || s.WorkspaceCapacity != cfg.Workspace.Capacity {
		t.Errorf("snapshot dry_run=%v capacity=%d", s.DryRun, s.WorkspaceCapacity)
	}
	if s.Threshold != cfg.Evaluator.MinConfidenceToAct {
		t.Errorf("Threshold = %v, want %v", s.Threshold, cfg.Evaluator.MinConfidenceToAct)
	}
	if len(s.Health) != 3 {
		t.Errorf("health entries = %d, want 3", len(s.Health))
	}
}
