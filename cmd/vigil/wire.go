package main

import (
	"context"
	"database/sql"
	"fmt"

	"vigil/pkg/config"
	"vigil/pkg/daemon"
	"vigil/pkg/evaluator"
	"vigil/pkg/eventlog"
	"vigil/pkg/executor"
	"vigil/pkg/health"
	"vigil/pkg/mode"
	"vigil/pkg/observer"
	"vigil/pkg/outcome"
	"vigil/pkg/protocol"
	"vigil/pkg/reasoner"
	"vigil/pkg/workspace"

	"go.uber.org/zap"
)

// runOptions are the per-invocation knobs of run and dry-run.
type runOptions struct {
	DryRun    bool
	MaxCycles int
}

// wireDaemon builds every component from cfg around an open state database.
func wireDaemon(ctx context.Context, cfg *config.Config, db *sql.DB, ro runOptions, logger *zap.Logger) (*daemon.Daemon, error) {
	backends, err := buildBackends(ctx, cfg)
	if err != nil {
		return nil, err
	}

	monitor := health.New(health.Config{
		Interval:     cfg.Health.Interval.D(),
		ProbeTimeout: cfg.Health.ProbeTimeout.D(),
		RetryCount:   cfg.Health.RetryCount,
	}, logger, backends.targets()...)

	ctrl := mode.New(mode.Config{
		Backends:      modeBackends(cfg),
		PreferPrimary: cfg.PreferPrimary(),
		MinDwell:      cfg.Health.Interval.D(),
	}, logger)

	rsn := reasoner.New(reasoner.Config{
		ProbeTimeout:    cfg.Health.ProbeTimeout.D(),
		PrimaryTimeout:  cfg.Reasoner.PrimaryTimeout.D(),
		FallbackTimeout: cfg.Reasoner.FallbackTimeout.D(),
		MaxAttempts:     cfg.Reasoner.MaxAttempts,
	}, func(m protocol.Mode) string {
		return ctrl.Selection(m, monitor.Snapshot()).Reasoner
	}, monitor, logger, backends.reasoners...)

	eval, err := evaluator.New(evaluator.Config{
		MinConfidence: cfg.Evaluator.MinConfidenceToAct,
		DeferBand:     cfg.DeferBand(),
		DeferWindow:   cfg.Evaluator.DeferWindow.D(),
		DeferMemory:   cfg.Evaluator.DeferMemory,
		MaxConcurrent: cfg.Evaluator.MaxConcurrentTasks,
		MaxStep:       cfg.Calibration.Step,
		MinThreshold:  cfg.Calibration.MinThreshold,
		MaxThreshold:  cfg.Calibration.MaxThreshold,
	}, logger)
	if err != nil {
		return nil, err
	}

	tracker := outcome.New(db, outcome.Config{
		Every:           cfg.Calibration.Every,
		Window:          cfg.Calibration.Window,
		Step:            cfg.Calibration.Step,
		TargetPrecision: cfg.Calibration.TargetPrecision,
		Retention:       cfg.Calibration.Retention,
	}, logger)

	degraded := make([]protocol.ActionKind, len(cfg.Executor.DegradedKinds))
	for i, k := range cfg.Executor.DegradedKinds {
		degraded[i] = protocol.ActionKind(k)
	}
	exec := executor.New(executor.Config{
		Timeout:       cfg.Executor.Timeout.D(),
		MaxConcurrent: cfg.Evaluator.MaxConcurrentTasks,
		Policy: executor.Policy{
			KBRoot:        cfg.KBRoot,
			Allow:         cfg.Executor.Allow,
			Deny:          cfg.Executor.Deny,
			DegradedKinds: degraded,
		},
	}, tracker, logger, backends.executors...)

	obs := observer.New(observer.Config{
		Base:            cfg.KBRoot,
		Debounce:        cfg.Watch.Debounce.D(),
		VCSPollInterval: cfg.Watch.VCSPollInterval.D(),
	}, &executor.ExecCommandRunner{}, logger)

	ws := workspace.New(workspace.Config{
		Capacity:      cfg.Workspace.Capacity,
		DecayRate:     cfg.Workspace.DecayRate,
		SalienceFloor: cfg.SalienceFloor(),
	})

	d := daemon.New(daemon.Config{
		CycleInterval: cfg.CycleInterval.D(),
		WatchPaths:    cfg.Watch.Paths,
		Ignore:        cfg.Watch.Ignore,
		DryRun:        ro.DryRun,
		MaxCycles:     ro.MaxCycles,
	}, daemon.Deps{
		DB:        db,
		Source:    obs,
		Workspace: ws,
		Health:    monitor,
		Mode:      ctrl,
		Reasoner:  rsn,
		Evaluator: eval,
		Executor:  exec,
		Outcomes:  tracker,
		Events:    eventlog.NewWriter(db),
	}, logger)

	return d, nil
}

// modeBackends maps the configured slots onto the controller's backend ids.
// Disabled slots map to "".
func modeBackends(cfg *config.Config) mode.Backends {
	id := func(b config.BackendConfig) string {
		if !b.Enabled() {
			return ""
		}
		return b.ID
	}
	return mode.Backends{
		PrimaryReasoner:   id(cfg.Backends.Primary),
		SecondaryReasoner: id(cfg.Backends.Secondary),
		DirectExecutor:    id(cfg.Backends.Direct),
		DelegateExecutor:  id(cfg.Backends.Delegate),
	}
}

// openStateDB opens (creating if needed) the state database for writing.
func openStateDB(ctx context.Context, paths *Paths) (*sql.DB, error) {
	if err := paths.EnsureHome(); err != nil {
		return nil, err
	}
	db, err := eventlog.Open(ctx, paths.StateDBPath)
	if err != nil {
		return nil, fmt.Errorf("state database: %w", err)
	}
	return db, nil
}
