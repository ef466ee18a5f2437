// Package executor dispatches gated actions to execution backends under a
// safety policy, a wall-clock timeout and a concurrency bound, and forwards
// every result to the outcome tracker.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"vigil/pkg/logging"
	"vigil/pkg/protocol"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Outcome is what an execution backend reports.
type Outcome struct {
	Status protocol.Status
	Output string
}

// Backend is an execution backend.
type Backend interface {
	ID() string
	Dispatch(ctx context.Context, action protocol.Action) (Outcome, error)
	Probe(ctx context.Context) error
}

// Recorder receives every execution result.
type Recorder interface {
	Record(ctx context.Context, d protocol.Decision, r protocol.ExecutionResult) (protocol.OutcomeRecord, error)
}

// Config configures the Executor.
type Config struct {
	Timeout       time.Duration // hard wall-clock limit per dispatch (default 300s)
	MaxConcurrent int           // simultaneous dispatches (default 2)
	Policy        Policy
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 300 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 2
	}
	return c
}

// outputLimit caps the output kept on a result.
const outputLimit = 16 * 1024

// Executor dispatches actions.
type Executor struct {
	cfg      Config
	backends map[string]Backend
	sem      *semaphore.Weighted
	recorder Recorder
	logger   *zap.Logger

	nowFunc func() time.Time
}

// New creates an Executor. recorder may be nil, in which case Execute only
// dispatches.
func New(cfg Config, recorder Recorder, logger *zap.Logger, backends ...Backend) *Executor {
	cfg = cfg.withDefaults()
	e := &Executor{
		cfg:      cfg,
		backends: make(map[string]Backend, len(backends)),
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		recorder: recorder,
		logger:   logging.OrNop(logger).Named("executor"),
		nowFunc:  time.Now,
	}
	for _, b := range backends {
		e.backends[b.ID()] = b
	}
	return e
}

// Backend returns a registered backend.
func (e *Executor) Backend(id string) (Backend, bool) {
	b, ok := e.backends[id]
	return b, ok
}

// Execute dispatches the decision's action and records the result. Exactly
// one result is produced and recorded per call.
func (e *Executor) Execute(ctx context.Context, d protocol.Decision, m protocol.Mode, backendID string) protocol.ExecutionResult {
	res := e.Dispatch(ctx, d.ProposedAction, m, backendID)
	if e.recorder == nil {
		return res
	}
	// Recording must survive the cancellation that may have ended dispatch.
	if _, err := e.recorder.Record(context.WithoutCancel(ctx), d, res); err != nil {
		e.logger.Error("record outcome failed",
			zap.String("decision", protocol.ShortID(d.ID)),
			zap.Error(err))
	}
	return res
}

// Dispatch runs one action on backendID and always returns a result: policy
// violations and missing backends become failures, the timeout becomes
// status timeout and parent cancellation becomes a "cancelled" failure.
func (e *Executor) Dispatch(ctx context.Context, a protocol.Action, m protocol.Mode, backendID string) protocol.ExecutionResult {
	start := e.nowFunc()
	result := func(status protocol.Status, output, by string) protocol.ExecutionResult {
		return protocol.ExecutionResult{
			ActionID:   a.ID,
			Status:     status,
			Output:     truncate(output),
			ExecutedBy: by,
			Duration:   e.nowFunc().Sub(start),
		}
	}

	if err := e.cfg.Policy.Check(a, m); err != nil {
		e.logger.Warn("action refused by policy",
			zap.String("action", protocol.DescribeAction(a)),
			zap.String("mode", string(m)),
			zap.Error(err))
		return result(protocol.StatusFailure, err.Error(), protocol.BackendPolicy)
	}

	b, ok := e.backends[backendID]
	if !ok {
		return result(protocol.StatusFailure, fmt.Sprintf("no execution backend %q", backendID), protocol.BackendNone)
	}

	tctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	if err := e.sem.Acquire(tctx, 1); err != nil {
		return e.interrupted(ctx, result, b.ID())
	}

	type reply struct {
		out Outcome
		err error
	}
	done := make(chan reply, 1)
	go func() {
		defer e.sem.Release(1)
		out, err := b.Dispatch(tctx, a)
		done <- reply{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) || errors.Is(r.err, context.Canceled) {
				return e.interrupted(ctx, result, b.ID())
			}
			e.logger.Warn("dispatch failed",
				zap.String("action", protocol.DescribeAction(a)),
				zap.String("backend", b.ID()),
				zap.Error(r.err))
			return result(protocol.StatusFailure, r.err.Error(), b.ID())
		}
		if r.out.Status == "" {
			r.out.Status = protocol.StatusSuccess
		}
		if r.out.Status == protocol.StatusFailure {
			e.logger.Warn("action failed",
				zap.Error(&protocol.ExecutionFailure{ActionID: a.ID, BackendID: b.ID(), Output: truncate(r.out.Output)}))
		}
		return result(r.out.Status, r.out.Output, b.ID())
	case <-tctx.Done():
		return e.interrupted(ctx, result, b.ID())
	}
}

// interrupted distinguishes a parent cancellation from the dispatch timeout.
func (e *Executor) interrupted(parent context.Context, result func(protocol.Status, string, string) protocol.ExecutionResult, by string) protocol.ExecutionResult {
	if parent.Err() != nil {
		return result(protocol.StatusFailure, "cancelled", by)
	}
	return result(protocol.StatusTimeout, fmt.Sprintf("exceeded %v timeout", e.cfg.Timeout), by)
}

// truncate caps s at outputLimit bytes without splitting a rune.
func truncate(s string) string {
	if len(s) <= outputLimit {
		return s
	}
	cut := outputLimit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n[truncated]"
}
