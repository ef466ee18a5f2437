// Package reasoner turns the focused workspace into a single proposed
// Decision by asking the reasoning backend the current mode selects.
//
// Inference never fails from the caller's point of view: a backend error,
// an exhausted budget or unusable model output all yield a zero-confidence
// noop Decision, which the evaluator always discards.
package reasoner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vigil/pkg/logging"
	"vigil/pkg/protocol"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Proposal is what a reasoning backend returns.
type Proposal struct {
	Action     protocol.Action
	Confidence float64
	Rationale  string
}

// Backend is a reasoning backend.
type Backend interface {
	ID() string
	Request(ctx context.Context, items []protocol.WorkspaceItem) (Proposal, error)
	Probe(ctx context.Context) error
}

// HealthReporter receives the outcome of every live inference call.
type HealthReporter interface {
	ReportFailure(backendID string, err error)
	ReportSuccess(backendID string, latency time.Duration)
}

// SelectFunc maps a mode onto the id of the reasoner it uses ("" for none).
type SelectFunc func(protocol.Mode) string

// Config holds per-mode budgets.
type Config struct {
	ProbeTimeout    time.Duration // default 5s
	PrimaryTimeout  time.Duration // default 60s
	FallbackTimeout time.Duration // default 120s
	MaxAttempts     int           // default 2
	BaseBackoff     time.Duration // default 250ms
}

func (c Config) withDefaults() Config {
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.PrimaryTimeout <= 0 {
		c.PrimaryTimeout = 60 * time.Second
	}
	if c.FallbackTimeout <= 0 {
		c.FallbackTimeout = 120 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 2
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 250 * time.Millisecond
	}
	return c
}

// Reasoner dispatches inference to the selected backend.
type Reasoner struct {
	cfg      Config
	backends map[string]Backend
	selectFn SelectFunc
	health   HealthReporter
	logger   *zap.Logger

	nowFunc func() time.Time
}

// New creates a Reasoner. health may be nil.
func New(cfg Config, selectFn SelectFunc, health HealthReporter, logger *zap.Logger, backends ...Backend) *Reasoner {
	r := &Reasoner{
		cfg:      cfg.withDefaults(),
		backends: make(map[string]Backend, len(backends)),
		selectFn: selectFn,
		health:   health,
		logger:   logging.OrNop(logger).Named("reasoner"),
		nowFunc:  time.Now,
	}
	for _, b := range backends {
		r.backends[b.ID()] = b
	}
	return r
}

// Budget returns the total time allowed for one inference in mode m.
func (r *Reasoner) Budget(m protocol.Mode) time.Duration {
	if m == protocol.ModeFallback {
		return r.cfg.ProbeTimeout + r.cfg.FallbackTimeout
	}
	return r.cfg.ProbeTimeout + r.cfg.PrimaryTimeout
}

// Infer proposes one Decision for the focused items.
func (r *Reasoner) Infer(ctx context.Context, focused []protocol.WorkspaceItem, m protocol.Mode) protocol.Decision {
	basedOn := make([]string, len(focused))
	for i, it := range focused {
		basedOn[i] = it.ID()
	}

	if m == protocol.ModeDegraded {
		return protocol.NoopDecision(basedOn, protocol.BackendNone, "degraded: reasoner bypassed", r.nowFunc())
	}
	if len(focused) == 0 {
		return protocol.NoopDecision(basedOn, protocol.BackendNone, "nothing in focus", r.nowFunc())
	}

	id := ""
	if r.selectFn != nil {
		id = r.selectFn(m)
	}
	b, ok := r.backends[id]
	if !ok {
		r.logger.Warn("no reasoning backend for mode", zap.String("mode", string(m)), zap.String("backend", id))
		return protocol.NoopDecision(basedOn, protocol.BackendNone, fmt.Sprintf("no reasoning backend %q", id), r.nowFunc())
	}

	ctx, cancel := context.WithTimeout(ctx, r.Budget(m))
	defer cancel()

	start := r.nowFunc()
	p, err := r.request(ctx, b, focused)
	if err != nil {
		r.report(b.ID(), err)
		r.logger.Warn("inference failed",
			zap.String("backend", b.ID()),
			zap.String("mode", string(m)),
			zap.Error(err))
		return protocol.NoopDecision(basedOn, b.ID(), "inference failed: "+err.Error(), r.nowFunc())
	}
	if r.health != nil {
		r.health.ReportSuccess(b.ID(), r.nowFunc().Sub(start))
	}

	action := p.Action
	action.ID = uuid.NewString()
	d := protocol.Decision{
		ID:             uuid.NewString(),
		BasedOn:        basedOn,
		ProposedAction: action,
		Confidence:     p.Confidence,
		Rationale:      p.Rationale,
		ProducedBy:     b.ID(),
		ProducedAt:     r.nowFunc(),
	}
	r.logger.Debug("decision proposed",
		zap.String("decision", protocol.ShortID(d.ID)),
		zap.String("action", protocol.DescribeAction(action)),
		zap.Float64("confidence", d.Confidence))
	return d
}

// request retries transient failures with exponential backoff inside the
// budget. Invalid proposals are permanent.
func (r *Reasoner) request(ctx context.Context, b Backend, items []protocol.WorkspaceItem) (Proposal, error) {
	var last error
	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		p, err := b.Request(ctx, items)
		if err == nil {
			err = p.validate()
		}
		if err == nil {
			return p, nil
		}

		var perm *PermanentError
		if errors.As(err, &perm) {
			return Proposal{}, err
		}
		last = &protocol.TransientBackendError{BackendID: b.ID(), Op: "request", Err: err}

		if attempt == r.cfg.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return Proposal{}, &protocol.TransientBackendError{BackendID: b.ID(), Op: "request", Err: ctx.Err()}
		case <-time.After(r.cfg.BaseBackoff * time.Duration(1<<attempt)):
		}
	}
	return Proposal{}, last
}

func (r *Reasoner) report(id string, err error) {
	if r.health != nil {
		r.health.ReportFailure(id, err)
	}
}
