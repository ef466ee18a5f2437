// Package mode owns the process-wide operating mode and the backend
// selection that follows from it.
//
// The controller is a small state machine over health snapshots:
//
//	PRIMARY   primary reasoner available
//	FALLBACK  primary unavailable, secondary reasoner available
//	DEGRADED  no reasoner available; only direct decisions reach the
//	          delegated execution backend
//
// Failure-driven transitions happen on the first snapshot that shows the
// failure. Recovery-driven transitions wait until the current mode has been
// held for at least MinDwell, so the mode never flips faster than the health
// check interval.
package mode

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"vigil/pkg/logging"
	"vigil/pkg/protocol"

	"go.uber.org/zap"
)

// Backends names the backend ids the controller selects between.
type Backends struct {
	PrimaryReasoner   string
	SecondaryReasoner string // empty when not configured
	DirectExecutor    string
	DelegateExecutor  string
}

// Config configures the controller.
type Config struct {
	Backends      Backends
	PreferPrimary bool
	MinDwell      time.Duration // normally the health check interval
}

// Selection is the pair of backends a mode uses.
type Selection struct {
	Reasoner string // empty in DEGRADED
	Executor string
}

type state struct {
	mode  protocol.Mode
	since time.Time
}

// Controller is the single owner of the operating mode. Evaluate is called
// from one goroutine; Mode and Selection are safe from any goroutine.
type Controller struct {
	cfg    Config
	logger *zap.Logger

	current atomic.Pointer[state]

	subMu sync.Mutex
	subs  []chan protocol.Transition
	hooks []func(protocol.Transition)

	nowFunc func() time.Time
}

// New creates a controller in PRIMARY. The first Evaluate corrects the mode
// immediately if the primary is not available.
func New(cfg Config, logger *zap.Logger) *Controller {
	c := &Controller{
		cfg:     cfg,
		logger:  logging.OrNop(logger).Named("mode"),
		nowFunc: time.Now,
	}
	c.current.Store(&state{mode: protocol.ModePrimary})
	return c
}

// Mode returns the current mode.
func (c *Controller) Mode() protocol.Mode { return c.current.Load().mode }

// Since returns when the current mode was entered (zero before the first
// transition).
func (c *Controller) Since() time.Time { return c.current.Load().since }

// Subscribe returns a channel that receives every transition. Slow
// subscribers miss transitions rather than blocking the controller.
func (c *Controller) Subscribe() <-chan protocol.Transition {
	ch := make(chan protocol.Transition, 16)
	c.subMu.Lock()
	c.subs = append(c.subs, ch)
	c.subMu.Unlock()
	return ch
}

// OnTransition registers a hook run synchronously for every transition.
func (c *Controller) OnTransition(fn func(protocol.Transition)) {
	c.subMu.Lock()
	c.hooks = append(c.hooks, fn)
	c.subMu.Unlock()
}

// --- State machine ---

// Evaluate applies the transition rules to a health snapshot. It returns the
// transition taken, if any.
func (c *Controller) Evaluate(snapshot []protocol.BackendHealth) (protocol.Transition, bool) {
	cur := c.current.Load()
	now := c.nowFunc()

	next, reason, recovery := c.next(cur.mode, snapshot)
	if next == cur.mode {
		return protocol.Transition{}, false
	}
	if recovery && !cur.since.IsZero() && now.Sub(cur.since) < c.cfg.MinDwell {
		c.logger.Debug("recovery transition held for dwell",
			zap.String("from", string(cur.mode)),
			zap.String("to", string(next)),
			zap.Duration("remaining", c.cfg.MinDwell-now.Sub(cur.since)))
		return protocol.Transition{}, false
	}

	snap := make([]protocol.BackendHealth, len(snapshot))
	copy(snap, snapshot)
	tr := protocol.Transition{From: cur.mode, To: next, At: now, Reason: reason, Snapshot: snap}
	c.current.Store(&state{mode: next, since: now})

	c.logger.Info("mode transition",
		zap.String("from", string(tr.From)),
		zap.String("to", string(tr.To)),
		zap.String("reason", tr.Reason),
		zap.Any("health", tr.Snapshot))
	c.publish(tr)
	return tr, true
}

// next computes the target mode. recovery is true when the move is towards
// a more capable mode, or between reasoners while the current one is healthy.
func (c *Controller) next(cur protocol.Mode, snapshot []protocol.BackendHealth) (protocol.Mode, string, bool) {
	primary, primaryOK := lookup(snapshot, c.cfg.Backends.PrimaryReasoner)
	secondary, secondaryOK := lookup(snapshot, c.cfg.Backends.SecondaryReasoner)
	primaryOK = primaryOK && primary.Available
	secondaryOK = secondaryOK && secondary.Available

	switch cur {
	case protocol.ModePrimary:
		switch {
		case primaryOK:
			return cur, "", false
		case secondaryOK:
			return protocol.ModeFallback, fmt.Sprintf("primary %s unavailable (%d consecutive failures); secondary %s available",
				primary.BackendID, primary.ConsecutiveFailures, secondary.BackendID), false
		default:
			return protocol.ModeDegraded, "no reasoning backend available", false
		}

	case protocol.ModeFallback:
		switch {
		case !secondaryOK && primaryOK:
			return protocol.ModePrimary, fmt.Sprintf("secondary %s unavailable; primary available", secondary.BackendID), false
		case !secondaryOK:
			return protocol.ModeDegraded, "no reasoning backend available", false
		case primaryOK && c.cfg.PreferPrimary:
			return protocol.ModePrimary, "primary recovered (prefer_primary)", true
		default:
			return cur, "", false
		}

	default: // DEGRADED
		switch {
		case primaryOK:
			return protocol.ModePrimary, "primary recovered", true
		case secondaryOK:
			return protocol.ModeFallback, "secondary recovered", true
		default:
			return cur, "", false
		}
	}
}

func (c *Controller) publish(tr protocol.Transition) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for _, fn := range c.hooks {
		fn(tr)
	}
	for _, ch := range c.subs {
		select {
		case ch <- tr:
		default:
			c.logger.Warn("transition subscriber full, dropping", zap.String("to", string(tr.To)))
		}
	}
}

// --- Selection ---

// Selection returns the reasoner and executor a mode uses. PRIMARY runs
// actions on the direct executor unless it is unhealthy; FALLBACK and
// DEGRADED hand actions to the delegated executor. DEGRADED never has a
// reasoner, but always has an executor.
func (c *Controller) Selection(m protocol.Mode, snapshot []protocol.BackendHealth) Selection {
	b := c.cfg.Backends
	switch m {
	case protocol.ModePrimary:
		exec := b.DelegateExecutor
		if h, ok := lookup(snapshot, b.DirectExecutor); ok && h.Available {
			exec = b.DirectExecutor
		}
		return Selection{Reasoner: b.PrimaryReasoner, Executor: exec}
	case protocol.ModeFallback:
		return Selection{Reasoner: b.SecondaryReasoner, Executor: b.DelegateExecutor}
	default:
		return Selection{Executor: b.DelegateExecutor}
	}
}

func lookup(snapshot []protocol.BackendHealth, id string) (protocol.BackendHealth, bool) {
	if id == "" {
		return protocol.BackendHealth{}, false
	}
	for _, h := range snapshot {
		if h.BackendID == id {
			return h, true
		}
	}
	return protocol.BackendHealth{BackendID: id}, false
}
