// Package health probes reasoning and execution backends on a fixed
// interval and keeps the single authoritative BackendHealth snapshot.
//
// The Monitor is the only writer of BackendHealth. Live failures observed by
// other components (the reasoner's inference calls) are fed back through
// ReportFailure/ReportSuccess so the counters stay in one place.
package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"vigil/pkg/logging"
	"vigil/pkg/protocol"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// latencyAlpha weights the newest sample in the latency EWMA.
const latencyAlpha = 0.3

// Prober is the minimal capability the monitor needs from a backend.
type Prober interface {
	ID() string
	Probe(ctx context.Context) error
}

// Target registers a backend with the role it plays.
type Target struct {
	Backend Prober
	Role    protocol.Role
}

// Config holds probe timing.
type Config struct {
	Interval     time.Duration // default 30s
	ProbeTimeout time.Duration // default 5s
	RetryCount   int           // failures before a backend is unavailable (default 2)
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.RetryCount <= 0 {
		c.RetryCount = 2
	}
	return c
}

// Monitor probes backends and owns their health records.
type Monitor struct {
	cfg     Config
	logger  *zap.Logger
	targets []Target

	mu    sync.RWMutex
	state map[string]protocol.BackendHealth

	updates chan struct{}
	nowFunc func() time.Time
}

// New creates a Monitor. Every target starts available with zero failures
// until its first probe says otherwise.
func New(cfg Config, logger *zap.Logger, targets ...Target) *Monitor {
	cfg = cfg.withDefaults()
	m := &Monitor{
		cfg:     cfg,
		logger:  logging.OrNop(logger).Named("health"),
		targets: targets,
		state:   make(map[string]protocol.BackendHealth, len(targets)),
		updates: make(chan struct{}, 1),
		nowFunc: time.Now,
	}
	for _, t := range targets {
		id := t.Backend.ID()
		m.state[id] = protocol.BackendHealth{BackendID: id, Role: t.Role, Available: true}
	}
	return m
}

// Config returns the resolved configuration.
func (m *Monitor) Config() Config { return m.cfg }

// --- Probing ---

// Probe runs one bounded probe against b and records the result. A probe
// that ignores its context is abandoned after ProbeTimeout so a hung backend
// cannot stall the caller.
func (m *Monitor) Probe(ctx context.Context, b Prober) protocol.BackendHealth {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	start := m.nowFunc()
	done := make(chan error, 1)
	go func() {
		done <- b.Probe(pctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-pctx.Done():
		err = pctx.Err()
	}
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("probe timed out after %v: %w", m.cfg.ProbeTimeout, err)
	}

	if err != nil {
		return m.record(b.ID(), &protocol.TransientBackendError{BackendID: b.ID(), Op: "probe", Err: err}, 0)
	}
	return m.record(b.ID(), nil, m.nowFunc().Sub(start))
}

// ProbeAll runs one synchronous round over every target.
func (m *Monitor) ProbeAll(ctx context.Context) []protocol.BackendHealth {
	var wg sync.WaitGroup
	for _, t := range m.targets {
		wg.Add(1)
		go func(b Prober) {
			defer wg.Done()
			m.Probe(ctx, b)
		}(t.Backend)
	}
	wg.Wait()
	return m.Snapshot()
}

// Run probes every target on its own goroutine every Interval until ctx is
// cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range m.targets {
		b := t.Backend
		g.Go(func() error {
			m.probeLoop(gctx, b)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("health monitor: %w", err)
	}
	return nil
}

func (m *Monitor) probeLoop(ctx context.Context, b Prober) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx, b)
		}
	}
}

// --- Live reports ---

// ReportFailure counts a failure seen outside a probe (e.g. an inference call).
func (m *Monitor) ReportFailure(backendID string, err error) {
	if _, ok := m.Get(backendID); !ok {
		return
	}
	m.record(backendID, err, 0)
}

// ReportSuccess resets the failure counter after a successful live call.
func (m *Monitor) ReportSuccess(backendID string, latency time.Duration) {
	if _, ok := m.Get(backendID); !ok {
		return
	}
	m.record(backendID, nil, latency)
}

// record is the single write path for BackendHealth.
func (m *Monitor) record(id string, err error, latency time.Duration) protocol.BackendHealth {
	m.mu.Lock()
	h := m.state[id]
	h.BackendID = id
	h.LastChecked = m.nowFunc()
	wasAvailable := h.Available

	if err != nil {
		h.ConsecutiveFailures++
		h.LastError = err.Error()
	} else {
		h.ConsecutiveFailures = 0
		h.LastError = ""
		if h.MeanLatency == 0 {
			h.MeanLatency = latency
		} else {
			h.MeanLatency = time.Duration(latencyAlpha*float64(latency) + (1-latencyAlpha)*float64(h.MeanLatency))
		}
	}
	h.Available = h.ConsecutiveFailures < m.cfg.RetryCount
	m.state[id] = h
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("backend check failed",
			zap.String("backend", id),
			zap.Int("consecutive_failures", h.ConsecutiveFailures),
			zap.Error(err))
	}
	if wasAvailable != h.Available {
		m.logger.Info("backend availability changed",
			zap.String("backend", id),
			zap.Bool("available", h.Available))
	}
	m.notify()
	return h
}

// notify coalesces update signals: a slow reader sees at most one pending.
func (m *Monitor) notify() {
	select {
	case m.updates <- struct{}{}:
	default:
	}
}

// --- Readers ---

// Updates signals that the snapshot changed. Signals coalesce.
func (m *Monitor) Updates() <-chan struct{} { return m.updates }

// Snapshot returns a copy of every record in registration order.
func (m *Monitor) Snapshot() []protocol.BackendHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]protocol.BackendHealth, 0, len(m.targets))
	for _, t := range m.targets {
		out = append(out, m.state[t.Backend.ID()])
	}
	return out
}

// Get returns the record for one backend.
func (m *Monitor) Get(id string) (protocol.BackendHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.state[id]
	return h, ok
}
