// Package daemon drives the Observe, Infer, Decide, Act cycle.
//
// One goroutine owns the cycle. It also applies incoming observations and
// health updates, so workspace mutation, evaluation and mode changes never
// interleave. Health probing runs beside it under the same errgroup; each
// EXECUTE verdict runs on its own goroutine until the executor returns.
package daemon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"vigil/pkg/evaluator"
	"vigil/pkg/eventlog"
	"vigil/pkg/executor"
	"vigil/pkg/health"
	"vigil/pkg/logging"
	"vigil/pkg/mode"
	"vigil/pkg/outcome"
	"vigil/pkg/protocol"
	"vigil/pkg/reasoner"
	"vigil/pkg/workspace"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Source produces observations; *observer.Observer satisfies it.
type Source interface {
	Start(ctx context.Context, paths, ignore []string) (<-chan protocol.Observation, error)
}

// Config controls the cycle.
type Config struct {
	CycleInterval   time.Duration // default 5s
	WatchPaths      []string
	Ignore          []string
	DryRun          bool          // evaluate but never execute
	MaxCycles       int           // stop after this many cycles (0 = run until cancelled)
	ShutdownTimeout time.Duration // wait for in-flight actions on shutdown (default 10s)
}

func (c Config) withDefaults() Config {
	if c.CycleInterval <= 0 {
		c.CycleInterval = 5 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return c
}

// Deps are the components the daemon drives. Source, Events and Outcomes
// may be nil.
type Deps struct {
	DB        *sql.DB
	Source    Source
	Workspace *workspace.Workspace
	Health    *health.Monitor
	Mode      *mode.Controller
	Reasoner  *reasoner.Reasoner
	Evaluator *evaluator.Evaluator
	Executor  *executor.Executor
	Outcomes  *outcome.Tracker
	Events    *eventlog.Writer
}

// inflight is one dispatched action.
type inflight struct {
	decision protocol.Decision
	backend  string
	since    time.Time
	cancel   context.CancelFunc
}

// completion reports a finished action back to the cycle goroutine.
type completion struct {
	decision protocol.Decision
	result   protocol.ExecutionResult
}

// Daemon runs the loop.
type Daemon struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	mu       sync.Mutex
	inflight map[string]*inflight
	wg       sync.WaitGroup

	completions chan completion

	// Owned by the cycle goroutine.
	cycles       int64
	startedAt    time.Time
	lastDecision *DecisionSummary

	nowFunc func() time.Time
}

// New creates a Daemon. Call Run to start it.
func New(cfg Config, deps Deps, logger *zap.Logger) *Daemon {
	return &Daemon{
		cfg:         cfg.withDefaults(),
		deps:        deps,
		logger:      logging.OrNop(logger).Named("daemon"),
		inflight:    make(map[string]*inflight),
		completions: make(chan completion, 64),
		nowFunc:     time.Now,
	}
}

// Run blocks until ctx is cancelled (or MaxCycles cycles have run), then
// waits for in-flight actions and returns.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	d.startedAt = d.nowFunc()

	var observations <-chan protocol.Observation
	if d.deps.Source != nil && len(d.cfg.WatchPaths) > 0 {
		ch, err := d.deps.Source.Start(ctx, d.cfg.WatchPaths, d.cfg.Ignore)
		if err != nil {
			return fmt.Errorf("start observer: %w", err)
		}
		observations = ch
	}

	if d.deps.Outcomes != nil {
		if err := d.deps.Outcomes.Load(ctx); err != nil {
			d.logger.Warn("load outcome history", zap.Error(err))
		}
	}

	d.deps.Health.ProbeAll(ctx)
	d.evaluateMode(ctx)

	// Actions outlive ctx long enough to finish within ShutdownTimeout.
	execCtx, cancelExec := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelExec()

	d.logEvent(ctx, eventlog.TypeDaemonStart, "", map[string]any{
		"pid":     os.Getpid(),
		"mode":    d.deps.Mode.Mode(),
		"dry_run": d.cfg.DryRun,
	})
	d.logger.Info("daemon started",
		zap.String("mode", string(d.deps.Mode.Mode())),
		zap.Duration("cycle_interval", d.cfg.CycleInterval),
		zap.Bool("dry_run", d.cfg.DryRun))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.deps.Health.Run(gctx) })
	g.Go(func() error {
		defer stop()
		return d.loop(gctx, execCtx, observations)
	})
	err := g.Wait()

	d.drain(cancelExec)

	shutdownCtx := context.WithoutCancel(ctx)
	d.writeStatus(shutdownCtx, false)
	d.logEvent(shutdownCtx, eventlog.TypeDaemonStop, "", map[string]any{"cycles": d.cycles})
	d.logger.Info("daemon stopped", zap.Int64("cycles", d.cycles))

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *Daemon) loop(ctx, execCtx context.Context, observations <-chan protocol.Observation) error {
	ticker := time.NewTicker(d.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case obs, ok := <-observations:
			if !ok {
				observations = nil
				continue
			}
			d.deps.Workspace.Submit(obs)
			d.logEvent(ctx, eventlog.TypeObservation, obs.Path, obs)

		case <-d.deps.Health.Updates():
			d.evaluateMode(ctx)

		case c := <-d.completions:
			d.complete(c)

		case <-ticker.C:
			d.cycle(ctx, execCtx)
			if d.cfg.MaxCycles > 0 && d.cycles >= int64(d.cfg.MaxCycles) {
				return nil
			}
		}
	}
}

// cycle runs one pass: mode evaluation, operator inbox, decay, focus,
// inference, evaluation and (asynchronously) execution.
func (d *Daemon) cycle(ctx, execCtx context.Context) {
	d.cycles++
	d.drainCompletions()

	d.evaluateMode(ctx)
	m := d.deps.Mode.Mode()
	sel := d.deps.Mode.Selection(m, d.deps.Health.Snapshot())

	if !d.cfg.DryRun {
		d.drainInbox(ctx, execCtx, m, sel)
	}

	d.deps.Workspace.Tick()
	focused := d.deps.Workspace.Focused()
	dec := d.deps.Reasoner.Infer(ctx, focused, m)
	d.decide(ctx, execCtx, dec, m, sel)

	d.calibrate(ctx)
	d.writeStatus(ctx, true)
}

// --- Decide and act ---

func (d *Daemon) decide(ctx, execCtx context.Context, dec protocol.Decision, m protocol.Mode, sel mode.Selection) {
	if d.judge(ctx, dec) == protocol.VerdictExecute {
		d.act(ctx, execCtx, dec, m, sel)
	}
}

// judge evaluates dec and records the verdict. An EXECUTE verdict holds a
// target reservation that act or Release must end.
func (d *Daemon) judge(ctx context.Context, dec protocol.Decision) protocol.Verdict {
	res := d.deps.Evaluator.Evaluate(dec)
	d.lastDecision = &DecisionSummary{
		ID:         dec.ID,
		Action:     protocol.DescribeAction(dec.ProposedAction),
		Confidence: dec.Confidence,
		ProducedBy: dec.ProducedBy,
		Rationale:  dec.Rationale,
		Verdict:    res.Verdict,
		Reason:     res.Reason,
		At:         d.nowFunc(),
	}

	if dec.ProposedAction.Kind != protocol.ActionNoop {
		d.logEvent(ctx, eventlog.TypeVerdict, dec.ProposedAction.Target, d.lastDecision)
	}
	d.logger.Debug("verdict",
		zap.String("decision", protocol.ShortID(dec.ID)),
		zap.String("action", protocol.DescribeAction(dec.ProposedAction)),
		zap.Float64("confidence", dec.Confidence),
		zap.String("verdict", string(res.Verdict)),
		zap.String("reason", res.Reason))
	return res.Verdict
}

// act runs a decision that was judged EXECUTE.
func (d *Daemon) act(ctx, execCtx context.Context, dec protocol.Decision, m protocol.Mode, sel mode.Selection) {
	if d.cfg.DryRun {
		d.logger.Info("dry run: would execute",
			zap.String("action", protocol.DescribeAction(dec.ProposedAction)),
			zap.String("backend", sel.Executor),
			zap.Float64("confidence", dec.Confidence),
			zap.String("rationale", dec.Rationale))
		d.logEvent(ctx, eventlog.TypeDryRun, dec.ProposedAction.Target, d.lastDecision)
		d.deps.Evaluator.Release(dec.ProposedAction.Target)
		return
	}

	d.dispatch(execCtx, dec, m, sel.Executor)
}

func (d *Daemon) dispatch(execCtx context.Context, dec protocol.Decision, m protocol.Mode, backendID string) {
	actx, cancel := context.WithCancel(execCtx)
	id := dec.ProposedAction.ID

	d.mu.Lock()
	d.inflight[id] = &inflight{decision: dec, backend: backendID, since: d.nowFunc(), cancel: cancel}
	d.mu.Unlock()

	d.logger.Info("executing",
		zap.String("action", protocol.DescribeAction(dec.ProposedAction)),
		zap.String("backend", backendID),
		zap.String("mode", string(m)))

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()

		r := d.deps.Executor.Execute(actx, dec, m, backendID)

		d.mu.Lock()
		delete(d.inflight, id)
		d.mu.Unlock()
		d.deps.Evaluator.Release(dec.ProposedAction.Target)

		// Completions are applied on the cycle goroutine only. The loop and
		// then drain keep receiving, so the send blocks only briefly.
		c := completion{decision: dec, result: r}
		select {
		case d.completions <- c:
			return
		default:
		}
		select {
		case d.completions <- c:
		case <-execCtx.Done():
			d.logger.Warn("completion dropped after shutdown timeout",
				zap.String("action", protocol.DescribeAction(dec.ProposedAction)),
				zap.String("status", string(r.Status)))
		}
	}()
}

// complete applies a finished action: the items it was based on leave the
// workspace and the result goes to the event log.
func (d *Daemon) complete(c completion) {
	d.deps.Workspace.Release(c.decision.BasedOn...)
	d.logEvent(context.Background(), eventlog.TypeResult, c.decision.ProposedAction.Target, c.result)

	level := d.logger.Info
	if c.result.Status != protocol.StatusSuccess {
		level = d.logger.Warn
	}
	level("action finished",
		zap.String("action", protocol.DescribeAction(c.decision.ProposedAction)),
		zap.String("status", string(c.result.Status)),
		zap.String("backend", c.result.ExecutedBy),
		zap.Duration("duration", c.result.Duration))
}

func (d *Daemon) drainCompletions() {
	for {
		select {
		case c := <-d.completions:
			d.complete(c)
		default:
			return
		}
	}
}

// drain waits for in-flight actions, cancelling them once ShutdownTimeout
// has passed.
func (d *Daemon) drain(cancelExec context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(d.cfg.ShutdownTimeout)
	defer timer.Stop()

	for {
		select {
		case <-done:
			d.drainCompletions()
			return
		case c := <-d.completions:
			d.complete(c)
		case <-timer.C:
			d.logger.Warn("shutdown timeout, cancelling in-flight actions", zap.Int("count", len(d.InFlight())))
			cancelExec()
		}
	}
}

// InFlight lists dispatched actions, oldest first.
func (d *Daemon) InFlight() []InFlight {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]InFlight, 0, len(d.inflight))
	for id, f := range d.inflight {
		out = append(out, InFlight{
			ActionID: id,
			Kind:     f.decision.ProposedAction.Kind,
			Target:   f.decision.ProposedAction.Target,
			Backend:  f.backend,
			Since:    f.since,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Since.Before(out[j].Since) })
	return out
}

// --- Mode ---

// evaluateMode applies the latest health snapshot. On a transition,
// in-flight actions on an executor the new mode no longer selects are
// cancelled.
func (d *Daemon) evaluateMode(ctx context.Context) {
	snap := d.deps.Health.Snapshot()
	tr, changed := d.deps.Mode.Evaluate(snap)
	if !changed {
		return
	}
	d.logEvent(ctx, eventlog.TypeTransition, "", tr)

	keep := d.deps.Mode.Selection(tr.To, snap).Executor
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, f := range d.inflight {
		if f.backend == keep {
			continue
		}
		d.logger.Warn("cancelling in-flight action",
			zap.String("action", protocol.ShortID(id)),
			zap.String("backend", f.backend),
			zap.String("mode", string(tr.To)))
		f.cancel()
	}
}

// --- Inbox ---

func (d *Daemon) drainInbox(ctx, execCtx context.Context, m protocol.Mode, sel mode.Selection) {
	if d.deps.DB == nil {
		return
	}
	cmds, err := PendingCommands(ctx, d.deps.DB)
	if err != nil {
		d.logger.Warn("read inbox", zap.Error(err))
		return
	}
	for _, c := range cmds {
		dec := commandDecision(c, d.nowFunc())
		verdict := d.judge(ctx, dec)
		if verdict == protocol.VerdictDefer {
			// Left pending; the next cycle tries again.
			d.logger.Debug("operator command deferred", zap.Int64("command", c.ID))
			continue
		}
		// Mark before dispatch so a crash mid-dispatch never replays a command.
		if err := markCommandProcessed(ctx, d.deps.DB, c.ID); err != nil {
			d.logger.Warn("mark command processed", zap.Int64("command", c.ID), zap.Error(err))
			if verdict == protocol.VerdictExecute {
				d.deps.Evaluator.Release(dec.ProposedAction.Target)
			}
			continue
		}
		d.logEvent(ctx, eventlog.TypeCommand, c.Target, c)
		d.logger.Info("operator command",
			zap.Int64("command", c.ID),
			zap.String("action", protocol.DescribeAction(dec.ProposedAction)),
			zap.String("verdict", string(verdict)))
		if verdict == protocol.VerdictExecute {
			d.act(ctx, execCtx, dec, m, sel)
		}
	}
}

// --- Calibration ---

func (d *Daemon) calibrate(ctx context.Context) {
	if d.deps.Outcomes == nil {
		return
	}
	prev := d.deps.Evaluator.Threshold()
	suggested, ok := d.deps.Outcomes.Suggestion(prev)
	if !ok {
		return
	}
	next := d.deps.Evaluator.Adjust(suggested)
	if next == prev {
		return
	}
	d.logEvent(ctx, eventlog.TypeCalibration, "", map[string]any{
		"from":  prev,
		"to":    next,
		"stats": d.deps.Outcomes.LastStats(),
	})
}

// --- Status and events ---

// Snapshot assembles the current status.
func (d *Daemon) Snapshot(running bool) Status {
	m := d.deps.Mode.Mode()
	snap := d.deps.Health.Snapshot()
	sel := d.deps.Mode.Selection(m, snap)

	s := Status{
		PID:               os.Getpid(),
		StartedAt:         d.startedAt,
		UpdatedAt:         d.nowFunc(),
		Cycles:            d.cycles,
		DryRun:            d.cfg.DryRun,
		Running:           running,
		Mode:              m,
		ModeSince:         d.deps.Mode.Since(),
		Reasoner:          sel.Reasoner,
		Executor:          sel.Executor,
		Health:            snap,
		Workspace:         d.deps.Workspace.Focused(),
		WorkspaceCapacity: d.deps.Workspace.Capacity(),
		InFlight:          d.InFlight(),
		Threshold:         d.deps.Evaluator.Threshold(),
		LastDecision:      d.lastDecision,
	}
	if d.deps.Outcomes != nil {
		s.Calibration = d.deps.Outcomes.CalibrationStats(0)
	}
	return s
}

func (d *Daemon) writeStatus(ctx context.Context, running bool) {
	if d.deps.DB == nil {
		return
	}
	s := d.Snapshot(running)
	if cmds, err := PendingCommands(ctx, d.deps.DB); err == nil {
		s.PendingCommands = len(cmds)
	}
	if err := WriteStatus(ctx, d.deps.DB, s); err != nil {
		d.logger.Warn("write status", zap.Error(err))
	}
}

func (d *Daemon) logEvent(ctx context.Context, evType, target string, payload any) {
	if d.deps.Events == nil {
		return
	}
	if err := d.deps.Events.AppendJSON(ctx, evType, "daemon", target, payload); err != nil {
		d.logger.Debug("event log", zap.String("type", evType), zap.Error(err))
	}
}
