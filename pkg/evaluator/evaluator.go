// Package evaluator is the single gate between a proposed Decision and the
// Executor. Gates run in a fixed order: confidence, goal coherence, then
// resource limits. Only EXECUTE verdicts reach the Executor.
package evaluator

import (
	"fmt"
	"math"
	"path"
	"sort"
	"sync"
	"time"

	"vigil/pkg/logging"
	"vigil/pkg/protocol"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Config configures the gate.
type Config struct {
	MinConfidence float64       // initial threshold (default 0.7)
	DeferBand     float64       // near-miss band below the threshold (default 0.1)
	DeferWindow   time.Duration // how long a near miss is remembered (default 10m)
	DeferMemory   int           // targets remembered (default 64)
	MaxConcurrent int           // in-flight actions (default 2)

	// Calibration bounds for Adjust.
	MaxStep      float64 // default 0.02
	MinThreshold float64 // default 0.5
	MaxThreshold float64 // default 0.95
}

func (c Config) withDefaults() Config {
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.7
	}
	if c.DeferBand < 0 {
		c.DeferBand = 0
	}
	if c.DeferWindow <= 0 {
		c.DeferWindow = 10 * time.Minute
	}
	if c.DeferMemory <= 0 {
		c.DeferMemory = 64
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 2
	}
	if c.MaxStep <= 0 {
		c.MaxStep = 0.02
	}
	if c.MaxThreshold <= 0 {
		c.MaxThreshold = 0.95
	}
	if c.MinThreshold > c.MaxThreshold {
		c.MinThreshold = c.MaxThreshold
	}
	return c
}

// Result is a verdict with a human-readable reason.
type Result struct {
	Verdict protocol.Verdict
	Reason  string
}

// Evaluator owns the threshold and the in-flight target set.
type Evaluator struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	threshold float64
	inFlight  map[string]struct{}
	nearMiss  *lru.Cache[string, time.Time]

	nowFunc func() time.Time
}

// New creates an Evaluator.
func New(cfg Config, logger *zap.Logger) (*Evaluator, error) {
	cfg = cfg.withDefaults()
	cache, err := lru.New[string, time.Time](cfg.DeferMemory)
	if err != nil {
		return nil, fmt.Errorf("evaluator: defer memory: %w", err)
	}
	return &Evaluator{
		cfg:       cfg,
		logger:    logging.OrNop(logger).Named("evaluator"),
		threshold: cfg.MinConfidence,
		inFlight:  make(map[string]struct{}),
		nearMiss:  cache,
		nowFunc:   time.Now,
	}, nil
}

// Evaluate gates one decision. An EXECUTE verdict reserves the action's
// target until Release is called for it.
func (e *Evaluator) Evaluate(d protocol.Decision) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	res := e.evaluateLocked(d)
	e.logger.Debug("decision evaluated",
		zap.String("decision", protocol.ShortID(d.ID)),
		zap.String("action", protocol.DescribeAction(d.ProposedAction)),
		zap.Float64("confidence", d.Confidence),
		zap.Float64("threshold", e.threshold),
		zap.String("verdict", string(res.Verdict)),
		zap.String("reason", res.Reason))
	return res
}

func (e *Evaluator) evaluateLocked(d protocol.Decision) Result {
	a := d.ProposedAction
	if a.Kind == protocol.ActionNoop {
		return Result{Verdict: protocol.VerdictDiscard, Reason: "noop"}
	}
	key := targetKey(a.Target)
	now := e.nowFunc()

	// 1. Confidence gate. NaN never clears it.
	if !(d.Confidence >= e.threshold) {
		if d.Confidence >= e.threshold-e.cfg.DeferBand {
			last, seen := e.nearMiss.Get(key)
			e.nearMiss.Add(key, now)
			if seen && now.Sub(last) <= e.cfg.DeferWindow {
				return Result{Verdict: protocol.VerdictDefer,
					Reason: fmt.Sprintf("confidence %.2f just below %.2f, accumulating evidence", d.Confidence, e.threshold)}
			}
		}
		return Result{Verdict: protocol.VerdictDiscard,
			Reason: fmt.Sprintf("confidence %.2f below %.2f", d.Confidence, e.threshold)}
	}

	// 2. Goal coherence.
	if _, busy := e.inFlight[key]; busy {
		return Result{Verdict: protocol.VerdictDiscard, Reason: "action already in flight for " + key}
	}

	// 3. Resources.
	if len(e.inFlight) >= e.cfg.MaxConcurrent {
		return Result{Verdict: protocol.VerdictDefer,
			Reason: fmt.Sprintf("%d tasks in flight (max %d)", len(e.inFlight), e.cfg.MaxConcurrent)}
	}

	e.inFlight[key] = struct{}{}
	e.nearMiss.Remove(key)
	return Result{Verdict: protocol.VerdictExecute, Reason: "passed all gates"}
}

// Release frees the target reserved by an EXECUTE verdict.
func (e *Evaluator) Release(target string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, targetKey(target))
}

// InFlight returns the reserved targets, sorted.
func (e *Evaluator) InFlight() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.inFlight))
	for k := range e.inFlight {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// --- Threshold ---

// Threshold returns the current minimum confidence to act.
func (e *Evaluator) Threshold() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.threshold
}

// Adjust moves the threshold towards suggested by at most MaxStep and keeps
// it within [MinThreshold, MaxThreshold]. A threshold configured outside the
// bounds only ever moves towards them. It returns the new threshold.
func (e *Evaluator) Adjust(suggested float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.threshold
	if math.IsNaN(suggested) {
		return prev
	}
	lo := math.Min(e.cfg.MinThreshold, prev)
	hi := math.Max(e.cfg.MaxThreshold, prev)
	delta := math.Max(-e.cfg.MaxStep, math.Min(e.cfg.MaxStep, suggested-prev))
	next := math.Max(lo, math.Min(hi, prev+delta))
	e.threshold = next

	if next != prev {
		e.logger.Info("confidence threshold adjusted",
			zap.Float64("from", prev),
			zap.Float64("to", next),
			zap.Float64("suggested", suggested))
	}
	return next
}

func targetKey(target string) string {
	if target == "" {
		return ""
	}
	return path.Clean(target)
}
