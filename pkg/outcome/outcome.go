// Package outcome records every executed decision together with its result
// and reward, and turns the recent history into a bounded, rate-limited
// suggestion for the evaluator's confidence threshold.
//
// Records are persisted in the outcomes table of the state database and
// mirrored in an in-memory window so calibration never touches disk.
package outcome

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"vigil/pkg/logging"
	"vigil/pkg/protocol"

	"go.uber.org/zap"
)

const timeLayout = "2006-01-02 15:04:05"

// Config controls calibration cadence and retention.
type Config struct {
	Every           int     // records between calibrations (default 20)
	Window          int     // records a calibration looks at (default 100)
	Step            float64 // size of one suggested move (default 0.02)
	TargetPrecision float64 // desired success rate of executed decisions (default 0.8)
	Retention       int     // rows kept in the outcomes table (default 1000)
}

func (c Config) withDefaults() Config {
	if c.Every <= 0 {
		c.Every = 20
	}
	if c.Window <= 0 {
		c.Window = 100
	}
	if c.Step <= 0 {
		c.Step = 0.02
	}
	if c.TargetPrecision <= 0 {
		c.TargetPrecision = 0.8
	}
	if c.Retention < c.Window {
		c.Retention = max(c.Window, 1000)
	}
	return c
}

// Stats summarizes a window of reasoner-produced outcomes. Operator
// commands are excluded since their confidence is not a model estimate.
type Stats struct {
	Count                      int     `json:"count"`
	Precision                  float64 `json:"precision"`
	MeanConfidence             float64 `json:"mean_confidence"`
	MeanConfidenceGivenSuccess float64 `json:"mean_confidence_given_success"`
	MeanConfidenceGivenFailure float64 `json:"mean_confidence_given_failure"`
	TimeoutRate                float64 `json:"timeout_rate"`
	Brier                      float64 `json:"brier"`
}

// Tracker is the outcome log plus calibration state.
type Tracker struct {
	db     *sql.DB
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	window    []protocol.OutcomeRecord
	sinceCal  int
	direction int // pending suggestion: +1 raise, -1 lower, 0 none
	last      Stats

	nowFunc func() time.Time
}

// New creates a Tracker over an open state database.
func New(db *sql.DB, cfg Config, logger *zap.Logger) *Tracker {
	return &Tracker{
		db:      db,
		cfg:     cfg.withDefaults(),
		logger:  logging.OrNop(logger),
		nowFunc: time.Now,
	}
}

// Load warms the in-memory window from the most recent rows.
func (t *Tracker) Load(ctx context.Context) error {
	recs, err := Recent(ctx, t.db, t.cfg.Window)
	if err != nil {
		return err
	}
	// Recent is newest first; the window is oldest first.
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}

	t.mu.Lock()
	t.window = recs
	t.mu.Unlock()
	return nil
}

// Record persists one outcome and, every Config.Every records, recomputes
// the calibration suggestion.
func (t *Tracker) Record(ctx context.Context, d protocol.Decision, r protocol.ExecutionResult) (protocol.OutcomeRecord, error) {
	rec := protocol.OutcomeRecord{Decision: d, Result: r, Reward: protocol.Reward(r.Status)}

	direct := 0
	if d.Direct {
		direct = 1
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO outcomes (decision_id, action_id, action_kind, target, confidence, produced_by, direct,
			executed_by, status, output, duration_ms, reward, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, r.ActionID, string(d.ProposedAction.Kind), d.ProposedAction.Target, d.Confidence, d.ProducedBy, direct,
		r.ExecutedBy, string(r.Status), r.Output, r.Duration.Milliseconds(), rec.Reward,
		t.nowFunc().UTC().Format(timeLayout))
	if err != nil {
		return rec, fmt.Errorf("insert outcome %s: %w", protocol.ShortID(d.ID), err)
	}

	t.mu.Lock()
	t.window = append(t.window, rec)
	if over := len(t.window) - t.cfg.Window; over > 0 {
		t.window = append([]protocol.OutcomeRecord(nil), t.window[over:]...)
	}
	t.sinceCal++
	calibrate := t.sinceCal >= t.cfg.Every
	if calibrate {
		t.sinceCal = 0
		t.calibrateLocked()
	}
	t.mu.Unlock()

	if calibrate {
		if err := t.prune(ctx); err != nil {
			t.logger.Warn("prune outcomes", zap.Error(err))
		}
	}
	return rec, nil
}

// calibrateLocked computes stats over the window and sets the pending
// direction. Caller holds t.mu.
func (t *Tracker) calibrateLocked() {
	s := Compute(t.window)
	t.last = s

	switch {
	case s.Count == 0:
		t.direction = 0
	case s.Precision < t.cfg.TargetPrecision:
		t.direction = 1
	case s.Precision >= t.cfg.TargetPrecision+0.1:
		t.direction = -1
	default:
		t.direction = 0
	}

	t.logger.Info("calibration computed",
		zap.Int("count", s.Count),
		zap.Float64("precision", s.Precision),
		zap.Float64("brier", s.Brier),
		zap.Int("direction", t.direction))
}

// Suggestion returns the threshold calibration currently recommends,
// relative to current, and clears it. ok is false when no move is pending.
// A suggestion is never more than one step from current.
func (t *Tracker) Suggestion(current float64) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	dir := t.direction
	t.direction = 0
	if dir == 0 {
		return current, false
	}
	return current + float64(dir)*t.cfg.Step, true
}

// LastStats returns the stats from the most recent calibration.
func (t *Tracker) LastStats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// CalibrationStats computes stats over the newest n in-memory records
// (n <= 0 means the whole window).
func (t *Tracker) CalibrationStats(n int) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	recs := t.window
	if n > 0 && n < len(recs) {
		recs = recs[len(recs)-n:]
	}
	return Compute(recs)
}

func (t *Tracker) prune(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx,
		`DELETE FROM outcomes WHERE id NOT IN (SELECT id FROM outcomes ORDER BY id DESC LIMIT ?)`,
		t.cfg.Retention)
	if err != nil {
		return fmt.Errorf("prune outcomes: %w", err)
	}
	return nil
}

// --- Stats ---

// Compute derives Stats from records, skipping operator commands.
func Compute(recs []protocol.OutcomeRecord) Stats {
	var s Stats
	var successes, failures, timeouts int
	var sumConf, sumSucc, sumFail, sumSq float64

	for _, r := range recs {
		if r.Decision.Direct {
			continue
		}
		c := r.Decision.Confidence
		s.Count++
		sumConf += c

		y := 0.0
		if r.Result.Status == protocol.StatusSuccess {
			y = 1
			successes++
			sumSucc += c
		} else {
			failures++
			sumFail += c
			if r.Result.Status == protocol.StatusTimeout {
				timeouts++
			}
		}
		sumSq += (c - y) * (c - y)
	}

	if s.Count == 0 {
		return s
	}
	n := float64(s.Count)
	s.Precision = float64(successes) / n
	s.MeanConfidence = sumConf / n
	s.TimeoutRate = float64(timeouts) / n
	s.Brier = sumSq / n
	if successes > 0 {
		s.MeanConfidenceGivenSuccess = sumSucc / float64(successes)
	}
	if failures > 0 {
		s.MeanConfidenceGivenFailure = sumFail / float64(failures)
	}
	return s
}

// --- Queries ---

// Recent reads the newest limit outcome rows, newest first. Decisions are
// reconstructed from the stored columns only.
func Recent(ctx context.Context, db *sql.DB, limit int) ([]protocol.OutcomeRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT decision_id, action_id, action_kind, COALESCE(target, ''), confidence, produced_by, direct,
			executed_by, status, COALESCE(output, ''), duration_ms, reward, created_at
		 FROM outcomes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	recs := []protocol.OutcomeRecord{}
	for rows.Next() {
		var (
			rec                protocol.OutcomeRecord
			kind, status, at   string
			direct, durationMS int64
		)
		if err := rows.Scan(&rec.Decision.ID, &rec.Result.ActionID, &kind, &rec.Decision.ProposedAction.Target,
			&rec.Decision.Confidence, &rec.Decision.ProducedBy, &direct, &rec.Result.ExecutedBy, &status,
			&rec.Result.Output, &durationMS, &rec.Reward, &at); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		rec.Decision.ProposedAction.ID = rec.Result.ActionID
		rec.Decision.ProposedAction.Kind = protocol.ActionKind(kind)
		rec.Decision.Direct = direct != 0
		rec.Result.Status = protocol.Status(status)
		rec.Result.Duration = time.Duration(durationMS) * time.Millisecond
		if ts, err := time.Parse(timeLayout, at); err == nil {
			rec.Decision.ProducedAt = ts
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return recs, nil
}

// QueryStats computes Stats over the newest window rows in db. Used by the
// CLI while the daemon owns the Tracker.
func QueryStats(ctx context.Context, db *sql.DB, window int) (Stats, error) {
	recs, err := Recent(ctx, db, window)
	if err != nil {
		return Stats{}, err
	}
	return Compute(recs), nil
}
