package outcome_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"vigil/pkg/eventlog"
	"vigil/pkg/outcome"
	"vigil/pkg/protocol"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTracker(t *testing.T, cfg outcome.Config) (*outcome.Tracker, context.Context) {
	t.Helper()
	ctx := context.Background()
	db, err := eventlog.Open(ctx, filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return outcome.New(db, cfg, zaptest.NewLogger(t)), ctx
}

func decision(conf float64, direct bool) protocol.Decision {
	return protocol.Decision{
		ID:             uuid.NewString(),
		ProposedAction: protocol.Action{ID: uuid.NewString(), Kind: protocol.ActionQuery, Target: "notes/a.md"},
		Confidence:     conf,
		ProducedBy:     "primary",
		ProducedAt:     time.Now(),
		Direct:         direct,
	}
}

func result(d protocol.Decision, s protocol.Status) protocol.ExecutionResult {
	return protocol.ExecutionResult{ActionID: d.ProposedAction.ID, Status: s, ExecutedBy: "direct", Duration: 40 * time.Millisecond}
}

func TestRecord_RewardAndPersistence(t *testing.T) {
	tr, ctx := newTracker(t, outcome.Config{})

	cases := []struct {
		status protocol.Status
		reward float64
	}{
		{protocol.StatusSuccess, 1},
		{protocol.StatusFailure, -1},
		{protocol.StatusTimeout, -0.5},
	}
	for _, c := range cases {
		d := decision(0.8, false)
		rec, err := tr.Record(ctx, d, result(d, c.status))
		require.NoError(t, err)
		assert.InDelta(t, c.reward, rec.Reward, 1e-9, "status %s", c.status)
	}

	require.NoError(t, tr.Load(ctx))
	s := tr.CalibrationStats(0)
	assert.Equal(t, 3, s.Count)
	assert.InDelta(t, 1.0/3, s.Precision, 1e-9)
	assert.InDelta(t, 1.0/3, s.TimeoutRate, 1e-9)
}

func TestLoad_RestoresWindowOrder(t *testing.T) {
	ctx := context.Background()
	db, err := eventlog.Open(ctx, filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer db.Close()

	first := outcome.New(db, outcome.Config{Window: 2}, nil)
	var last protocol.Decision
	for i := 0; i < 3; i++ {
		last = decision(0.9, false)
		_, err := first.Record(ctx, last, result(last, protocol.StatusSuccess))
		require.NoError(t, err)
	}

	second := outcome.New(db, outcome.Config{Window: 2}, nil)
	require.NoError(t, second.Load(ctx))
	assert.Equal(t, 2, second.CalibrationStats(0).Count)

	recent, err := outcome.Recent(ctx, db, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, last.ID, recent[0].Decision.ID)
	assert.Equal(t, protocol.ActionQuery, recent[0].Decision.ProposedAction.Kind)
	assert.Equal(t, 40*time.Millisecond, recent[0].Result.Duration)
}

func TestCompute(t *testing.T) {
	recs := []protocol.OutcomeRecord{
		{Decision: protocol.Decision{Confidence: 0.9}, Result: protocol.ExecutionResult{Status: protocol.StatusSuccess}},
		{Decision: protocol.Decision{Confidence: 0.8}, Result: protocol.ExecutionResult{Status: protocol.StatusFailure}},
		{Decision: protocol.Decision{Confidence: 0.7}, Result: protocol.ExecutionResult{Status: protocol.StatusTimeout}},
		{Decision: protocol.Decision{Confidence: 1.0, Direct: true}, Result: protocol.ExecutionResult{Status: protocol.StatusFailure}},
	}

	s := outcome.Compute(recs)
	assert.Equal(t, 3, s.Count)
	assert.InDelta(t, 1.0/3, s.Precision, 1e-9)
	assert.InDelta(t, 0.8, s.MeanConfidence, 1e-9)
	assert.InDelta(t, 0.9, s.MeanConfidenceGivenSuccess, 1e-9)
	assert.InDelta(t, 0.75, s.MeanConfidenceGivenFailure, 1e-9)
	assert.InDelta(t, 1.0/3, s.TimeoutRate, 1e-9)
	// (0.1^2 + 0.8^2 + 0.7^2) / 3
	assert.InDelta(t, (0.01+0.64+0.49)/3, s.Brier, 1e-9)

	assert.Equal(t, outcome.Stats{}, outcome.Compute(nil))
}

func TestSuggestion_RateLimited(t *testing.T) {
	tr, ctx := newTracker(t, outcome.Config{Every: 5, Window: 10, Step: 0.02, TargetPrecision: 0.8})

	// Four failures: not yet a calibration point.
	for i := 0; i < 4; i++ {
		d := decision(0.75, false)
		_, err := tr.Record(ctx, d, result(d, protocol.StatusFailure))
		require.NoError(t, err)
	}
	_, ok := tr.Suggestion(0.7)
	assert.False(t, ok, "no suggestion before Every records")

	d := decision(0.75, false)
	_, err := tr.Record(ctx, d, result(d, protocol.StatusFailure))
	require.NoError(t, err)

	next, ok := tr.Suggestion(0.7)
	require.True(t, ok)
	assert.InDelta(t, 0.72, next, 1e-9, "low precision raises by exactly one step")

	_, ok = tr.Suggestion(0.72)
	assert.False(t, ok, "suggestion is consumed")
}

func TestSuggestion_HighPrecisionLowers(t *testing.T) {
	tr, ctx := newTracker(t, outcome.Config{Every: 4, Window: 4, Step: 0.02, TargetPrecision: 0.8})

	for i := 0; i < 4; i++ {
		d := decision(0.9, false)
		_, err := tr.Record(ctx, d, result(d, protocol.StatusSuccess))
		require.NoError(t, err)
	}
	next, ok := tr.Suggestion(0.7)
	require.True(t, ok)
	assert.InDelta(t, 0.68, next, 1e-9)
	assert.InDelta(t, 1.0, tr.LastStats().Precision, 1e-9)
}

func TestSuggestion_BoundedProperty(t *testing.T) {
	tr, ctx := newTracker(t, outcome.Config{Every: 3, Window: 6, Step: 0.02})

	threshold := 0.7
	for i := 0; i < 60; i++ {
		d := decision(0.8, false)
		status := protocol.StatusSuccess
		if i%3 == 0 {
			status = protocol.StatusFailure
		}
		_, err := tr.Record(ctx, d, result(d, status))
		require.NoError(t, err)

		if next, ok := tr.Suggestion(threshold); ok {
			assert.LessOrEqual(t, abs(next-threshold), 0.02+1e-9)
			threshold = next
		}
	}
}

func TestRecord_PrunesBeyondRetention(t *testing.T) {
	ctx := context.Background()
	db, err := eventlog.Open(ctx, filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer db.Close()

	tr := outcome.New(db, outcome.Config{Every: 1, Window: 2, Retention: 2}, nil)
	for i := 0; i < 5; i++ {
		d := decision(0.9, false)
		_, err := tr.Record(ctx, d, result(d, protocol.StatusSuccess))
		require.NoError(t, err)
	}

	var n int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM outcomes").Scan(&n))
	assert.Equal(t, 2, n)

	s, err := outcome.QueryStats(ctx, db, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Count)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
