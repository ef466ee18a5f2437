package daemon

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vigil/pkg/outcome"
	"vigil/pkg/protocol"
)

// ErrNoStatus is returned by ReadStatus before the daemon has written its
// first snapshot.
var ErrNoStatus = errors.New("no status snapshot (is the daemon running?)")

// Status is the snapshot the daemon publishes after every cycle. The CLI,
// the MCP server and the dashboard read it from the state database.
type Status struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Cycles    int64     `json:"cycles"`
	DryRun    bool      `json:"dry_run,omitempty"`
	Running   bool      `json:"running"`

	Mode      protocol.Mode `json:"mode"`
	ModeSince time.Time     `json:"mode_since"`
	Reasoner  string        `json:"reasoner"`
	Executor  string        `json:"executor"`

	Health            []protocol.BackendHealth `json:"health"`
	Workspace         []protocol.WorkspaceItem `json:"workspace"`
	WorkspaceCapacity int                      `json:"workspace_capacity"`
	InFlight          []InFlight               `json:"in_flight"`
	PendingCommands   int                      `json:"pending_commands"`

	Threshold    float64          `json:"threshold"`
	Calibration  outcome.Stats    `json:"calibration"`
	LastDecision *DecisionSummary `json:"last_decision,omitempty"`
}

// InFlight describes one action currently dispatched.
type InFlight struct {
	ActionID string              `json:"action_id"`
	Kind     protocol.ActionKind `json:"kind"`
	Target   string              `json:"target"`
	Backend  string              `json:"backend"`
	Since    time.Time           `json:"since"`
}

// DecisionSummary is the latest decision and how the evaluator ruled on it.
type DecisionSummary struct {
	ID         string           `json:"id"`
	Action     string           `json:"action"`
	Confidence float64          `json:"confidence"`
	ProducedBy string           `json:"produced_by"`
	Rationale  string           `json:"rationale,omitempty"`
	Verdict    protocol.Verdict `json:"verdict"`
	Reason     string           `json:"reason"`
	At         time.Time        `json:"at"`
}

// WriteStatus replaces the stored snapshot.
func WriteStatus(ctx context.Context, db *sql.DB, s Status) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO status (id, snapshot, updated_at) VALUES (1, ?, datetime('now'))
		 ON CONFLICT(id) DO UPDATE SET snapshot=excluded.snapshot, updated_at=excluded.updated_at`,
		string(data))
	if err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return nil
}

// ReadStatus loads the stored snapshot.
func ReadStatus(ctx context.Context, db *sql.DB) (Status, error) {
	var raw string
	err := db.QueryRowContext(ctx, `SELECT snapshot FROM status WHERE id=1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Status{}, ErrNoStatus
	}
	if err != nil {
		return Status{}, fmt.Errorf("read status: %w", err)
	}
	var s Status
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Status{}, fmt.Errorf("decode status: %w", err)
	}
	return s, nil
}
