package daemon

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"vigil/pkg/protocol"

	"github.com/google/uuid"
)

// Enqueue writes an operator command into the inbox. The running daemon
// turns it into a direct decision on its next cycle.
func Enqueue(ctx context.Context, db *sql.DB, kind protocol.ActionKind, target, payload string) (int64, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("unknown action kind %q", kind)
	}
	if kind != protocol.ActionNoop && target == "" {
		return 0, fmt.Errorf("%s requires a target", kind)
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO commands (kind, target, payload) VALUES (?, ?, ?)`,
		string(kind), target, payload)
	if err != nil {
		return 0, fmt.Errorf("enqueue command: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue command: %w", err)
	}
	return id, nil
}

// PendingCommands returns unprocessed inbox commands, oldest first.
func PendingCommands(ctx context.Context, db *sql.DB) ([]protocol.CommandRow, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, kind, COALESCE(target, ''), COALESCE(payload, ''), status, created_at, COALESCE(processed_at, '')
		 FROM commands WHERE status='pending' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query pending commands: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cmds []protocol.CommandRow
	for rows.Next() {
		var c protocol.CommandRow
		if err := rows.Scan(&c.ID, &c.Kind, &c.Target, &c.Payload, &c.Status, &c.CreatedAt, &c.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		cmds = append(cmds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commands: %w", err)
	}
	return cmds, nil
}

func markCommandProcessed(ctx context.Context, db *sql.DB, id int64) error {
	_, err := db.ExecContext(ctx,
		`UPDATE commands SET status='processed', processed_at=datetime('now') WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("mark command processed: %w", err)
	}
	return nil
}

// commandDecision turns an inbox command into a decision that bypasses the
// reasoner.
func commandDecision(c protocol.CommandRow, at time.Time) protocol.Decision {
	return protocol.Decision{
		ID: uuid.NewString(),
		ProposedAction: protocol.Action{
			ID:      uuid.NewString(),
			Kind:    c.Kind,
			Target:  c.Target,
			Payload: c.Payload,
		},
		Confidence: 1,
		Rationale:  fmt.Sprintf("operator command #%d", c.ID),
		ProducedBy: protocol.BackendOperator,
		ProducedAt: at,
		Direct:     true,
	}
}
