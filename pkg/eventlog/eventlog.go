// Package eventlog records daemon lifecycle events (observations, mode
// transitions, verdicts, execution results, calibration changes) in the
// SQLite state database and reads them back for the CLI and dashboard.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"vigil/pkg/protocol"

	_ "modernc.org/sqlite" // SQLite driver
)

// Event types written by the daemon.
const (
	TypeDaemonStart = "daemon_start"
	TypeDaemonStop  = "daemon_stop"
	TypeObservation = "observation"
	TypeTransition  = "mode_transition"
	TypeVerdict     = "verdict"
	TypeResult      = "result"
	TypeCalibration = "calibration"
	TypeCommand     = "command"
	TypeDryRun      = "dry_run"
)

// busyTimeoutMS is how long a writer waits on a locked database.
const busyTimeoutMS = 5000

// timeLayout matches SQLite's datetime('now').
const timeLayout = "2006-01-02 15:04:05"

// Open opens (creating if needed) the state database at path with WAL
// journaling and a 5-second busy timeout, and applies the schema.
// The pragmas go in the DSN so every pooled connection gets them, not just
// the first one.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, busyTimeoutMS)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, protocol.SchemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema to %s: %w", path, err)
	}

	return db, nil
}

// Writer appends events.
type Writer struct {
	db      *sql.DB
	nowFunc func() time.Time
}

// NewWriter creates a Writer over an open state database.
func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db, nowFunc: time.Now}
}

// Append writes one event. payload is stored verbatim.
func (w *Writer) Append(ctx context.Context, evType, source, target, payload string) error {
	_, err := w.db.ExecContext(ctx,
		`INSERT INTO events (type, source, target, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		evType, source, target, payload, w.nowFunc().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("append %s event: %w", evType, err)
	}
	return nil
}

// AppendJSON writes one event with v marshalled as the payload.
func (w *Writer) AppendJSON(ctx context.Context, evType, source, target string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", evType, err)
	}
	return w.Append(ctx, evType, source, target, string(data))
}
