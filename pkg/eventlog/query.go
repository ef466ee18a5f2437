package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"
)

// Event is a single row from the event log.
type Event struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Target    string    `json:"target,omitempty"`
	Payload   string    `json:"payload,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// QueryOpts specifies filter criteria for querying events.
type QueryOpts struct {
	// Type filters to one event type (e.g. "mode_transition", "result")
	Type string

	// Source filters to one emitting component
	Source string

	// Target filters to one action target or observed path
	Target string

	// After filters events created at or after this time
	After *time.Time

	// Before filters events created at or before this time
	Before *time.Time

	// Limit restricts the number of results (0 = no limit)
	Limit int
}

// Reader provides read-only access to the event log.
type Reader struct {
	db *sql.DB
}

// NewReader opens the state database in read-only mode so readers never
// block the daemon. Returns an error if the database doesn't exist.
func NewReader(dbPath string) (*Reader, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("database not found: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Reader{db: db}, nil
}

// NewReaderFromDB wraps an already open database.
func NewReaderFromDB(db *sql.DB) *Reader {
	return &Reader{db: db}
}

// DB exposes the underlying handle for read-only helpers in other packages.
func (r *Reader) DB() *sql.DB { return r.db }

// Close releases the database connection. Safe to call multiple times.
func (r *Reader) Close() error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// Query retrieves events matching opts, newest first. Returns an empty
// slice if nothing matches.
func (r *Reader) Query(ctx context.Context, opts QueryOpts) ([]Event, error) {
	query, args := buildQuery(opts)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		var createdAtStr string
		if err := rows.Scan(&e.ID, &e.Type, &e.Source, &e.Target, &e.Payload, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if createdAtStr != "" {
			parsed, err := time.Parse(timeLayout, createdAtStr)
			if err != nil {
				parsed, err = time.Parse(time.RFC3339, createdAtStr)
				if err != nil {
					return nil, fmt.Errorf("parse created_at: %w", err)
				}
			}
			e.CreatedAt = parsed
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// buildQuery constructs the SQL query and arguments from QueryOpts.
func buildQuery(opts QueryOpts) (string, []any) {
	var conditions []string
	var args []any

	query := "SELECT id, type, source, COALESCE(target, ''), COALESCE(payload, ''), created_at FROM events WHERE 1=1"

	if opts.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, opts.Type)
	}
	if opts.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, opts.Source)
	}
	if opts.Target != "" {
		conditions = append(conditions, "target = ?")
		args = append(args, opts.Target)
	}
	if opts.After != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, opts.After.UTC().Format(timeLayout))
	}
	if opts.Before != nil {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, opts.Before.UTC().Format(timeLayout))
	}

	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	return query, args
}
