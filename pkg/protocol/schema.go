package protocol

// SchemaDDL defines the SQLite schema for the vigil state database.
// Tables: events, outcomes, commands, status.
// Execute against a SQLite database with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- Runtime event log: observations, mode transitions, verdicts, results
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY,
    type TEXT NOT NULL,
    source TEXT NOT NULL,
    target TEXT,
    payload TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS events_type_idx ON events(type);

-- Outcome records: one row per executed decision
CREATE TABLE IF NOT EXISTS outcomes (
    id INTEGER PRIMARY KEY,
    decision_id TEXT NOT NULL,
    action_id TEXT NOT NULL,
    action_kind TEXT NOT NULL,
    target TEXT,
    confidence REAL NOT NULL,
    produced_by TEXT NOT NULL,
    direct INTEGER NOT NULL DEFAULT 0,
    executed_by TEXT NOT NULL,
    status TEXT NOT NULL,
    output TEXT,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    reward REAL NOT NULL,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

-- Operator inbox: explicit commands forwarded as direct decisions
CREATE TABLE IF NOT EXISTS commands (
    id INTEGER PRIMARY KEY,
    kind TEXT NOT NULL,
    target TEXT,
    payload TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    processed_at TEXT
);

-- Latest daemon status snapshot (single row, id=1)
CREATE TABLE IF NOT EXISTS status (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    snapshot TEXT NOT NULL,
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`

// EventRow represents a row in the events table.
type EventRow struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Source    string `json:"source"`
	Target    string `json:"target"`
	Payload   string `json:"payload"`
	CreatedAt string `json:"created_at"`
}

// CommandRow represents a row in the commands table. The operator writes
// commands; the daemon drains them once per cycle.
type CommandRow struct {
	ID          int64      `json:"id"`
	Kind        ActionKind `json:"kind"`
	Target      string     `json:"target"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	CreatedAt   string     `json:"created_at"`
	ProcessedAt string     `json:"processed_at"`
}
