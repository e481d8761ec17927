// Package persistence provides the SQLite-backed durable state store for
// work items, agent runs, agent events, and review iterations.
package persistence

import (
	"database/sql"
	"fmt"
)

// columnDef describes one column of a declaratively-migrated table.
type columnDef struct {
	name string
	ddl  string // full "ADD COLUMN" fragment, e.g. "pid INTEGER"
}

// tableColumns is the declarative list of columns each table must have.
// Migration walks this list and adds whatever PRAGMA table_info reports
// missing; it never removes or alters an existing column.
var tableColumns = map[string][]columnDef{
	"work_items": {
		{"number", "number INTEGER"},
		{"title", "title TEXT"},
		{"body", "body TEXT"},
		{"status", "status TEXT"},
		{"assigned_agent_id", "assigned_agent_id TEXT"},
		{"pr_number", "pr_number INTEGER"},
		{"attempts", "attempts INTEGER NOT NULL DEFAULT 0"},
		{"created_at", "created_at TEXT"},
		{"updated_at", "updated_at TEXT"},
	},
	"agent_runs": {
		{"agent_id", "agent_id TEXT"},
		{"work_item_number", "work_item_number INTEGER"},
		{"pr_number", "pr_number INTEGER"},
		{"kind", "kind TEXT"},
		{"status", "status TEXT"},
		{"worktree_path", "worktree_path TEXT"},
		{"branch_name", "branch_name TEXT"},
		{"pid", "pid INTEGER"},
		{"session_id", "session_id TEXT"},
		{"resume_count", "resume_count INTEGER NOT NULL DEFAULT 0"},
		{"rate_limited_at", "rate_limited_at TEXT"},
		{"turns_used", "turns_used INTEGER NOT NULL DEFAULT 0"},
		{"started_at", "started_at TEXT"},
		{"finished_at", "finished_at TEXT"},
		{"error_message", "error_message TEXT"},
	},
	"agent_events": {
		{"id", "id INTEGER"},
		{"agent_id", "agent_id TEXT"},
		{"event_type", "event_type TEXT"},
		{"event_data", "event_data TEXT"},
		{"summary", "summary TEXT NOT NULL DEFAULT ''"},
		{"timestamp", "timestamp TEXT"},
	},
	"review_iterations": {
		{"id", "id INTEGER"},
		{"pr_number", "pr_number INTEGER"},
		{"iteration", "iteration INTEGER"},
		{"comments_count", "comments_count INTEGER NOT NULL DEFAULT 0"},
		{"comments_json", "comments_json TEXT"},
		{"agent_id", "agent_id TEXT"},
		{"status", "status TEXT"},
		{"created_at", "created_at TEXT"},
	},
}

// InitializeDatabase opens the database at dbPath, creating the schema if
// absent and running the idempotent column migration afterward. Safe to
// call repeatedly.
func InitializeDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := createBaseTables(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create base tables: %w", err)
	}

	if err := migrateMissingColumns(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate columns: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite tolerates exactly one writer.
	db.SetMaxIdleConns(1)

	return db, nil
}

func createBaseTables(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", p, err)
		}
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE TABLE IF NOT EXISTS work_items (
			number INTEGER PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			assigned_agent_id TEXT,
			pr_number INTEGER,
			attempts INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE TABLE IF NOT EXISTS agent_runs (
			agent_id TEXT PRIMARY KEY,
			work_item_number INTEGER,
			pr_number INTEGER,
			kind TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'running',
			worktree_path TEXT,
			branch_name TEXT,
			pid INTEGER,
			session_id TEXT,
			resume_count INTEGER NOT NULL DEFAULT 0,
			rate_limited_at TEXT,
			turns_used INTEGER NOT NULL DEFAULT 0,
			started_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			finished_at TEXT,
			error_message TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS agent_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			event_data TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			timestamp TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE TABLE IF NOT EXISTS review_iterations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pr_number INTEGER NOT NULL,
			iteration INTEGER NOT NULL,
			comments_count INTEGER NOT NULL DEFAULT 0,
			comments_json TEXT,
			agent_id TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
	}
	for _, ddl := range tables {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_agent_runs_work_item ON agent_runs(work_item_number)",
		"CREATE INDEX IF NOT EXISTS idx_agent_runs_pr ON agent_runs(pr_number)",
		"CREATE INDEX IF NOT EXISTS idx_agent_runs_status ON agent_runs(status)",
		"CREATE INDEX IF NOT EXISTS idx_agent_events_agent ON agent_events(agent_id)",
		"CREATE INDEX IF NOT EXISTS idx_review_iterations_pr ON review_iterations(pr_number)",
	}
	for _, ddl := range indices {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// migrateMissingColumns adds any column named in tableColumns that
// PRAGMA table_info does not yet report for that table. Detection always
// precedes the ALTER so re-running this is a no-op once every column
// exists.
func migrateMissingColumns(db *sql.DB) error {
	for table, columns := range tableColumns {
		existing, err := existingColumns(db, table)
		if err != nil {
			return fmt.Errorf("failed to inspect table %s: %w", table, err)
		}

		for _, col := range columns {
			if existing[col.name] {
				continue
			}
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, col.ddl)
			if _, err := db.Exec(stmt); err != nil {
				return fmt.Errorf("failed to add column %s.%s: %w", table, col.name, err)
			}
		}
	}
	return nil
}

func existingColumns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notnull    int
			dfltValue  sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
