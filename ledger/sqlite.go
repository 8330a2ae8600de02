// SQLite ledger backend.
//
// Information Hiding:
// - SQLite connection management hidden behind interface
// - Schema and migration details encapsulated

package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS director_sessions (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		user_id TEXT,
		instruction TEXT NOT NULL,
		route TEXT,
		status TEXT NOT NULL DEFAULT 'running',

		model TEXT NOT NULL,
		max_iterations INTEGER NOT NULL,
		max_sandbox_calls INTEGER NOT NULL,
		budget_limit_usd REAL NOT NULL,

		total_iterations INTEGER NOT NULL DEFAULT 0,
		total_tool_calls INTEGER NOT NULL DEFAULT 0,
		total_rerenders INTEGER NOT NULL DEFAULT 0,
		total_tokens_input INTEGER NOT NULL DEFAULT 0,
		total_tokens_output INTEGER NOT NULL DEFAULT 0,
		total_cost_usd REAL NOT NULL DEFAULT 0,

		result_summary TEXT,
		error_message TEXT,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		duration_ms INTEGER
	);

	CREATE TABLE IF NOT EXISTS director_actions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		action_type TEXT NOT NULL,

		tool_name TEXT,
		tool_args TEXT,
		tool_result TEXT,
		tool_duration_ms INTEGER,
		tool_success BOOLEAN,

		tokens_input INTEGER,
		tokens_output INTEGER,
		cost_usd REAL,
		llm_response_text TEXT,

		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (session_id) REFERENCES director_sessions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_director_sessions_started ON director_sessions(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_director_sessions_job ON director_sessions(job_id);
	CREATE INDEX IF NOT EXISTS idx_director_actions_session ON director_actions(session_id, iteration, seq);
`

var sqliteDialect = dialect{name: "sqlite", schema: sqliteSchema}

// OpenSQLite opens or creates a SQLite ledger at the given path.
// Creates parent directories if they don't exist.
func OpenSQLite(path string) (Ledger, error) {
	// Create parent directory if needed
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	l, err := newSQLLedger(context.Background(), db, sqliteDialect)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return l, nil
}

// NewSQLiteInMemory creates an in-memory SQLite ledger (useful for testing).
func NewSQLiteInMemory() (Ledger, error) {
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite: %w", err)
	}
	// Every pooled connection would otherwise get its own empty database.
	db.SetMaxOpenConns(1)

	l, err := newSQLLedger(context.Background(), db, sqliteDialect)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return l, nil
}
