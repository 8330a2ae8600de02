// Postgres ledger backend.
//
// Information Hiding:
// - Connection pool sizing hidden behind OpenPostgres
// - $n placeholder rewriting shared with the SQLite backend

package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS director_sessions (
    id TEXT PRIMARY KEY,
    job_id TEXT NOT NULL,
    user_id TEXT,
    instruction TEXT NOT NULL,
    route VARCHAR(20),
    status VARCHAR(30) NOT NULL DEFAULT 'running',

    model VARCHAR(100) NOT NULL,
    max_iterations INT NOT NULL,
    max_sandbox_calls INT NOT NULL,
    budget_limit_usd DOUBLE PRECISION NOT NULL,

    total_iterations INT NOT NULL DEFAULT 0,
    total_tool_calls INT NOT NULL DEFAULT 0,
    total_rerenders INT NOT NULL DEFAULT 0,
    total_tokens_input BIGINT NOT NULL DEFAULT 0,
    total_tokens_output BIGINT NOT NULL DEFAULT 0,
    total_cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,

    result_summary TEXT,
    error_message TEXT,
    started_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMP WITH TIME ZONE,
    duration_ms BIGINT
);

CREATE TABLE IF NOT EXISTS director_actions (
    seq BIGSERIAL PRIMARY KEY,
    id TEXT NOT NULL UNIQUE,
    session_id TEXT NOT NULL REFERENCES director_sessions(id) ON DELETE CASCADE,
    iteration INT NOT NULL,
    action_type VARCHAR(20) NOT NULL,

    tool_name VARCHAR(100),
    tool_args TEXT,
    tool_result TEXT,
    tool_duration_ms BIGINT,
    tool_success BOOLEAN,

    tokens_input BIGINT,
    tokens_output BIGINT,
    cost_usd DOUBLE PRECISION,
    llm_response_text TEXT,

    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_director_sessions_started ON director_sessions(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_director_sessions_job ON director_sessions(job_id);
CREATE INDEX IF NOT EXISTS idx_director_sessions_status ON director_sessions(status);
CREATE INDEX IF NOT EXISTS idx_director_actions_session ON director_actions(session_id, iteration, seq);
`

var postgresDialect = dialect{name: "postgres", schema: postgresSchema, dollar: true}

// OpenPostgres connects to dsn, verifies the connection and ensures the
// schema exists.
func OpenPostgres(dsn string) (Ledger, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open Postgres: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(1)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	l, err := NewPostgres(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// NewPostgres wraps an open Postgres handle and ensures the schema exists.
func NewPostgres(ctx context.Context, db *sql.DB) (Ledger, error) {
	l, err := newSQLLedger(ctx, db, postgresDialect)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return l, nil
}
