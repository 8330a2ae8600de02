package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/richinex/vdirector/model"
)

// dialect captures the differences between the SQL backends.
type dialect struct {
	name   string
	schema string
	// dollar placeholders ($1, $2...) instead of ?.
	dollar bool
}

// sqlLedger implements Ledger over database/sql. Thread-safe: sql.DB handles
// connection pooling and concurrent access.
type sqlLedger struct {
	db      *sql.DB
	dialect dialect
}

func newSQLLedger(ctx context.Context, db *sql.DB, d dialect) (*sqlLedger, error) {
	l := &sqlLedger{db: db, dialect: d}
	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		return nil, fmt.Errorf("failed to create %s schema: %w", d.name, err)
	}
	return l, nil
}

// rebind rewrites ? placeholders for dialects that use $n.
func (l *sqlLedger) rebind(query string) string {
	if !l.dialect.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const sessionColumns = `id, job_id, user_id, instruction, route, model, max_iterations, max_sandbox_calls,
	budget_limit_usd, total_iterations, total_tool_calls, total_rerenders, total_tokens_input,
	total_tokens_output, total_cost_usd, status, result_summary, error_message, started_at,
	completed_at, duration_ms`

const actionColumns = `id, session_id, iteration, action_type, tool_name, tool_args, tool_result,
	tool_duration_ms, tool_success, tokens_input, tokens_output, cost_usd, llm_response_text, created_at`

// CreateSession inserts a running session.
func (l *sqlLedger) CreateSession(ctx context.Context, s *model.Session) error {
	if err := prepareSession(s); err != nil {
		return err
	}
	_, err := l.db.ExecContext(ctx, l.rebind(`
		INSERT INTO director_sessions
		(id, job_id, user_id, instruction, route, status, model, max_iterations, max_sandbox_calls,
		 budget_limit_usd, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		s.ID,
		s.JobID,
		nullString(s.UserID),
		s.Instruction,
		nullString(string(s.Route)),
		string(s.Status),
		s.Model,
		s.MaxIterations,
		s.MaxSandboxCalls,
		s.BudgetLimitUSD,
		s.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// AppendAction inserts one action.
func (l *sqlLedger) AppendAction(ctx context.Context, a *model.Action) error {
	if err := prepareAction(a); err != nil {
		return err
	}

	// Convert empty values to NULL for the optional columns
	var toolName, toolArgs, toolResult, toolDuration, toolSuccess, responseText interface{}
	if a.Kind == model.ActionToolCall {
		toolName = a.ToolName
		toolDuration = a.ToolDurationMs
		toolSuccess = a.ToolSuccess
	}
	if len(a.ToolArgs) > 0 {
		toolArgs = string(a.ToolArgs)
	}
	if len(a.ToolResult) > 0 {
		toolResult = string(a.ToolResult)
	}
	if a.ResponseText != "" {
		responseText = a.ResponseText
	}

	_, err := l.db.ExecContext(ctx, l.rebind(`
		INSERT INTO director_actions
		(`+actionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID,
		a.SessionID,
		a.Iteration,
		string(a.Kind),
		toolName,
		toolArgs,
		toolResult,
		toolDuration,
		toolSuccess,
		a.TokensInput,
		a.TokensOutput,
		a.CostUSD,
		responseText,
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append action: %w", err)
	}
	return nil
}

// UpdateCounters overwrites the session totals.
func (l *sqlLedger) UpdateCounters(ctx context.Context, sessionID string, c model.Counters) error {
	res, err := l.db.ExecContext(ctx, l.rebind(`
		UPDATE director_sessions SET
			total_iterations = ?,
			total_tool_calls = ?,
			total_rerenders = ?,
			total_tokens_input = ?,
			total_tokens_output = ?,
			total_cost_usd = ?
		WHERE id = ?`),
		c.Iterations,
		c.ToolCalls,
		c.Renders,
		c.TokensInput,
		c.TokensOutput,
		c.CostUSD,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update counters: %w", err)
	}
	return requireRow(res)
}

// CompleteSession writes the terminal status once.
func (l *sqlLedger) CompleteSession(ctx context.Context, sessionID string, c Completion) error {
	if err := validateCompletion(c); err != nil {
		return err
	}

	var started sql.NullTime
	var status string
	err := l.db.QueryRowContext(ctx, l.rebind(
		"SELECT started_at, status FROM director_sessions WHERE id = ?"), sessionID).Scan(&started, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if model.Status(status) != model.StatusRunning {
		return ErrSessionClosed
	}

	now := clock()
	var duration int64
	if started.Valid {
		duration = durationMs(started.Time, now)
	}
	res, err := l.db.ExecContext(ctx, l.rebind(`
		UPDATE director_sessions SET
			status = ?,
			result_summary = ?,
			error_message = ?,
			completed_at = ?,
			duration_ms = ?
		WHERE id = ? AND status = ?`),
		string(c.Status),
		nullString(c.Summary),
		nullString(c.Error),
		now,
		duration,
		sessionID,
		string(model.StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("failed to complete session: %w", err)
	}
	if err := requireRow(res); err != nil {
		// Lost a race with another completion.
		return ErrSessionClosed
	}
	return nil
}

// GetSession loads one session.
func (l *sqlLedger) GetSession(ctx context.Context, sessionID string) (model.Session, error) {
	row := l.db.QueryRowContext(ctx, l.rebind(
		"SELECT "+sessionColumns+" FROM director_sessions WHERE id = ?"), sessionID)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, ErrNotFound
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("failed to load session: %w", err)
	}
	return s, nil
}

// ListSessions returns a page of sessions newest first.
func (l *sqlLedger) ListSessions(ctx context.Context, limit, offset int) ([]model.Session, int, error) {
	limit, offset = normalizePage(limit, offset)

	var total int
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM director_sessions").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	rows, err := l.db.QueryContext(ctx, l.rebind(
		"SELECT "+sessionColumns+" FROM director_sessions ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?"),
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []model.Session{} // Start with empty slice, not nil
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, total, nil
}

// ListActions returns the actions of a session in ledger order.
func (l *sqlLedger) ListActions(ctx context.Context, sessionID string) ([]model.Action, error) {
	rows, err := l.db.QueryContext(ctx, l.rebind(
		"SELECT "+actionColumns+" FROM director_actions WHERE session_id = ? ORDER BY iteration ASC, seq ASC"),
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}
	defer rows.Close()

	actions := []model.Action{}
	for rows.Next() {
		var (
			a                              model.Action
			kind                           string
			toolName, toolArgs, toolResult sql.NullString
			responseText                   sql.NullString
			toolDuration                   sql.NullInt64
			toolSuccess                    sql.NullBool
			tokensIn, tokensOut            sql.NullInt64
			cost                           sql.NullFloat64
		)
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Iteration, &kind, &toolName, &toolArgs, &toolResult,
			&toolDuration, &toolSuccess, &tokensIn, &tokensOut, &cost, &responseText, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		a.Kind = model.ActionKind(kind)
		a.ToolName = toolName.String
		if toolArgs.Valid {
			a.ToolArgs = json.RawMessage(toolArgs.String)
		}
		if toolResult.Valid {
			a.ToolResult = json.RawMessage(toolResult.String)
		}
		a.ToolDurationMs = toolDuration.Int64
		a.ToolSuccess = toolSuccess.Bool
		a.TokensInput = tokensIn.Int64
		a.TokensOutput = tokensOut.Int64
		a.CostUSD = cost.Float64
		a.ResponseText = responseText.String
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating actions: %w", err)
	}
	return actions, nil
}

// Close closes the database connection.
func (l *sqlLedger) Close() error {
	return l.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (model.Session, error) {
	var (
		s                              model.Session
		userID, route, summary, errMsg sql.NullString
		status                         string
		completed                      sql.NullTime
		duration                       sql.NullInt64
	)
	err := row.Scan(&s.ID, &s.JobID, &userID, &s.Instruction, &route, &s.Model, &s.MaxIterations,
		&s.MaxSandboxCalls, &s.BudgetLimitUSD, &s.Iterations, &s.ToolCalls, &s.Renders, &s.TokensInput,
		&s.TokensOutput, &s.CostUSD, &status, &summary, &errMsg, &s.StartedAt, &completed, &duration)
	if err != nil {
		return model.Session{}, err
	}
	s.UserID = userID.String
	s.Route = model.Route(route.String)
	if s.Status, err = model.ParseStatus(status); err != nil {
		return model.Session{}, err
	}
	s.ResultSummary = summary.String
	s.ErrorMessage = errMsg.String
	if completed.Valid {
		t := completed.Time
		s.CompletedAt = &t
	}
	s.DurationMs = duration.Int64
	return s, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Verify sqlLedger implements Ledger
var _ Ledger = (*sqlLedger)(nil)
