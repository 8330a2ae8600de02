// Package ledger provides the durable session and action audit trail.
//
// Information Hiding:
// - Storage backend implementation details hidden behind interface
// - Allows swapping between memory, SQLite and Postgres without API changes
// - Id assignment, timestamps and payload truncation happen here, not in callers

package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/richinex/vdirector/model"
)

var (
	// ErrNotFound is returned for unknown session ids.
	ErrNotFound = errors.New("session not found")
	// ErrSessionClosed is returned when completing a session that already
	// reached a terminal status.
	ErrSessionClosed = errors.New("session already completed")
)

// Page sizes for ListSessions. A limit <= 0 gets DefaultListLimit and
// larger limits are capped at MaxListLimit.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Completion is the terminal write of a session.
type Completion struct {
	Status  model.Status
	Summary string
	Error   string
}

// Ledger records sessions and the actions taken inside them.
//
// Actions are append-only. A session leaves StatusRunning exactly once,
// through CompleteSession.
type Ledger interface {
	// CreateSession stores s with status running. It assigns s.ID when
	// empty and sets s.StartedAt.
	CreateSession(ctx context.Context, s *model.Session) error

	// AppendAction stores a. It assigns a.ID and a.CreatedAt and truncates
	// an oversized tool result.
	AppendAction(ctx context.Context, a *model.Action) error

	// UpdateCounters overwrites the running totals of a session.
	UpdateCounters(ctx context.Context, sessionID string, c model.Counters) error

	// CompleteSession moves a running session to a terminal status and
	// records its duration. Returns ErrSessionClosed if it is not running.
	CompleteSession(ctx context.Context, sessionID string, c Completion) error

	// GetSession returns one session or ErrNotFound.
	GetSession(ctx context.Context, sessionID string) (model.Session, error)

	// ListSessions returns a page of sessions, newest first, and the total.
	ListSessions(ctx context.Context, limit, offset int) ([]model.Session, int, error)

	// ListActions returns the actions of a session ordered by iteration,
	// then by creation.
	ListActions(ctx context.Context, sessionID string) ([]model.Action, error)

	Close() error
}

// Open selects a backend from a database URL. "postgres://" and
// "postgresql://" select Postgres; "sqlite://path" or a bare path select
// SQLite; an empty URL keeps the ledger in memory.
func Open(databaseURL string) (Ledger, error) {
	switch {
	case databaseURL == "":
		return NewMemoryLedger(), nil
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return OpenPostgres(databaseURL)
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return OpenSQLite(strings.TrimPrefix(databaseURL, "sqlite://"))
	case strings.Contains(databaseURL, "://"):
		return nil, fmt.Errorf("unsupported database URL scheme: %s", databaseURL[:strings.Index(databaseURL, "://")])
	default:
		return OpenSQLite(databaseURL)
	}
}

// clock is replaced in tests.
var clock = func() time.Time { return time.Now().UTC() }

func prepareSession(s *model.Session) error {
	if s.JobID == "" {
		return errors.New("session requires a job id")
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.Status = model.StatusRunning
	s.StartedAt = clock()
	s.CompletedAt = nil
	s.DurationMs = 0
	return nil
}

func prepareAction(a *model.Action) error {
	if a.SessionID == "" {
		return errors.New("action requires a session id")
	}
	if a.Iteration < 1 {
		return fmt.Errorf("action iteration must be >= 1, got %d", a.Iteration)
	}
	switch a.Kind {
	case model.ActionToolCall, model.ActionLLMResponse:
	default:
		return fmt.Errorf("unknown action type %q", a.Kind)
	}
	a.ID = uuid.NewString()
	a.CreatedAt = clock()
	a.ToolResult = Truncate(a.ToolResult)
	return nil
}

func validateCompletion(c Completion) error {
	if !c.Status.Terminal() {
		return fmt.Errorf("cannot complete session with non-terminal status %q", c.Status)
	}
	return nil
}

func durationMs(started, completed time.Time) int64 {
	d := completed.Sub(started).Milliseconds()
	if d < 0 {
		return 0
	}
	return d
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
