package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/richinex/vdirector/model"
)

// MemoryLedger keeps sessions in process memory. Data is lost when the
// process terminates.
type MemoryLedger struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
	actions  map[string][]model.Action
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		sessions: make(map[string]*model.Session),
		actions:  make(map[string][]model.Action),
	}
}

// CreateSession stores a new running session.
func (l *MemoryLedger) CreateSession(_ context.Context, s *model.Session) error {
	if err := prepareSession(s); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	copied := *s
	l.sessions[s.ID] = &copied
	return nil
}

// AppendAction appends an action to its session.
func (l *MemoryLedger) AppendAction(_ context.Context, a *model.Action) error {
	if err := prepareAction(a); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.sessions[a.SessionID]; !ok {
		return ErrNotFound
	}
	l.actions[a.SessionID] = append(l.actions[a.SessionID], *a)
	return nil
}

// UpdateCounters overwrites the session totals.
func (l *MemoryLedger) UpdateCounters(_ context.Context, sessionID string, c model.Counters) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.Counters = c
	return nil
}

// CompleteSession writes the terminal status.
func (l *MemoryLedger) CompleteSession(_ context.Context, sessionID string, c Completion) error {
	if err := validateCompletion(c); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.Status != model.StatusRunning {
		return ErrSessionClosed
	}
	now := clock()
	s.Status = c.Status
	s.ResultSummary = c.Summary
	s.ErrorMessage = c.Error
	s.CompletedAt = &now
	s.DurationMs = durationMs(s.StartedAt, now)
	return nil
}

// GetSession returns a copy of the session.
func (l *MemoryLedger) GetSession(_ context.Context, sessionID string) (model.Session, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s, ok := l.sessions[sessionID]
	if !ok {
		return model.Session{}, ErrNotFound
	}
	return *s, nil
}

// ListSessions returns sessions newest first.
func (l *MemoryLedger) ListSessions(_ context.Context, limit, offset int) ([]model.Session, int, error) {
	limit, offset = normalizePage(limit, offset)
	l.mu.RLock()
	all := make([]model.Session, 0, len(l.sessions))
	for _, s := range l.sessions {
		all = append(all, *s)
	}
	l.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].StartedAt.Equal(all[j].StartedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].StartedAt.After(all[j].StartedAt)
	})

	total := len(all)
	if offset >= total {
		return []model.Session{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// ListActions returns the actions of a session in write order, which is
// iteration order.
func (l *MemoryLedger) ListActions(_ context.Context, sessionID string) ([]model.Action, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	actions := l.actions[sessionID]
	copied := make([]model.Action, len(actions))
	copy(copied, actions)
	sort.SliceStable(copied, func(i, j int) bool { return copied[i].Iteration < copied[j].Iteration })
	return copied, nil
}

// Close is a no-op.
func (l *MemoryLedger) Close() error { return nil }

// Verify MemoryLedger implements Ledger
var _ Ledger = (*MemoryLedger)(nil)
