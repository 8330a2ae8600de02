// Package agent provides the specialist loop: a budgeted, audited
// tool-calling loop scoped to one capability group.
package agent

import (
	"time"

	"github.com/richinex/vdirector/model"
)

// Request starts one specialist session.
type Request struct {
	JobID       string
	Instruction string
	UserID      string
	// Context carries optional identifiers (template_id, project_id, ...)
	// folded into the user turn.
	Context map[string]any
	// Route is recorded on the session.
	Route model.Route
}

// CriticalCall is one invocation of a state-mutating tool.
type CriticalCall struct {
	Tool    string `json:"tool"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Result is the terminal outcome of a session.
type Result struct {
	SessionID string
	Status    model.Status
	// Text is the human-readable summary: the model's final answer, the
	// honest-failure message, or the reason the session stopped.
	Text  string
	Route model.Route
	model.Counters
	// CriticalCalls is the trail of critical tool invocations.
	CriticalCalls []CriticalCall
}

// Completed reports whether the model produced a final answer.
func (r Result) Completed() bool {
	return r.Status == model.StatusCompleted || r.Status == model.StatusCompletedWithErrors
}

// Observer receives measurements from the loop. Implementations must be
// safe for concurrent use.
type Observer interface {
	ModelCall(model string, err error)
	ToolCall(tool string, success bool, d time.Duration)
	SessionDone(status model.Status, costUSD float64)
}

type nopObserver struct{}

func (nopObserver) ModelCall(string, error)              {}
func (nopObserver) ToolCall(string, bool, time.Duration) {}
func (nopObserver) SessionDone(model.Status, float64)    {}
