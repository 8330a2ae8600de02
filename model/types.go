// Package model provides domain types shared across packages.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of a session. Only StatusRunning may
// transition; every other value is terminal.
type Status string

const (
	StatusRunning             Status = "running"
	StatusCompleted           Status = "completed"
	StatusCompletedWithErrors Status = "completed_with_errors"
	StatusBudgetExceeded      Status = "budget_exceeded"
	StatusCircuitBreaker      Status = "circuit_breaker"
	StatusMaxIterations       Status = "max_iterations"
	StatusError               Status = "error"
)

// TerminalStatuses lists the six end states in a stable order.
var TerminalStatuses = []Status{
	StatusCompleted,
	StatusCompletedWithErrors,
	StatusBudgetExceeded,
	StatusCircuitBreaker,
	StatusMaxIterations,
	StatusError,
}

// Terminal reports whether s is one of the end states.
func (s Status) Terminal() bool {
	for _, t := range TerminalStatuses {
		if s == t {
			return true
		}
	}
	return false
}

// ParseStatus validates a stored status string.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if st == StatusRunning || st.Terminal() {
		return st, nil
	}
	return "", fmt.Errorf("unknown session status %q", s)
}

// ActionKind distinguishes ledger actions.
type ActionKind string

const (
	ActionToolCall    ActionKind = "tool_call"
	ActionLLMResponse ActionKind = "llm_response"
)

// Route is the classifier's decision for an instruction.
type Route string

const (
	RoutePayload    Route = "payload"
	RouteReplay     Route = "replay"
	RouteImpossible Route = "impossible"
	// RouteUnified marks sessions run by the single all-tools specialist.
	RouteUnified Route = "unified"
)

// ParseRoute accepts only the classifier's closed set.
func ParseRoute(s string) (Route, bool) {
	switch r := Route(s); r {
	case RoutePayload, RouteReplay, RouteImpossible:
		return r, true
	}
	return "", false
}

// Counters are the mutable, monotonically non-decreasing totals of a session.
type Counters struct {
	Iterations   int     `json:"total_iterations"`
	ToolCalls    int     `json:"total_tool_calls"`
	Renders      int     `json:"total_rerenders"`
	TokensInput  int64   `json:"total_tokens_input"`
	TokensOutput int64   `json:"total_tokens_output"`
	CostUSD      float64 `json:"total_cost_usd"`
}

// Session is one run of the orchestrator against one job instruction.
type Session struct {
	ID          string `json:"session_id"`
	JobID       string `json:"job_id"`
	UserID      string `json:"user_id,omitempty"`
	Instruction string `json:"instruction"`
	Route       Route  `json:"route,omitempty"`

	Model           string  `json:"model"`
	MaxIterations   int     `json:"max_iterations"`
	MaxSandboxCalls int     `json:"max_sandbox_calls"`
	BudgetLimitUSD  float64 `json:"budget_limit_usd"`

	Counters

	Status        Status     `json:"status"`
	ResultSummary string     `json:"result_summary,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	DurationMs    int64      `json:"duration_ms,omitempty"`
}

// Action is one immutable event inside a session.
type Action struct {
	ID        string     `json:"action_id"`
	SessionID string     `json:"session_id"`
	Iteration int        `json:"iteration"`
	Kind      ActionKind `json:"action_type"`

	ToolName       string          `json:"tool_name,omitempty"`
	ToolArgs       json.RawMessage `json:"tool_args,omitempty"`
	ToolResult     json.RawMessage `json:"tool_result,omitempty"`
	ToolDurationMs int64           `json:"tool_duration_ms,omitempty"`
	ToolSuccess    bool            `json:"tool_success"`

	ResponseText string  `json:"llm_response,omitempty"`
	TokensInput  int64   `json:"tokens_input"`
	TokensOutput int64   `json:"tokens_output"`
	CostUSD      float64 `json:"cost_usd"`

	CreatedAt time.Time `json:"created_at"`
}
