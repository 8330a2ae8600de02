package agent

import (
	"encoding/json"
	"math"

	"github.com/richinex/vdirector/model"
)

// EventType names an event on the session stream.
type EventType string

const (
	EventRouted         EventType = "routed"
	EventSessionCreated EventType = "session_created"
	EventToolCall       EventType = "tool_call"
	EventComplete       EventType = "complete"
	EventError          EventType = "error"
)

// Event is one entry of the ordered session stream. Every event marshals to
// a flat JSON object with a "type" field.
type Event interface {
	Type() EventType
}

// Sink receives events in order. It is called synchronously from the loop.
type Sink func(Event)

// Discard drops every event.
func Discard(Event) {}

// RoutedEvent reports the classifier's decision.
type RoutedEvent struct {
	Route        model.Route `json:"route"`
	Reason       string      `json:"reason,omitempty"`
	TokensInput  int64       `json:"tokens_input"`
	TokensOutput int64       `json:"tokens_output"`
	CostUSD      float64     `json:"cost"`
}

// SessionCreatedEvent opens a specialist session.
type SessionCreatedEvent struct {
	SessionID  string `json:"session_id"`
	Specialist string `json:"specialist"`
}

// ToolCallEvent reports one tool invocation.
type ToolCallEvent struct {
	Iteration  int             `json:"iteration"`
	Tool       string          `json:"tool"`
	Args       json.RawMessage `json:"args"`
	Success    bool            `json:"success"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"duration_ms"`
	CostSoFar  float64         `json:"cost_so_far"`
}

// CompleteEvent ends a session in which the model gave a final answer.
type CompleteEvent struct {
	SessionID     string         `json:"session_id"`
	Status        model.Status   `json:"status"`
	Result        string         `json:"result"`
	Route         model.Route    `json:"route,omitempty"`
	Iterations    int            `json:"total_iterations"`
	ToolCalls     int            `json:"total_tool_calls"`
	TotalCost     float64        `json:"total_cost"`
	CriticalCalls []CriticalCall `json:"critical_failures,omitempty"`
}

// ErrorEvent ends a session on any other terminal status.
type ErrorEvent struct {
	SessionID  string       `json:"session_id,omitempty"`
	Status     model.Status `json:"status"`
	Result     string       `json:"result"`
	Iterations int          `json:"total_iterations"`
	ToolCalls  int          `json:"total_tool_calls"`
	TotalCost  float64      `json:"total_cost"`
}

func (RoutedEvent) Type() EventType         { return EventRouted }
func (SessionCreatedEvent) Type() EventType { return EventSessionCreated }
func (ToolCallEvent) Type() EventType       { return EventToolCall }
func (CompleteEvent) Type() EventType       { return EventComplete }
func (ErrorEvent) Type() EventType          { return EventError }

func (e RoutedEvent) MarshalJSON() ([]byte, error) {
	type alias RoutedEvent
	return json.Marshal(struct {
		Type EventType `json:"type"`
		alias
	}{e.Type(), alias(e)})
}

func (e SessionCreatedEvent) MarshalJSON() ([]byte, error) {
	type alias SessionCreatedEvent
	return json.Marshal(struct {
		Type EventType `json:"type"`
		alias
	}{e.Type(), alias(e)})
}

func (e ToolCallEvent) MarshalJSON() ([]byte, error) {
	type alias ToolCallEvent
	if len(e.Args) == 0 {
		e.Args = json.RawMessage("{}")
	}
	return json.Marshal(struct {
		Type EventType `json:"type"`
		alias
	}{e.Type(), alias(e)})
}

func (e CompleteEvent) MarshalJSON() ([]byte, error) {
	type alias CompleteEvent
	return json.Marshal(struct {
		Type EventType `json:"type"`
		alias
	}{e.Type(), alias(e)})
}

func (e ErrorEvent) MarshalJSON() ([]byte, error) {
	type alias ErrorEvent
	return json.Marshal(struct {
		Type EventType `json:"type"`
		alias
	}{e.Type(), alias(e)})
}

// RoundCost rounds a dollar amount to six decimals for reporting.
func RoundCost(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
