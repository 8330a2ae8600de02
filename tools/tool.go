// Package tools provides the tool system for the director.
//
// Information Hiding:
// - Tool execution details hidden behind interface
// - Tool parameters and schemas hidden in implementations
// - Registry implementation details hidden from consumers
// - Failures are returned as data, never as panics
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/richinex/vdirector/llm"
)

// ErrToolNotFound is wrapped by lookups of unregistered names.
var ErrToolNotFound = errors.New("tool not found")

// Result is the JSON object a tool hands back to the model. A result that
// carries an "error" key is a failure; anything else is a success.
type Result map[string]any

// Result keys with meaning to the loop and executor.
const (
	KeyError     = "error"
	KeyCategory  = "error_category"
	KeyStatus    = "status"
	KeyRetryable = "retryable"
)

// Failed reports whether the result carries an error.
func (r Result) Failed() bool {
	_, ok := r[KeyError]
	return ok
}

// ErrorMessage returns the error text, or "" for a successful result.
func (r Result) ErrorMessage() string {
	v, ok := r[KeyError]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// PublicError returns the error text that may leave the process. Transport,
// internal and panic failures are reduced to their category and backend
// rejections to their status; ErrorMessage keeps the full text.
func (r Result) PublicError() string {
	msg := r.ErrorMessage()
	if msg == "" {
		return ""
	}
	cat, _ := r[KeyCategory].(string)
	switch Category(cat) {
	case CategoryTransport:
		return string(CategoryTransport) + ": video service unreachable"
	case CategoryInternal, CategoryPanic:
		return cat + ": tool failed"
	}
	if status, ok := r[KeyStatus].(int); ok {
		return fmt.Sprintf("backend returned %d", status)
	}
	return msg
}

// Retryable reports whether the failure was flagged transient.
func (r Result) Retryable() bool {
	b, _ := r[KeyRetryable].(bool)
	return b
}

// JSON serializes the result for the transcript and the ledger.
func (r Result) JSON() json.RawMessage {
	if r == nil {
		return json.RawMessage("{}")
	}
	raw, err := json.Marshal(r)
	if err != nil {
		raw, _ = json.Marshal(Result{KeyError: "internal: result is not serializable: " + err.Error()})
	}
	return raw
}

// Failure builds an error result with a plain message.
func Failure(format string, args ...any) Result {
	return Result{KeyError: fmt.Sprintf(format, args...)}
}

// Category classifies tool failures.
type Category string

const (
	CategoryNotFound        Category = "not_found"
	CategoryInvalidArgument Category = "invalid_arguments"
	CategoryTimeout         Category = "timeout"
	CategoryCancelled       Category = "cancelled"
	CategoryTransport       Category = "transport"
	CategoryPanic           Category = "panic"
	CategoryInternal        Category = "internal"
)

// Error is a categorized tool failure.
type Error struct {
	Category Category
	Message  string
	Err      error
}

func (e *Error) Error() string {
	return string(e.Category) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Result renders the error as a failed tool result.
func (e *Error) Result() Result {
	return Result{KeyError: e.Error(), KeyCategory: string(e.Category)}
}

// Errorf creates a categorized error.
func Errorf(category Category, format string, args ...any) *Error {
	return &Error{Category: category, Message: fmt.Sprintf(format, args...)}
}

// Definition describes a tool to the model and to the executor.
type Definition struct {
	Name        string
	Description string
	// Parameters is the JSON Schema of the arguments object.
	Parameters map[string]any
	// Idempotent tools may be retried on transient failures.
	Idempotent bool
	// Critical tools mutate job state; their outcome decides whether a
	// request was actually fulfilled.
	Critical bool
	// Timeout overrides the executor default when non-zero.
	Timeout time.Duration
}

// LLM converts the definition to the provider-neutral tool schema.
func (d Definition) LLM() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  d.Parameters,
	}
}

// Tool is the interface that all tools must implement.
//
// Invoke receives arguments that already passed schema validation. A
// returned error is converted into a categorized error result by the
// registry; a panic is recovered the same way.
type Tool interface {
	Definition() Definition
	Invoke(ctx context.Context, args json.RawMessage) (Result, error)
}

// ToolConfig holds tool execution configuration.
// The zero value is safe: timeout defaults to 30s and retries to none.
type ToolConfig struct {
	TimeoutSecs uint64
	MaxRetries  uint32
}

// Timeout returns the configured timeout, defaulting to 30 seconds if zero.
func (c *ToolConfig) Timeout() time.Duration {
	if c == nil || c.TimeoutSecs == 0 {
		return DefaultToolTimeout
	}
	return time.Duration(c.TimeoutSecs) * time.Second
}

// Retries returns the configured max retries for idempotent tools.
func (c *ToolConfig) Retries() uint32 {
	if c == nil {
		return 0
	}
	return c.MaxRetries
}

// DefaultToolConfig returns the default tool configuration.
func DefaultToolConfig() ToolConfig {
	return ToolConfig{TimeoutSecs: 30}
}

// Default timeouts.
const (
	DefaultToolTimeout = 30 * time.Second
	RenderTimeout      = 120 * time.Second
	ReplayTimeout      = 60 * time.Second
)

// decodeArgs unmarshals validated arguments into a typed struct.
func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, v); err != nil {
		return &Error{Category: CategoryInvalidArgument, Message: err.Error(), Err: err}
	}
	return nil
}
