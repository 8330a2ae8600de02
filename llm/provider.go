// Package llm provides LLM provider abstractions.
//
// LLM Provider interface - the abstract interface for LLM providers.
// Each provider implementation hides:
// - API client initialization and authentication
// - Request/response format conversion
// - Provider-specific error handling

package llm

import (
	"context"
)

// Provider defines the abstract interface for LLM providers.
// Implementations hide provider-specific details while exposing
// a single completion call that covers plain text, constrained JSON
// output and tool calling.
type Provider interface {
	// Name returns the provider name (for logging/debugging).
	Name() string

	// Model returns the current model being used.
	Model() string

	// Complete sends one chat completion request. When req.Tools is non-empty
	// the model may answer with tool calls in Completion.ToolCalls.
	Complete(ctx context.Context, req Request) (Completion, error)
}
