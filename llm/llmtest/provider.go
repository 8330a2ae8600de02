// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/richinex/vdirector/llm"
)

// ErrScriptExhausted is returned once every scripted step has been consumed
// and no repeat step is configured.
var ErrScriptExhausted = errors.New("llmtest: script exhausted")

// Step is one scripted model turn.
type Step struct {
	Completion llm.Completion
	Err        error
	// Delay blocks the call, honouring ctx, before answering.
	Delay time.Duration
}

// Provider replays Steps in order and records every request it receives.
type Provider struct {
	mu       sync.Mutex
	name     string
	model    string
	steps    []Step
	repeat   *Step
	requests []llm.Request
}

// New creates a scripted provider for model.
func New(model string, steps ...Step) *Provider {
	return &Provider{name: "llmtest", model: model, steps: steps}
}

// Repeat sets a step that answers every call after the script runs out.
func (p *Provider) Repeat(step Step) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.repeat = &step
	return p
}

// Name returns "llmtest".
func (p *Provider) Name() string { return p.name }

// Model returns the configured model id.
func (p *Provider) Model() string { return p.model }

// Complete answers with the next scripted step.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (llm.Completion, error) {
	p.mu.Lock()
	recorded := req
	recorded.Messages = append([]llm.ChatMessage(nil), req.Messages...)
	p.requests = append(p.requests, recorded)
	var step Step
	switch {
	case len(p.steps) > 0:
		step = p.steps[0]
		p.steps = p.steps[1:]
	case p.repeat != nil:
		step = *p.repeat
	default:
		p.mu.Unlock()
		return llm.Completion{}, ErrScriptExhausted
	}
	p.mu.Unlock()

	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return llm.Completion{}, ctx.Err()
		}
	}
	if step.Err != nil {
		return llm.Completion{}, step.Err
	}
	return step.Completion, nil
}

// Requests returns a copy of every request received so far.
func (p *Provider) Requests() []llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.Request(nil), p.requests...)
}

// Calls returns how many times Complete was invoked.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Text scripts a final free-text answer.
func Text(content string, in, out int64) Step {
	return Step{Completion: llm.Completion{
		Content: content,
		Usage:   llm.TokenUsage{InputTokens: in, OutputTokens: out},
	}}
}

// Tools scripts a turn that requests the given tool calls.
func Tools(in, out int64, calls ...llm.ToolCall) Step {
	return Step{Completion: llm.Completion{
		ToolCalls: calls,
		Usage:     llm.TokenUsage{InputTokens: in, OutputTokens: out},
	}}
}

// Fail scripts a provider error.
func Fail(err error) Step {
	return Step{Err: err}
}

// Call builds a tool call whose arguments are args marshalled to JSON.
func Call(id, name string, args map[string]any) llm.ToolCall {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		panic(fmt.Sprintf("llmtest: marshal args: %v", err))
	}
	return llm.ToolCall{ID: id, Name: name, Arguments: raw}
}
