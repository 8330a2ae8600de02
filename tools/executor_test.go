package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func flakyTool(idempotent bool, failures int, status int) (*funcTool, *int) {
	calls := 0
	tool := newFuncTool("flaky", func(context.Context, json.RawMessage) (Result, error) {
		calls++
		if calls <= failures {
			return BackendResponse{Status: status}.Failure("flaky"), nil
		}
		return Result{"ok": true}, nil
	})
	tool.def.Idempotent = idempotent
	return tool, &calls
}

func TestExecutorNoRetryByDefault(t *testing.T) {
	tool, calls := flakyTool(true, 1, 503)
	e := NewDefaultExecutor()

	res := e.Execute(context.Background(), tool, tool.def, json.RawMessage(`{}`))
	assert.True(t, res.Failed())
	assert.True(t, res.Retryable())
	assert.Equal(t, 1, *calls)
}

func TestExecutorRetriesIdempotentTransientFailures(t *testing.T) {
	tool, calls := flakyTool(true, 1, 502)
	e := NewExecutor(ToolConfig{MaxRetries: 2}, nil)

	res := e.Execute(context.Background(), tool, tool.def, json.RawMessage(`{}`))
	assert.False(t, res.Failed())
	assert.Equal(t, 2, *calls)
}

func TestExecutorNeverRetriesNonIdempotent(t *testing.T) {
	tool, calls := flakyTool(false, 1, 503)
	e := NewExecutor(ToolConfig{MaxRetries: 3}, nil)

	res := e.Execute(context.Background(), tool, tool.def, json.RawMessage(`{}`))
	assert.True(t, res.Failed())
	assert.Equal(t, 1, *calls)
}

func TestExecutorDoesNotRetryClientErrors(t *testing.T) {
	tool, calls := flakyTool(true, 1, 422)
	e := NewExecutor(ToolConfig{MaxRetries: 3}, nil)

	res := e.Execute(context.Background(), tool, tool.def, json.RawMessage(`{}`))
	assert.True(t, res.Failed())
	assert.False(t, res.Retryable())
	assert.Equal(t, 1, *calls)
}

func TestCalculateBackoffCapped(t *testing.T) {
	e := NewDefaultExecutor()
	assert.Equal(t, e.calculateBackoff(1)*2, e.calculateBackoff(2))
	assert.Equal(t, e.calculateBackoff(20), e.calculateBackoff(30))
}
