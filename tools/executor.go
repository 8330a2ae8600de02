// Tool Executor with timeout and retry logic.
//
// Information Hiding:
// - Retry strategy implementation hidden
// - Backoff algorithm hidden
// - Error classification logic hidden

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Executor runs tools under a timeout, recovering panics. Idempotent tools
// are retried on retryable failures when MaxRetries is set.
type Executor struct {
	config ToolConfig
	logger *zap.Logger
}

// NewExecutor creates a new tool executor with the given configuration.
func NewExecutor(config ToolConfig, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{config: config, logger: logger}
}

// NewDefaultExecutor creates an executor with default configuration.
func NewDefaultExecutor() *Executor {
	return NewExecutor(DefaultToolConfig(), nil)
}

// Execute runs tool once, plus retries for idempotent tools whose failure
// is retryable. It always returns a non-nil Result.
func (e *Executor) Execute(ctx context.Context, tool Tool, def Definition, args json.RawMessage) Result {
	timeout := def.Timeout
	if timeout == 0 {
		timeout = e.config.Timeout()
	}
	maxRetries := uint32(0)
	if def.Idempotent {
		maxRetries = e.config.Retries()
	}

	var result Result
	for attempt := uint32(0); ; attempt++ {
		if attempt > 0 {
			backoff := e.calculateBackoff(attempt)
			e.logger.Debug("retrying tool",
				zap.String("tool", def.Name),
				zap.Uint32("attempt", attempt),
				zap.Duration("backoff", backoff))
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return classify(ctx, ctx.Err()).Result()
			case <-timer.C:
			}
		}

		result = e.executeOnce(ctx, tool, args, timeout)
		if !result.Failed() || attempt >= maxRetries || !shouldRetry(result) {
			return result
		}
	}
}

// executeOnce runs a single attempt under its own timeout.
func (e *Executor) executeOnce(ctx context.Context, tool Tool, args json.RawMessage, timeout time.Duration) (result Result) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("tool panicked",
				zap.String("tool", tool.Definition().Name),
				zap.Any("panic", rec))
			result = (&Error{Category: CategoryPanic, Message: fmt.Sprint(rec)}).Result()
		}
	}()

	res, err := tool.Invoke(ctx, args)
	if err != nil {
		return classify(ctx, err).Result()
	}
	if res == nil {
		res = Result{}
	}
	return res
}

// calculateBackoff returns the backoff duration for the given attempt.
func (e *Executor) calculateBackoff(attempt uint32) time.Duration {
	const (
		baseDelay = 100 * time.Millisecond
		maxDelay  = 5 * time.Second
	)

	delay := baseDelay * time.Duration(1<<attempt)
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// shouldRetry retries transient backend failures and timeouts only.
func shouldRetry(result Result) bool {
	if result.Retryable() {
		return true
	}
	cat, _ := result[KeyCategory].(string)
	return Category(cat) == CategoryTimeout || Category(cat) == CategoryTransport
}

// classify maps a handler error to a categorized tool error.
func classify(ctx context.Context, err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &Error{Category: CategoryTimeout, Message: "tool call timed out", Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Category: CategoryCancelled, Message: "tool call cancelled", Err: err}
	}
	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return &Error{Category: CategoryTransport, Message: err.Error(), Err: err}
	}
	return &Error{Category: CategoryInternal, Message: err.Error(), Err: err}
}
