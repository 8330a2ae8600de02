package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedProvider blocks each Complete call until the shared token bucket
// admits it. One instance is meant to sit at the process boundary so that all
// sessions on a replica draw from the same request budget.
type RateLimitedProvider struct {
	next    Provider
	limiter *rate.Limiter
}

// NewRateLimitedProvider wraps next with a requests-per-minute limit. A
// non-positive rpm returns next unchanged.
func NewRateLimitedProvider(next Provider, rpm int) Provider {
	if rpm <= 0 || next == nil {
		return next
	}
	burst := rpm / 10
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedProvider{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst),
	}
}

// Name returns the wrapped provider name.
func (p *RateLimitedProvider) Name() string {
	return p.next.Name()
}

// Model returns the wrapped provider model.
func (p *RateLimitedProvider) Model() string {
	return p.next.Model()
}

// Complete waits for capacity, then delegates. Waiting honours ctx, so a
// model-call timeout also bounds the time spent queued.
func (p *RateLimitedProvider) Complete(ctx context.Context, req Request) (Completion, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return Completion{}, fmt.Errorf("rate limit wait: %w", err)
	}
	return p.next.Complete(ctx, req)
}

var _ Provider = (*RateLimitedProvider)(nil)
