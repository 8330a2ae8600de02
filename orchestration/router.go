// Router - instruction classifier.
//
// One tool-less model call labels an instruction with a route. Any failure
// degrades to the payload route; classification never aborts a request.
//
// Information Hiding:
// - Classifier prompt and decoding hidden
// - Fallback policy hidden
// - Router cost accounting hidden

package orchestration

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/richinex/vdirector/agent"
	"github.com/richinex/vdirector/internal/llmjson"
	"github.com/richinex/vdirector/llm"
	"github.com/richinex/vdirector/model"
)

// Router call parameters.
const (
	DefaultRoute         = model.RoutePayload
	RouterMaxTokens      = 100
	DefaultRouterTimeout = 30 * time.Second
)

// Classification is the router's decision for one instruction.
type Classification struct {
	Route  model.Route
	Reason string
	Usage  llm.TokenUsage
	// CostUSD is the price of the classification call.
	CostUSD float64
	// Fallback is set when the route was substituted after a failure.
	Fallback bool
}

// routeReply is the JSON object the classifier is asked to emit.
type routeReply struct {
	Route  string `json:"route"`
	Reason string `json:"reason"`
}

// Router classifies instructions.
type Router struct {
	provider llm.Provider
	prompt   string
	pricing  *llm.PriceTable
	timeout  time.Duration
	logger   *zap.Logger
}

// NewRouter creates a router using prompt as its system prompt.
func NewRouter(provider llm.Provider, prompt string, pricing *llm.PriceTable, logger *zap.Logger) *Router {
	if pricing == nil {
		pricing = llm.DefaultPricing()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		provider: provider,
		prompt:   prompt,
		pricing:  pricing,
		timeout:  DefaultRouterTimeout,
		logger:   logger,
	}
}

// WithTimeout sets the classification call timeout.
func (r *Router) WithTimeout(d time.Duration) *Router {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Model returns the classifier model id.
func (r *Router) Model() string {
	return r.provider.Model()
}

// Classify labels an instruction. It always returns a usable route.
func (r *Router) Classify(ctx context.Context, instruction string, context map[string]any) Classification {
	callCtx, cancel := contextWithTimeout(ctx, r.timeout)
	defer cancel()

	completion, err := r.provider.Complete(callCtx, llm.Request{
		Messages: []llm.ChatMessage{
			llm.SystemMessage(r.prompt),
			llm.UserMessage(agent.RouterTurn(instruction, context)),
		},
		Format:      llm.NewJSONObjectFormat(),
		Temperature: llm.Float32(0),
		MaxTokens:   RouterMaxTokens,
	})
	if err != nil {
		r.logger.Error("router call failed, falling back",
			zap.String("fallback", string(DefaultRoute)),
			zap.Error(err))
		return fallback(failureCategory(err))
	}

	reply, err := llmjson.Decode[routeReply](completion.Content)
	if err != nil {
		r.logger.Error("router reply is not JSON, falling back",
			zap.String("fallback", string(DefaultRoute)),
			zap.Error(err))
		return fallback("malformed response")
	}

	c := Classification{
		Reason:  reply.Reason,
		Usage:   completion.Usage,
		CostUSD: r.pricing.Cost(r.provider.Model(), completion.Usage),
	}
	route, ok := model.ParseRoute(reply.Route)
	if !ok {
		r.logger.Warn("router returned an invalid route, falling back",
			zap.String("route", reply.Route),
			zap.String("fallback", string(DefaultRoute)))
		route = DefaultRoute
		c.Fallback = true
	}
	c.Route = route

	r.logger.Info("instruction routed",
		zap.String("route", string(route)),
		zap.String("reason", reply.Reason),
		zap.Int64("tokens_input", completion.Usage.InputTokens),
		zap.Int64("tokens_output", completion.Usage.OutputTokens))
	return c
}

func fallback(category string) Classification {
	return Classification{
		Route:    DefaultRoute,
		Reason:   "router error, fallback: " + category,
		Fallback: true,
	}
}

func failureCategory(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "provider error"
	}
}

func contextWithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
