// Orchestrator - smart dispatch.
//
// Classifies an instruction, then delegates to the specialist configured
// for the route. Specialists have disjoint tool sets and prompts so that
// unrelated tools never reach a specialist's context.
//
// Information Hiding:
// - Route to specialist mapping hidden
// - Router cost stitching hidden
// - Unsupported-request short circuit hidden

package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/richinex/vdirector/agent"
	"github.com/richinex/vdirector/ledger"
	"github.com/richinex/vdirector/llm"
	"github.com/richinex/vdirector/model"
	"github.com/richinex/vdirector/prompts"
	"github.com/richinex/vdirector/tools"
)

// Observer receives routing and loop measurements.
type Observer interface {
	agent.Observer
	Routed(route model.Route)
}

type nopObserver struct{}

func (nopObserver) ModelCall(string, error)              {}
func (nopObserver) ToolCall(string, bool, time.Duration) {}
func (nopObserver) SessionDone(model.Status, float64)    {}
func (nopObserver) Routed(model.Route)                   {}

// Config holds orchestrator configuration.
type Config struct {
	// RouterEnabled selects smart dispatch. When false every request runs
	// the unified specialist and no routed event is emitted.
	RouterEnabled bool
	RouterTimeout time.Duration

	// Specialist is the base configuration shared by every specialist;
	// group, name and prompt are filled per route.
	Specialist agent.Config
	// Limits are rendered into the prompts.
	Limits prompts.Limits
	// AllowedTools narrows every group. Nil means no restriction.
	AllowedTools []string
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	base := agent.DefaultConfig(tools.UnifiedGroup)
	limits := tools.DefaultLimits()
	return Config{
		RouterEnabled: true,
		RouterTimeout: DefaultRouterTimeout,
		Specialist:    base,
		Limits: prompts.Limits{
			MaxIterations:   base.MaxIterations,
			MaxSandboxCalls: base.MaxSandboxCalls,
			MaxRenders:      limits.MaxRenders,
			MaxReplays:      limits.MaxReplays,
			BudgetUSD:       base.BudgetUSD,
		},
	}
}

// Deps are the collaborators the orchestrator is wired with.
type Deps struct {
	Provider       llm.Provider
	RouterProvider llm.Provider
	Registry       *tools.Registry
	Ledger         ledger.Ledger
	Pricing        *llm.PriceTable
	Catalog        *prompts.Catalog
	Logger         *zap.Logger
	Observer       Observer
}

// route binds a route to its group and prompt variant.
type route struct {
	route   model.Route
	group   tools.Group
	variant string
}

var routes = []route{
	{model.RoutePayload, tools.PayloadGroup, prompts.Payload},
	{model.RouteReplay, tools.ReplayGroup, prompts.Replay},
}

// Orchestrator dispatches requests to specialists. It is safe for
// concurrent use.
type Orchestrator struct {
	router      *Router
	specialists map[model.Route]*agent.Specialist
	unified     *agent.Specialist
	ledger      ledger.Ledger
	logger      *zap.Logger
	observer    Observer
}

// New builds the router and the specialists from the prompt catalog.
func New(config Config, deps Deps) (*Orchestrator, error) {
	if deps.Provider == nil {
		return nil, errors.New("orchestrator needs a model provider")
	}
	if deps.Registry == nil || deps.Ledger == nil {
		return nil, errors.New("orchestrator needs a tool registry and a ledger")
	}
	if deps.Catalog == nil {
		catalog, err := prompts.Load()
		if err != nil {
			return nil, err
		}
		deps.Catalog = catalog
	}
	if deps.Pricing == nil {
		deps.Pricing = llm.DefaultPricing()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}

	o := &Orchestrator{
		specialists: make(map[model.Route]*agent.Specialist, len(routes)),
		ledger:      deps.Ledger,
		logger:      deps.Logger,
		observer:    deps.Observer,
	}

	if !config.RouterEnabled {
		s, err := buildSpecialist(config, deps, tools.UnifiedGroup, prompts.Unified)
		if err != nil {
			return nil, err
		}
		o.unified = s
		return o, nil
	}

	for _, r := range routes {
		s, err := buildSpecialist(config, deps, r.group, r.variant)
		if err != nil {
			return nil, err
		}
		o.specialists[r.route] = s
	}
	routerPrompt, err := deps.Catalog.Render(prompts.Router, config.Limits)
	if err != nil {
		return nil, err
	}
	routerProvider := deps.RouterProvider
	if routerProvider == nil {
		routerProvider = deps.Provider
	}
	o.router = NewRouter(routerProvider, routerPrompt, deps.Pricing, deps.Logger.Named("router")).
		WithTimeout(config.RouterTimeout)
	return o, nil
}

func buildSpecialist(config Config, deps Deps, group tools.Group, variant string) (*agent.Specialist, error) {
	group = group.Restrict(config.AllowedTools)
	if len(group.Tools) == 0 {
		return nil, fmt.Errorf("no tools of group %q are allowed", variant)
	}
	prompt, err := deps.Catalog.RenderFor(variant, config.Limits, group.Tools, deps.Registry.Names())
	if err != nil {
		return nil, err
	}

	sc := config.Specialist
	sc.Name = variant
	sc.Group = group
	sc.SystemPrompt = prompt
	return agent.NewBuilder(group).
		Config(sc).
		Provider(deps.Provider).
		Registry(deps.Registry).
		Ledger(deps.Ledger).
		Pricing(deps.Pricing).
		Logger(deps.Logger.Named(variant)).
		Observer(deps.Observer).
		Build()
}

// RouterEnabled reports whether requests are classified.
func (o *Orchestrator) RouterEnabled() bool {
	return o.router != nil
}

// Execute runs one request to completion, streaming events to sink.
func (o *Orchestrator) Execute(ctx context.Context, req agent.Request, sink agent.Sink) agent.Result {
	if sink == nil {
		sink = agent.Discard
	}
	if o.router == nil {
		req.Route = model.RouteUnified
		return o.unified.Run(ctx, req, sink)
	}

	c := o.router.Classify(ctx, req.Instruction, req.Context)
	o.observer.Routed(c.Route)
	sink(agent.RoutedEvent{
		Route:        c.Route,
		Reason:       c.Reason,
		TokensInput:  c.Usage.InputTokens,
		TokensOutput: c.Usage.OutputTokens,
		CostUSD:      agent.RoundCost(c.CostUSD),
	})
	req.Route = c.Route

	if c.Route == model.RouteImpossible {
		return o.unsupported(ctx, req, c, sink)
	}

	specialist := o.specialists[c.Route]
	result := specialist.Run(ctx, req, func(e agent.Event) {
		if done, ok := e.(agent.CompleteEvent); ok {
			done.TotalCost = agent.RoundCost(done.TotalCost + c.CostUSD)
			done.Route = c.Route
			e = done
		}
		sink(e)
	})
	if result.Completed() {
		result.CostUSD += c.CostUSD
	}
	return result
}

// unsupported answers an impossible request without a specialist. The
// session is still recorded so every request is auditable.
func (o *Orchestrator) unsupported(ctx context.Context, req agent.Request, c Classification, sink agent.Sink) agent.Result {
	text := "This request cannot be done with the available video tools."
	if c.Reason != "" {
		text += " " + c.Reason
	}

	result := agent.Result{
		Status: model.StatusCompleted,
		Text:   text,
		Route:  model.RouteImpossible,
		Counters: model.Counters{
			TokensInput:  c.Usage.InputTokens,
			TokensOutput: c.Usage.OutputTokens,
			CostUSD:      c.CostUSD,
		},
	}

	ledgerCtx := context.WithoutCancel(ctx)
	session := &model.Session{
		JobID:       req.JobID,
		UserID:      req.UserID,
		Instruction: req.Instruction,
		Route:       model.RouteImpossible,
		Model:       o.router.Model(),
	}
	if err := o.record(ledgerCtx, session, result); err != nil {
		o.logger.Error("failed to record unsupported request",
			zap.String("job_id", req.JobID),
			zap.Error(err))
	}
	result.SessionID = session.ID

	o.observer.SessionDone(result.Status, result.CostUSD)
	sink(agent.CompleteEvent{
		SessionID: result.SessionID,
		Status:    result.Status,
		Result:    text,
		Route:     model.RouteImpossible,
		TotalCost: agent.RoundCost(result.CostUSD),
	})
	return result
}

func (o *Orchestrator) record(ctx context.Context, s *model.Session, result agent.Result) error {
	if err := o.ledger.CreateSession(ctx, s); err != nil {
		return err
	}
	if err := o.ledger.UpdateCounters(ctx, s.ID, result.Counters); err != nil {
		return err
	}
	return o.ledger.CompleteSession(ctx, s.ID, ledger.Completion{Status: result.Status, Summary: result.Text})
}
