package orchestration

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinex/vdirector/agent"
	"github.com/richinex/vdirector/ledger"
	"github.com/richinex/vdirector/llm"
	"github.com/richinex/vdirector/llm/llmtest"
	"github.com/richinex/vdirector/model"
	"github.com/richinex/vdirector/tools"
)

const specialistModel = llm.ModelOpenAIGPT4o

type fixture struct {
	router     *llmtest.Provider
	specialist *llmtest.Provider
	ledger     *ledger.MemoryLedger
	routed     []model.Route
	orch       *Orchestrator
	events     []agent.Event
}

type routeRecorder struct {
	nopObserver
	f *fixture
}

func (r routeRecorder) Routed(route model.Route) { r.f.routed = append(r.f.routed, route) }

func newFixture(t *testing.T, configure func(*Config), router []llmtest.Step, specialist ...llmtest.Step) *fixture {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"job_id":"job-1","tracks":[{"name":"subtitles","items":12}]}`))
	}))
	t.Cleanup(srv.Close)

	backend := tools.NewBackend(srv.URL, "token").WithHTTPClient(srv.Client())
	registry, err := tools.NewVideoRegistry(backend, tools.NewMemoryQuota(time.Hour), tools.DefaultLimits())
	require.NoError(t, err)

	f := &fixture{
		router:     llmtest.New(routerModel, router...),
		specialist: llmtest.New(specialistModel, specialist...),
		ledger:     ledger.NewMemoryLedger(),
	}
	config := DefaultConfig()
	if configure != nil {
		configure(&config)
	}
	f.orch, err = New(config, Deps{
		Provider:       f.specialist,
		RouterProvider: f.router,
		Registry:       registry,
		Ledger:         f.ledger,
		Observer:       routeRecorder{f: f},
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) execute(ctx context.Context) agent.Result {
	return f.orch.Execute(ctx, agent.Request{
		JobID:       "job-1",
		Instruction: "move the subtitles up",
		Context:     map[string]any{"template_id": "tpl-1"},
	}, func(e agent.Event) { f.events = append(f.events, e) })
}

func (f *fixture) types() []agent.EventType {
	out := make([]agent.EventType, len(f.events))
	for i, e := range f.events {
		out[i] = e.Type()
	}
	return out
}

func toolNames(defs []llm.ToolDefinition) []string {
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

func listTracks() llm.ToolCall {
	return llmtest.Call("c1", tools.ListTracks, map[string]any{"job_id": "job-1"})
}

func TestExecutePayloadRoute(t *testing.T) {
	f := newFixture(t, nil,
		[]llmtest.Step{llmtest.Text(`{"route":"payload"}`, 300, 6)},
		llmtest.Tools(2000, 40, listTracks()),
		llmtest.Text("Subtitles moved up.", 2500, 20),
	)

	res := f.execute(context.Background())

	require.Equal(t, model.StatusCompleted, res.Status)
	assert.Equal(t, model.RoutePayload, res.Route)
	assert.Equal(t, []agent.EventType{
		agent.EventRouted, agent.EventSessionCreated, agent.EventToolCall, agent.EventComplete,
	}, f.types())
	assert.Equal(t, []model.Route{model.RoutePayload}, f.routed)

	pricing := llm.DefaultPricing()
	routerCost := pricing.Cost(routerModel, llm.TokenUsage{InputTokens: 300, OutputTokens: 6})
	specialistCost := pricing.Cost(specialistModel, llm.TokenUsage{InputTokens: 2000, OutputTokens: 40}) +
		pricing.Cost(specialistModel, llm.TokenUsage{InputTokens: 2500, OutputTokens: 20})

	routed := f.events[0].(agent.RoutedEvent)
	assert.Equal(t, int64(300), routed.TokensInput)
	assert.InDelta(t, routerCost, routed.CostUSD, 1e-6)

	tool := f.events[2].(agent.ToolCallEvent)
	assert.True(t, tool.Success, tool.Error)

	done := f.events[3].(agent.CompleteEvent)
	assert.Equal(t, model.RoutePayload, done.Route)
	assert.InDelta(t, specialistCost+routerCost, done.TotalCost, 1e-6)
	assert.InDelta(t, specialistCost+routerCost, res.CostUSD, 1e-12)

	// The specialist only ever sees the payload group.
	reqs := f.specialist.Requests()
	require.NotEmpty(t, reqs)
	assert.ElementsMatch(t, tools.PayloadGroup.Tools, toolNames(reqs[0].Tools))

	session, err := f.ledger.GetSession(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.RoutePayload, session.Route)
	assert.InDelta(t, specialistCost, session.CostUSD, 1e-12)
}

func TestExecuteReplayRoute(t *testing.T) {
	f := newFixture(t, nil,
		[]llmtest.Step{llmtest.Text(`{"route":"replay"}`, 300, 6)},
		llmtest.Text("Nothing to do.", 100, 5),
	)

	res := f.execute(context.Background())

	assert.Equal(t, model.RouteReplay, res.Route)
	reqs := f.specialist.Requests()
	require.Len(t, reqs, 1)
	assert.ElementsMatch(t, tools.ReplayGroup.Tools, toolNames(reqs[0].Tools))
	assert.Contains(t, reqs[0].Messages[0].Content, tools.ReplayFromStep)
	assert.NotContains(t, reqs[0].Messages[0].Content, tools.ModifyPayload)
}

func TestExecuteImpossibleRoute(t *testing.T) {
	f := newFixture(t, nil,
		[]llmtest.Step{llmtest.Text(`{"route":"impossible","reason":"needs a new recording"}`, 300, 12)},
	)

	res := f.execute(context.Background())

	assert.Equal(t, []agent.EventType{agent.EventRouted, agent.EventComplete}, f.types())
	assert.Zero(t, f.specialist.Calls())
	assert.Equal(t, model.StatusCompleted, res.Status)
	assert.Zero(t, res.Iterations)
	assert.Contains(t, res.Text, "needs a new recording")

	routerCost := llm.DefaultPricing().Cost(routerModel, llm.TokenUsage{InputTokens: 300, OutputTokens: 12})
	done := f.events[1].(agent.CompleteEvent)
	assert.Equal(t, model.RouteImpossible, done.Route)
	assert.Zero(t, done.Iterations)
	assert.Zero(t, done.ToolCalls)
	assert.InDelta(t, routerCost, done.TotalCost, 1e-6)

	session, err := f.ledger.GetSession(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, session.Status)
	assert.Equal(t, model.RouteImpossible, session.Route)
	assert.Zero(t, session.Iterations)
	assert.InDelta(t, routerCost, session.CostUSD, 1e-12)
	assert.Equal(t, routerModel, session.Model)
}

func TestExecuteRouterFailureFallsBackToPayload(t *testing.T) {
	f := newFixture(t, nil,
		[]llmtest.Step{llmtest.Fail(errors.New("503"))},
		llmtest.Text("ok", 10, 1),
	)

	res := f.execute(context.Background())

	assert.Equal(t, model.RoutePayload, res.Route)
	routed := f.events[0].(agent.RoutedEvent)
	assert.Equal(t, "router error, fallback: provider error", routed.Reason)
	assert.Zero(t, routed.CostUSD)
	assert.Equal(t, 1, f.specialist.Calls())
}

func TestExecuteErrorDoesNotAddRouterCost(t *testing.T) {
	f := newFixture(t, nil,
		[]llmtest.Step{llmtest.Text(`{"route":"payload"}`, 300, 6)},
		llmtest.Tools(1000, 10, listTracks()),
		llmtest.Fail(errors.New("upstream")),
	)

	res := f.execute(context.Background())

	assert.Equal(t, model.StatusError, res.Status)
	specialistCost := llm.DefaultPricing().Cost(specialistModel, llm.TokenUsage{InputTokens: 1000, OutputTokens: 10})
	assert.InDelta(t, specialistCost, res.CostUSD, 1e-12)
	last := f.events[len(f.events)-1].(agent.ErrorEvent)
	assert.InDelta(t, specialistCost, last.TotalCost, 1e-6)
}

func TestExecuteUnifiedMode(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.RouterEnabled = false },
		nil,
		llmtest.Text("done", 10, 1),
	)

	res := f.execute(context.Background())

	assert.Equal(t, model.RouteUnified, res.Route)
	assert.Equal(t, []agent.EventType{agent.EventSessionCreated, agent.EventComplete}, f.types())
	assert.Zero(t, f.router.Calls())
	assert.Empty(t, f.routed)
	assert.False(t, f.orch.RouterEnabled())
	assert.ElementsMatch(t, tools.UnifiedGroup.Tools, toolNames(f.specialist.Requests()[0].Tools))
}

func TestNewRejectsEmptyAllowList(t *testing.T) {
	registry, err := tools.NewVideoRegistry(tools.NewBackend("http://unused", ""), tools.NewMemoryQuota(time.Hour), tools.DefaultLimits())
	require.NoError(t, err)
	config := DefaultConfig()
	config.AllowedTools = []string{"rm_rf"}

	_, err = New(config, Deps{
		Provider: llmtest.New(specialistModel),
		Registry: registry,
		Ledger:   ledger.NewMemoryLedger(),
	})
	assert.ErrorContains(t, err, "no tools of group")
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(DefaultConfig(), Deps{})
	assert.ErrorContains(t, err, "provider")

	_, err = New(DefaultConfig(), Deps{Provider: llmtest.New(specialistModel)})
	assert.ErrorContains(t, err, "registry")
}
