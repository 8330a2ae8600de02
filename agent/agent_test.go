package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/richinex/vdirector/ledger"
	"github.com/richinex/vdirector/llm"
	"github.com/richinex/vdirector/llm/llmtest"
	"github.com/richinex/vdirector/model"
	"github.com/richinex/vdirector/tools"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

const testModel = llm.ModelOpenAIGPT4oMini

var testGroup = tools.Group{Name: "test", Tools: []string{"probe", "broken", tools.ReRender}}

type stubTool struct {
	def tools.Definition
	fn  func(ctx context.Context, args json.RawMessage) (tools.Result, error)
}

func (s *stubTool) Definition() tools.Definition { return s.def }

func (s *stubTool) Invoke(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	return s.fn(ctx, args)
}

// harness wires a specialist to stub tools and an in-memory ledger.
type harness struct {
	registry  *tools.Registry
	ledger    *ledger.MemoryLedger
	invoked   map[string]int
	sessions  []string
	renderErr string
	// probeHook runs inside probe; a non-nil error fails the call.
	probeHook func(ctx context.Context) error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		registry: tools.NewRegistry(),
		ledger:   ledger.NewMemoryLedger(),
		invoked:  map[string]int{},
	}
	object := map[string]any{"type": "object"}
	h.registry.MustRegister(
		&stubTool{
			def: tools.Definition{Name: "probe", Description: "observes the job", Parameters: object},
			fn: func(ctx context.Context, _ json.RawMessage) (tools.Result, error) {
				h.invoked["probe"]++
				id, _ := tools.SessionFrom(ctx)
				h.sessions = append(h.sessions, id)
				if h.probeHook != nil {
					if err := h.probeHook(ctx); err != nil {
						return nil, err
					}
				}
				return tools.Result{"tracks": []string{"subtitles", "broll"}}, nil
			},
		},
		&stubTool{
			def: tools.Definition{Name: "broken", Description: "always fails", Parameters: object},
			fn: func(context.Context, json.RawMessage) (tools.Result, error) {
				h.invoked["broken"]++
				return nil, errors.New("backend down")
			},
		},
		&stubTool{
			def: tools.Definition{Name: tools.ReRender, Description: "renders", Parameters: object, Critical: true},
			fn: func(context.Context, json.RawMessage) (tools.Result, error) {
				h.invoked[tools.ReRender]++
				if h.renderErr != "" {
					return tools.Result{tools.KeyError: h.renderErr}, nil
				}
				return tools.Result{"success": true}, nil
			},
		},
		&stubTool{
			def: tools.Definition{Name: "secret", Description: "not in the group", Parameters: object},
			fn: func(context.Context, json.RawMessage) (tools.Result, error) {
				h.invoked["secret"]++
				return tools.Result{}, nil
			},
		},
	)
	return h
}

func (h *harness) specialist(t *testing.T, p llm.Provider, configure func(*Config)) *Specialist {
	t.Helper()
	config := DefaultConfig(testGroup)
	config.SystemPrompt = "You edit videos."
	if configure != nil {
		configure(&config)
	}
	s, err := NewBuilder(testGroup).
		Config(config).
		Provider(p).
		Registry(h.registry).
		Ledger(h.ledger).
		Build()
	require.NoError(t, err)
	return s
}

type recorder struct {
	events []Event
}

func (r *recorder) sink(e Event) { r.events = append(r.events, e) }

func (r *recorder) types() []EventType {
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type()
	}
	return out
}

func (r *recorder) last() Event {
	return r.events[len(r.events)-1]
}

func call(id, name string) llm.ToolCall {
	return llmtest.Call(id, name, map[string]any{"job_id": "job-1"})
}

func request() Request {
	return Request{
		JobID:       "job-1",
		Instruction: "make the subtitles blue",
		UserID:      "user-1",
		Context:     map[string]any{"template_id": "tpl-9"},
		Route:       model.RoutePayload,
	}
}

func TestRunCompletesAfterTools(t *testing.T) {
	h := newHarness(t)
	p := llmtest.New(testModel,
		llmtest.Tools(1000, 50, call("c1", "probe")),
		llmtest.Tools(1200, 40, call("c2", "probe")),
		llmtest.Text("The subtitles are now blue.", 1500, 30),
	)
	s := h.specialist(t, p, nil)
	rec := &recorder{}

	res := s.Run(context.Background(), request(), rec.sink)

	assert.Equal(t, model.StatusCompleted, res.Status)
	assert.Equal(t, "The subtitles are now blue.", res.Text)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 2, res.ToolCalls)
	assert.Equal(t, int64(3700), res.TokensInput)
	assert.Equal(t, int64(120), res.TokensOutput)
	pricing := llm.DefaultPricing()
	want := pricing.Cost(testModel, llm.TokenUsage{InputTokens: 1000, OutputTokens: 50}) +
		pricing.Cost(testModel, llm.TokenUsage{InputTokens: 1200, OutputTokens: 40}) +
		pricing.Cost(testModel, llm.TokenUsage{InputTokens: 1500, OutputTokens: 30})
	assert.InDelta(t, want, res.CostUSD, 1e-12)

	assert.Equal(t, []EventType{EventSessionCreated, EventToolCall, EventToolCall, EventComplete}, rec.types())
	done := rec.last().(CompleteEvent)
	assert.Equal(t, res.SessionID, done.SessionID)
	assert.Equal(t, 3, done.Iterations)
	assert.Equal(t, model.RoutePayload, done.Route)

	ctx := context.Background()
	session, err := h.ledger.GetSession(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, session.Status)
	assert.Equal(t, "The subtitles are now blue.", session.ResultSummary)
	assert.Equal(t, res.Counters, session.Counters)
	assert.Equal(t, testModel, session.Model)
	assert.Equal(t, DefaultMaxIterations, session.MaxIterations)

	actions, err := h.ledger.ListActions(ctx, res.SessionID)
	require.NoError(t, err)
	require.Len(t, actions, 3)
	assert.Equal(t, model.ActionToolCall, actions[0].Kind)
	assert.Equal(t, "probe", actions[0].ToolName)
	assert.True(t, actions[0].ToolSuccess)
	assert.Equal(t, int64(1000), actions[0].TokensInput)
	assert.Equal(t, model.ActionLLMResponse, actions[2].Kind)
	assert.Equal(t, 3, actions[2].Iteration)
	assert.Equal(t, "The subtitles are now blue.", actions[2].ResponseText)

	// Every tool saw the session id.
	assert.Equal(t, []string{res.SessionID, res.SessionID}, h.sessions)
}

func TestRunTranscript(t *testing.T) {
	h := newHarness(t)
	p := llmtest.New(testModel,
		llmtest.Tools(10, 10, call("c1", "probe")),
		llmtest.Text("done", 10, 10),
	)
	s := h.specialist(t, p, nil)

	s.Run(context.Background(), request(), Discard)

	reqs := p.Requests()
	require.Len(t, reqs, 2)
	first := reqs[0]
	require.Len(t, first.Messages, 2)
	assert.Equal(t, llm.RoleSystem, first.Messages[0].Role)
	assert.Equal(t, "You edit videos.", first.Messages[0].Content)
	assert.Equal(t, "Job ID: job-1\nInstruction: make the subtitles blue\nTemplate: tpl-9", first.Messages[1].Content)
	require.NotNil(t, first.Temperature)
	assert.InDelta(t, DefaultTemperature, *first.Temperature, 1e-6)

	names := make([]string, len(first.Tools))
	for i, d := range first.Tools {
		names[i] = d.Name
	}
	assert.ElementsMatch(t, testGroup.Tools, names)

	second := reqs[1].Messages
	require.Len(t, second, 4)
	assert.Equal(t, llm.RoleAssistant, second[2].Role)
	require.Len(t, second[2].ToolCalls, 1)
	assert.Equal(t, llm.RoleTool, second[3].Role)
	assert.Equal(t, "c1", second[3].ToolCallID)
	assert.JSONEq(t, `{"tracks":["subtitles","broll"]}`, second[3].Content)
}

func TestRunTokensOnFirstActionOfTurn(t *testing.T) {
	h := newHarness(t)
	p := llmtest.New(testModel,
		llmtest.Tools(500, 20, call("a", "probe"), call("b", "probe")),
		llmtest.Text("ok", 100, 10),
	)
	s := h.specialist(t, p, nil)

	res := s.Run(context.Background(), request(), Discard)
	require.Equal(t, model.StatusCompleted, res.Status)

	actions, err := h.ledger.ListActions(context.Background(), res.SessionID)
	require.NoError(t, err)
	require.Len(t, actions, 3)
	assert.Equal(t, int64(500), actions[0].TokensInput)
	assert.Zero(t, actions[1].TokensInput)
	assert.Zero(t, actions[1].CostUSD)
	assert.Equal(t, int64(100), actions[2].TokensInput)

	var sum int64
	for _, a := range actions {
		sum += a.TokensInput
	}
	assert.Equal(t, res.TokensInput, sum)
}

func TestRunMaxIterations(t *testing.T) {
	h := newHarness(t)
	p := llmtest.New(testModel).Repeat(llmtest.Tools(10, 10, call("c", "probe")))
	s := h.specialist(t, p, func(c *Config) { c.MaxIterations = 3 })
	rec := &recorder{}

	res := s.Run(context.Background(), request(), rec.sink)

	assert.Equal(t, model.StatusMaxIterations, res.Status)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 3, p.Calls())
	assert.Contains(t, res.Text, "Iteration limit reached (3)")

	last, ok := rec.last().(ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, model.StatusMaxIterations, last.Status)

	session, err := h.ledger.GetSession(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusMaxIterations, session.Status)
	assert.Equal(t, res.Text, session.ErrorMessage)
}

func TestRunBudgetCheckedBeforeModelCall(t *testing.T) {
	h := newHarness(t)
	// 1M input tokens of gpt-4o-mini cost $0.15 per turn.
	p := llmtest.New(testModel).Repeat(llmtest.Tools(1_000_000, 0, call("c", "probe")))
	s := h.specialist(t, p, func(c *Config) { c.BudgetUSD = 0.20 })

	res := s.Run(context.Background(), request(), Discard)

	assert.Equal(t, model.StatusBudgetExceeded, res.Status)
	assert.Equal(t, 2, p.Calls())
	assert.Equal(t, 2, res.Iterations)
	assert.InDelta(t, 0.30, res.CostUSD, 1e-9)
	assert.Contains(t, res.Text, "Budget limit reached")
}

func TestRunZeroBudgetAllowsFirstCall(t *testing.T) {
	h := newHarness(t)
	p := llmtest.New(testModel).Repeat(llmtest.Tools(100, 0, call("c", "probe")))
	s := h.specialist(t, p, func(c *Config) { c.BudgetUSD = 0 })

	res := s.Run(context.Background(), request(), Discard)

	assert.Equal(t, model.StatusBudgetExceeded, res.Status)
	assert.Equal(t, 1, p.Calls())
}

func TestRunCircuitBreaker(t *testing.T) {
	h := newHarness(t)
	p := llmtest.New(testModel).Repeat(llmtest.Tools(10, 10, call("c", "broken")))
	s := h.specialist(t, p, nil)
	rec := &recorder{}

	res := s.Run(context.Background(), request(), rec.sink)

	assert.Equal(t, model.StatusCircuitBreaker, res.Status)
	assert.Equal(t, 3, res.ToolCalls)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 3, h.invoked["broken"])

	toolEvents := 0
	for _, e := range rec.events {
		if te, ok := e.(ToolCallEvent); ok {
			toolEvents++
			assert.False(t, te.Success)
			assert.Equal(t, "internal: tool failed", te.Error)
		}
	}
	assert.Equal(t, 3, toolEvents)
}

func TestRunCircuitBreakerWithinOneTurn(t *testing.T) {
	h := newHarness(t)
	p := llmtest.New(testModel,
		llmtest.Tools(10, 10, call("a", "broken"), call("b", "broken"), call("c", "broken"), call("d", "probe")),
	)
	s := h.specialist(t, p, nil)

	res := s.Run(context.Background(), request(), Discard)

	assert.Equal(t, model.StatusCircuitBreaker, res.Status)
	assert.Equal(t, 3, res.ToolCalls)
	assert.Zero(t, h.invoked["probe"])
}

func TestRunSuccessResetsBreaker(t *testing.T) {
	h := newHarness(t)
	p := llmtest.New(testModel,
		llmtest.Tools(10, 10, call("a", "broken")),
		llmtest.Tools(10, 10, call("b", "broken")),
		llmtest.Tools(10, 10, call("c", "probe")),
		llmtest.Tools(10, 10, call("d", "broken")),
		llmtest.Tools(10, 10, call("e", "broken")),
		llmtest.Text("done", 10, 10),
	)
	s := h.specialist(t, p, nil)

	res := s.Run(context.Background(), request(), Discard)

	assert.Equal(t, model.StatusCompleted, res.Status)
	assert.Equal(t, 5, res.ToolCalls)
}

func TestRunReconcilesFailedCriticalCalls(t *testing.T) {
	h := newHarness(t)
	h.renderErr = "render queue full"
	p := llmtest.New(testModel,
		llmtest.Tools(10, 10, call("c1", tools.ReRender)),
		llmtest.Text("Done! The subtitles are blue now.", 10, 10),
	)
	s := h.specialist(t, p, nil)
	rec := &recorder{}

	res := s.Run(context.Background(), request(), rec.sink)

	assert.Equal(t, model.StatusCompletedWithErrors, res.Status)
	assert.True(t, strings.HasPrefix(res.Text, "The requested change was NOT applied."))
	assert.Contains(t, res.Text, "- re_render: render queue full")
	assert.Zero(t, res.Renders)
	require.Len(t, res.CriticalCalls, 1)

	done := rec.last().(CompleteEvent)
	assert.Equal(t, model.StatusCompletedWithErrors, done.Status)
	assert.Equal(t, []CriticalCall{{Tool: tools.ReRender, Error: "render queue full"}}, done.CriticalCalls)

	actions, err := h.ledger.ListActions(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, res.Text, actions[len(actions)-1].ResponseText)
}

func TestRunKeepsAnswerWhenOneCriticalCallSucceeded(t *testing.T) {
	h := newHarness(t)
	p := llmtest.New(testModel,
		llmtest.Tools(10, 10, call("c1", tools.ReRender), call("c2", tools.ReRender)),
		llmtest.Text("Rendered.", 10, 10),
	)
	s := h.specialist(t, p, nil)

	res := s.Run(context.Background(), request(), Discard)

	assert.Equal(t, model.StatusCompleted, res.Status)
	assert.Equal(t, "Rendered.", res.Text)
	assert.Equal(t, 2, res.Renders)
	assert.Len(t, res.CriticalCalls, 2)
}

func TestRunEmptyAnswer(t *testing.T) {
	h := newHarness(t)
	p := llmtest.New(testModel, llmtest.Text("", 10, 10))
	s := h.specialist(t, p, nil)

	res := s.Run(context.Background(), request(), Discard)

	assert.Equal(t, model.StatusCompleted, res.Status)
	assert.Equal(t, msgNoAnswer, res.Text)
}

func TestRunToolOutsideGroup(t *testing.T) {
	h := newHarness(t)
	p := llmtest.New(testModel,
		llmtest.Tools(10, 10, call("a", "secret"), call("b", "ghost")),
		llmtest.Text("ok", 10, 10),
	)
	s := h.specialist(t, p, nil)
	rec := &recorder{}

	res := s.Run(context.Background(), request(), rec.sink)

	assert.Equal(t, model.StatusCompleted, res.Status)
	assert.Zero(t, h.invoked["secret"])
	for _, e := range rec.events {
		if te, ok := e.(ToolCallEvent); ok {
			assert.False(t, te.Success)
			assert.Contains(t, te.Error, "tool not found")
		}
	}
}

func TestRunModelError(t *testing.T) {
	h := newHarness(t)
	p := llmtest.New(testModel,
		llmtest.Tools(10, 10, call("a", "probe")),
		llmtest.Fail(errors.New("upstream 503: secret internals")),
	)
	s := h.specialist(t, p, nil)
	rec := &recorder{}

	res := s.Run(context.Background(), request(), rec.sink)

	assert.Equal(t, model.StatusError, res.Status)
	assert.Equal(t, msgModelError, res.Text)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, 2, p.Calls())
	assert.NotContains(t, res.Text, "secret")

	last := rec.last().(ErrorEvent)
	assert.Equal(t, model.StatusError, last.Status)

	session, err := h.ledger.GetSession(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, session.Status)
	assert.Equal(t, msgModelError, session.ErrorMessage)
}

func TestRunModelTimeout(t *testing.T) {
	h := newHarness(t)
	p := llmtest.New(testModel, llmtest.Step{Delay: time.Second})
	s := h.specialist(t, p, func(c *Config) { c.ModelTimeout = 10 * time.Millisecond })

	res := s.Run(context.Background(), request(), Discard)

	assert.Equal(t, model.StatusError, res.Status)
	assert.Equal(t, msgModelTimeout, res.Text)
}

func TestRunCancelledBeforeStart(t *testing.T) {
	h := newHarness(t)
	p := llmtest.New(testModel, llmtest.Text("never", 1, 1))
	s := h.specialist(t, p, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := s.Run(ctx, request(), Discard)

	assert.Equal(t, model.StatusError, res.Status)
	assert.Equal(t, msgCancelled, res.Text)
	assert.Zero(t, p.Calls())

	// The terminal write survives the cancelled request context.
	session, err := h.ledger.GetSession(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, session.Status)
}

func TestRunCancelledDuringModelCall(t *testing.T) {
	h := newHarness(t)
	p := llmtest.New(testModel, llmtest.Step{Delay: time.Minute})
	s := h.specialist(t, p, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res := s.Run(ctx, request(), Discard)

	assert.Equal(t, model.StatusError, res.Status)
	assert.Equal(t, msgCancelled, res.Text)
}

func TestRunCancelledDuringToolCall(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.probeHook = func(toolCtx context.Context) error {
		cancel()
		<-toolCtx.Done()
		return toolCtx.Err()
	}
	p := llmtest.New(testModel, llmtest.Tools(10, 10, call("a", "probe"), call("b", "probe")))
	s := h.specialist(t, p, nil)
	rec := &recorder{}

	res := s.Run(ctx, request(), rec.sink)

	assert.Equal(t, model.StatusError, res.Status)
	assert.Equal(t, msgCancelled, res.Text)
	assert.Equal(t, 1, h.invoked["probe"])
	assert.Equal(t, 1, res.ToolCalls)
	assert.Equal(t, 1, p.Calls())
	assert.Equal(t, []EventType{EventSessionCreated, EventToolCall, EventError}, rec.types())
	te := rec.events[1].(ToolCallEvent)
	assert.False(t, te.Success)
	assert.Equal(t, "cancelled: tool call cancelled", te.Error)

	actions, err := h.ledger.ListActions(context.Background(), res.SessionID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, model.ActionToolCall, actions[0].Kind)
	assert.False(t, actions[0].ToolSuccess)
	assert.JSONEq(t, `{"error":"cancelled: tool call cancelled","error_category":"cancelled"}`, string(actions[0].ToolResult))

	session, err := h.ledger.GetSession(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, session.Status)
	assert.Equal(t, msgCancelled, session.ErrorMessage)
}

func TestRunMalformedArgumentsStayEncodable(t *testing.T) {
	h := newHarness(t)
	truncated := `{"job_id": "job-1`
	p := llmtest.New(testModel,
		llmtest.Tools(10, 10, llm.ToolCall{ID: "a", Name: "probe", Arguments: json.RawMessage(truncated)}),
		llmtest.Text("Could not read the arguments.", 10, 10),
	)
	s := h.specialist(t, p, nil)
	rec := &recorder{}

	res := s.Run(context.Background(), request(), rec.sink)

	assert.Equal(t, model.StatusCompleted, res.Status)
	assert.Zero(t, h.invoked["probe"])
	assert.Equal(t, []EventType{EventSessionCreated, EventToolCall, EventComplete}, rec.types())
	for _, e := range rec.events {
		_, err := json.Marshal(e)
		assert.NoError(t, err, "event %s", e.Type())
	}
	te := rec.events[1].(ToolCallEvent)
	assert.True(t, strings.HasPrefix(te.Error, "invalid_arguments: "), te.Error)
	var args string
	require.NoError(t, json.Unmarshal(te.Args, &args))
	assert.Equal(t, truncated, args)

	actions, err := h.ledger.ListActions(context.Background(), res.SessionID)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	for _, a := range actions {
		_, err := json.Marshal(a)
		assert.NoError(t, err, "action %s", a.Kind)
	}
	assert.JSONEq(t, string(te.Args), string(actions[0].ToolArgs))
}

type failingLedger struct {
	ledger.Ledger
	createErr error
	appendErr error
}

func (f *failingLedger) CreateSession(ctx context.Context, s *model.Session) error {
	if f.createErr != nil {
		return f.createErr
	}
	return f.Ledger.CreateSession(ctx, s)
}

func (f *failingLedger) AppendAction(ctx context.Context, a *model.Action) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	return f.Ledger.AppendAction(ctx, a)
}

func TestRunLedgerUnavailable(t *testing.T) {
	h := newHarness(t)
	p := llmtest.New(testModel, llmtest.Text("never", 1, 1))
	config := DefaultConfig(testGroup)
	config.SystemPrompt = "x"
	s, err := NewBuilder(testGroup).Config(config).Provider(p).Registry(h.registry).
		Ledger(&failingLedger{Ledger: h.ledger, createErr: errors.New("disk full")}).
		Build()
	require.NoError(t, err)
	rec := &recorder{}

	res := s.Run(context.Background(), request(), rec.sink)

	assert.Equal(t, model.StatusError, res.Status)
	assert.Empty(t, res.SessionID)
	assert.Zero(t, p.Calls())
	assert.Equal(t, []EventType{EventError}, rec.types())
}

func TestRunActionWriteFailureStopsSession(t *testing.T) {
	h := newHarness(t)
	p := llmtest.New(testModel).Repeat(llmtest.Tools(1, 1, call("a", "probe")))
	config := DefaultConfig(testGroup)
	config.SystemPrompt = "x"
	s, err := NewBuilder(testGroup).Config(config).Provider(p).Registry(h.registry).
		Ledger(&failingLedger{Ledger: h.ledger, appendErr: errors.New("disk full")}).
		Build()
	require.NoError(t, err)

	res := s.Run(context.Background(), request(), Discard)

	assert.Equal(t, model.StatusError, res.Status)
	assert.Equal(t, msgLedgerFailure, res.Text)
	assert.Equal(t, 1, p.Calls())
}

func TestBuilderValidation(t *testing.T) {
	h := newHarness(t)
	p := llmtest.New(testModel)

	_, err := NewBuilder(testGroup).SystemPrompt("x").Registry(h.registry).Ledger(h.ledger).Build()
	assert.ErrorContains(t, err, "provider")

	_, err = NewBuilder(testGroup).Provider(p).Registry(h.registry).Ledger(h.ledger).Build()
	assert.ErrorContains(t, err, "system prompt")

	_, err = NewBuilder(tools.Group{Name: "empty"}).SystemPrompt("x").
		Provider(p).Registry(h.registry).Ledger(h.ledger).Build()
	assert.ErrorContains(t, err, "no tools")

	_, err = NewBuilder(tools.PayloadGroup).SystemPrompt("x").
		Provider(p).Registry(h.registry).Ledger(h.ledger).Build()
	assert.ErrorContains(t, err, "is not registered")

	_, err = NewBuilder(testGroup).SystemPrompt("x").Budget(-1).
		Provider(p).Registry(h.registry).Ledger(h.ledger).Build()
	assert.ErrorContains(t, err, "budget")

	s, err := NewBuilder(testGroup).SystemPrompt("x").MaxIterations(0).
		Provider(p).Registry(h.registry).Ledger(h.ledger).Build()
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxIterations, s.Config().MaxIterations)
	assert.Equal(t, "test", s.Name())
	assert.Equal(t, testModel, s.Model())
}
