package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/richinex/vdirector/config"
	"github.com/richinex/vdirector/ledger"
	"github.com/richinex/vdirector/llm/llmtest"
	"github.com/richinex/vdirector/model"
	"github.com/richinex/vdirector/orchestration"
	"github.com/richinex/vdirector/tools"
)

func testSettings(t *testing.T) config.Settings {
	t.Helper()
	t.Setenv("ALLOWED_TOOLS", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("DATABASE_URL", "")
	s, err := config.New("openai")
	require.NoError(t, err)
	return s
}

func testApp(t *testing.T, steps ...llmtest.Step) *App {
	t.Helper()
	settings := testSettings(t)
	settings.Router.Enabled = false

	l := ledger.NewMemoryLedger()
	registry, closeQuota, err := NewRegistry(context.Background(), settings, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeQuota() })

	orch, err := orchestration.New(orchestratorConfig(settings), orchestration.Deps{
		Provider: llmtest.New("gpt-4o-mini", steps...),
		Registry: registry,
		Ledger:   l,
	})
	require.NoError(t, err)
	return &App{Settings: settings, Logger: zap.NewNop(), Ledger: l, Registry: registry, Orchestrator: orch}
}

func TestRunWritesJSONLines(t *testing.T) {
	app := testApp(t, llmtest.Text("Nothing to change.", 100, 5))
	var out bytes.Buffer

	err := Run(context.Background(), app, RunRequest{
		JobID:       "job-1",
		Instruction: "is the render finished?",
		Context:     `{"template_id":"tpl-1"}`,
	}, &out)
	require.NoError(t, err)

	var types []string
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var ev map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		types = append(types, ev["type"].(string))
	}
	assert.Equal(t, []string{"session_created", "complete"}, types)

	sessions, total, err := app.Ledger.ListSessions(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, model.StatusCompleted, sessions[0].Status)
}

func TestRunReportsErrorStatus(t *testing.T) {
	app := testApp(t, llmtest.Fail(assert.AnError))

	err := Run(context.Background(), app, RunRequest{JobID: "job-1", Instruction: "x"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "model provider error")
}

func TestRunRejectsBadContext(t *testing.T) {
	app := testApp(t)

	err := Run(context.Background(), app, RunRequest{JobID: "job-1", Instruction: "x", Context: "{"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "invalid --context")
}

func TestListAndShowSessions(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemoryLedger()
	s := &model.Session{JobID: "job-7", Instruction: "trim", Route: model.RouteReplay}
	require.NoError(t, l.CreateSession(ctx, s))
	require.NoError(t, l.CompleteSession(ctx, s.ID, ledger.Completion{Status: model.StatusCompleted, Summary: "done"}))

	var table bytes.Buffer
	require.NoError(t, ListSessions(ctx, l, 20, 0, &table))
	assert.Contains(t, table.String(), s.ID)
	assert.Contains(t, table.String(), "replay")
	assert.Contains(t, table.String(), "1 of 1 sessions")

	var detail bytes.Buffer
	require.NoError(t, ShowSession(ctx, l, s.ID, &detail))
	var body struct {
		Session model.Session  `json:"session"`
		Actions []model.Action `json:"actions"`
	}
	require.NoError(t, json.Unmarshal(detail.Bytes(), &body))
	assert.Equal(t, "done", body.Session.ResultSummary)
	assert.Empty(t, body.Actions)

	assert.ErrorIs(t, ShowSession(ctx, l, "missing", &bytes.Buffer{}), ledger.ErrNotFound)
}

func TestListTools(t *testing.T) {
	settings := testSettings(t)
	registry, closeQuota, err := NewRegistry(context.Background(), settings, zap.NewNop())
	require.NoError(t, err)
	defer closeQuota()

	var out bytes.Buffer
	require.NoError(t, ListTools(registry, "replay", &out))
	assert.Contains(t, out.String(), tools.ReplayFromStep+" [critical]")
	assert.NotContains(t, out.String(), tools.ModifyPayload)

	assert.Error(t, ListTools(registry, "nope", &out))
}

func TestNewRegistryUsesRedisWhenConfigured(t *testing.T) {
	mr := miniredis.RunT(t)
	settings := testSettings(t)
	settings.Storage.RedisURL = "redis://" + mr.Addr() + "/0"

	registry, closeQuota, err := NewRegistry(context.Background(), settings, zap.NewNop())
	require.NoError(t, err)
	defer closeQuota()
	assert.True(t, registry.Has(tools.ReRender))

	settings.Storage.RedisURL = "redis://127.0.0.1:1/0"
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err = NewRegistry(ctx, settings, zap.NewNop())
	assert.Error(t, err)
}

func TestOrchestratorConfigMirrorsSettings(t *testing.T) {
	settings := testSettings(t)
	settings.Director.MaxIterations = 4
	settings.Director.BudgetUSD = 0.25
	settings.Director.MaxRenders = 1
	settings.Tools.Allowed = []string{tools.ListTracks}
	settings.Router.Enabled = false

	c := orchestratorConfig(settings)

	assert.False(t, c.RouterEnabled)
	assert.Equal(t, []string{tools.ListTracks}, c.AllowedTools)
	assert.Equal(t, 4, c.Specialist.MaxIterations)
	assert.Equal(t, 4, c.Limits.MaxIterations)
	assert.Equal(t, 0.25, c.Specialist.BudgetUSD)
	assert.Equal(t, 0.25, c.Limits.BudgetUSD)
	assert.Equal(t, 1, c.Limits.MaxRenders)
	assert.Equal(t, settings.Director.ModelTimeout, c.Specialist.ModelTimeout)
}

func TestNewAppRequiresAPIKey(t *testing.T) {
	settings := testSettings(t)
	t.Setenv("OPENAI_API_KEY", "")

	_, err := NewApp(context.Background(), settings, nil)
	assert.ErrorContains(t, err, "OPENAI_API_KEY")
}
