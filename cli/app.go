// Application wiring for CLI commands.
//
// Information Hiding:
// - Provider, ledger and quota backend selection hidden
// - Settings to orchestrator configuration mapping hidden
// - Resource cleanup order hidden

package cli

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/richinex/vdirector/agent"
	"github.com/richinex/vdirector/config"
	"github.com/richinex/vdirector/internal/metrics"
	"github.com/richinex/vdirector/ledger"
	"github.com/richinex/vdirector/llm"
	"github.com/richinex/vdirector/orchestration"
	"github.com/richinex/vdirector/prompts"
	"github.com/richinex/vdirector/tools"
)

// Version is reported by /health.
const Version = "0.1.0"

// App holds the wired collaborators of a running director.
type App struct {
	Settings     config.Settings
	Logger       *zap.Logger
	Ledger       ledger.Ledger
	Registry     *tools.Registry
	Orchestrator *orchestration.Orchestrator
	Metrics      *metrics.Metrics

	closers []func() error
}

// NewApp wires providers, ledger, quota store, tools and the orchestrator
// from settings.
func NewApp(ctx context.Context, settings config.Settings, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{Settings: settings, Logger: logger, Metrics: metrics.New()}

	ok := false
	defer func() {
		if !ok {
			_ = app.Close()
		}
	}()

	provider, err := createProvider(settings.LLM, settings.LLM.Model, settings.LLM.MaxTokens, float32(settings.LLM.Temperature))
	if err != nil {
		return nil, err
	}
	var routerProvider llm.Provider
	if settings.Router.Enabled {
		routerProvider, err = createProvider(settings.LLM, settings.Router.Model, orchestration.RouterMaxTokens, 0)
		if err != nil {
			return nil, err
		}
	}
	pricing, err := llm.LoadPricing(settings.LLM.PricingFile)
	if err != nil {
		return nil, err
	}

	if app.Ledger, err = OpenLedger(settings); err != nil {
		return nil, err
	}
	app.closers = append(app.closers, app.Ledger.Close)

	registry, closeQuota, err := NewRegistry(ctx, settings, logger)
	if err != nil {
		return nil, err
	}
	app.Registry = registry
	app.closers = append(app.closers, closeQuota)

	app.Orchestrator, err = orchestration.New(orchestratorConfig(settings), orchestration.Deps{
		Provider:       provider,
		RouterProvider: routerProvider,
		Registry:       registry,
		Ledger:         app.Ledger,
		Pricing:        pricing,
		Logger:         logger,
		Observer:       app.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build orchestrator: %w", err)
	}

	logger.Info("director ready",
		zap.String("provider", settings.LLM.Provider),
		zap.String("model", provider.Model()),
		zap.Bool("router_enabled", settings.Router.Enabled),
		zap.Strings("allowed_tools", settings.Tools.Allowed))
	ok = true
	return app, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OpenLedger opens the ledger selected by DATABASE_URL.
func OpenLedger(settings config.Settings) (ledger.Ledger, error) {
	l, err := ledger.Open(settings.Storage.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	return l, nil
}

// NewRegistry builds the video tool registry. Quotas are kept in Redis when
// REDIS_URL is set and in process memory otherwise. The returned function
// releases the quota store.
func NewRegistry(ctx context.Context, settings config.Settings, logger *zap.Logger) (*tools.Registry, func() error, error) {
	var (
		quota     tools.Quota
		closeFunc = func() error { return nil }
	)
	if settings.Storage.RedisURL != "" {
		rq, err := tools.OpenRedisQuota(ctx, settings.Storage.RedisURL, tools.DefaultQuotaTTL)
		if err != nil {
			return nil, nil, err
		}
		quota, closeFunc = rq, rq.Close
	} else {
		quota = tools.NewMemoryQuota(tools.DefaultQuotaTTL)
	}

	backend := tools.NewBackend(settings.Backend.URL, settings.Backend.Token)
	limits := tools.Limits{MaxRenders: settings.Director.MaxRenders, MaxReplays: settings.Director.MaxReplays}
	executor := tools.NewExecutor(tools.ToolConfig{
		TimeoutSecs: settings.Tools.TimeoutSecs,
		MaxRetries:  settings.Tools.MaxRetries,
	}, logger.Named("tools"))

	registry, err := tools.NewVideoRegistry(backend, quota, limits,
		tools.WithExecutor(executor),
		tools.WithLogger(logger.Named("tools")))
	if err != nil {
		_ = closeFunc()
		return nil, nil, err
	}
	return registry, closeFunc, nil
}

func createProvider(c config.LLMConfig, modelName string, maxTokens uint32, temperature float32) (llm.Provider, error) {
	providerType, err := llm.ParseProviderType(c.Provider)
	if err != nil {
		return nil, err
	}
	provider, err := providerType.Model(modelName).
		MaxTokens(maxTokens).
		Temperature(temperature).
		FromEnv()
	if err != nil {
		return nil, err
	}
	return llm.NewRateLimitedProvider(provider, c.RequestsPerMinute), nil
}

func orchestratorConfig(s config.Settings) orchestration.Config {
	c := orchestration.DefaultConfig()
	c.RouterEnabled = s.Router.Enabled
	c.AllowedTools = s.Tools.Allowed

	d := s.Director
	c.Specialist = agent.Config{
		Temperature:      float32(s.LLM.Temperature),
		MaxTokens:        s.LLM.MaxTokens,
		MaxIterations:    d.MaxIterations,
		MaxSandboxCalls:  d.MaxSandboxCalls,
		BudgetUSD:        d.BudgetUSD,
		BreakerThreshold: d.BreakerThreshold,
		ModelTimeout:     d.ModelTimeout,
	}
	c.Limits = prompts.Limits{
		MaxIterations:   d.MaxIterations,
		MaxSandboxCalls: d.MaxSandboxCalls,
		MaxRenders:      d.MaxRenders,
		MaxReplays:      d.MaxReplays,
		BudgetUSD:       d.BudgetUSD,
	}
	return c
}
