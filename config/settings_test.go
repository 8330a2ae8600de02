package config

import (
	"reflect"
	"testing"
	"time"
)

func TestNewValidProvider(t *testing.T) {
	settings, err := New("openai")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.LLM.Provider != "openai" {
		t.Errorf("expected provider 'openai', got %q", settings.LLM.Provider)
	}
}

func TestNewWithAlias(t *testing.T) {
	settings, err := New("claude")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.LLM.Provider != "anthropic" {
		t.Errorf("expected provider 'anthropic' (normalized from 'claude'), got %q", settings.LLM.Provider)
	}
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New("unknown_provider")
	if err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestDefaults(t *testing.T) {
	for _, key := range []string{
		"DIRECTOR_MODEL", "OPENAI_MODEL", "ROUTER_MODEL", "ROUTER_ENABLED", "ALLOWED_TOOLS",
		"DIRECTOR_MAX_ITERATIONS", "DIRECTOR_BUDGET_LIMIT_USD", "V_API_INTERNAL_URL", "HTTP_ADDR",
		"CORS_ALLOWED_ORIGINS", "DATABASE_URL", "REDIS_URL",
	} {
		t.Setenv(key, "")
	}

	s, err := New("openai")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s.LLM.Model != "gpt-4o-mini" {
		t.Errorf("expected model gpt-4o-mini, got %q", s.LLM.Model)
	}
	if s.LLM.Temperature != 0.1 || s.LLM.MaxTokens != 4096 {
		t.Errorf("unexpected sampling defaults: %+v", s.LLM)
	}
	want := DirectorConfig{
		MaxIterations:    10,
		MaxSandboxCalls:  3,
		MaxRenders:       2,
		MaxReplays:       2,
		BudgetUSD:        0.50,
		BreakerThreshold: 3,
		ModelTimeout:     60 * time.Second,
	}
	if s.Director != want {
		t.Errorf("expected director defaults %+v, got %+v", want, s.Director)
	}
	if !s.Router.Enabled || s.Router.Model != "gpt-4o-mini" {
		t.Errorf("unexpected router defaults: %+v", s.Router)
	}
	if s.Tools.Allowed != nil {
		t.Errorf("expected no tool restriction, got %v", s.Tools.Allowed)
	}
	if s.Tools.TimeoutSecs != 30 || s.Tools.MaxRetries != 0 {
		t.Errorf("unexpected tool defaults: %+v", s.Tools)
	}
	if s.Backend.URL != "http://v-api:5000" {
		t.Errorf("unexpected backend url %q", s.Backend.URL)
	}
	if s.Server.Addr != ":8080" || !reflect.DeepEqual(s.Server.CORSOrigins, []string{"*"}) {
		t.Errorf("unexpected server defaults: %+v", s.Server)
	}
}

func TestOverrides(t *testing.T) {
	t.Setenv("DIRECTOR_MODEL", "gpt-4o")
	t.Setenv("ROUTER_ENABLED", "false")
	t.Setenv("ROUTER_MODEL", "gpt-4o-2024-11-20")
	t.Setenv("DIRECTOR_BUDGET_LIMIT_USD", "1.25")
	t.Setenv("DIRECTOR_MODEL_TIMEOUT_SECS", "5")
	t.Setenv("ALLOWED_TOOLS", " list_tracks, re_render ,")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("DATABASE_URL", "postgres://director@db/director")

	s, err := New("openai")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.LLM.Model != "gpt-4o" {
		t.Errorf("expected DIRECTOR_MODEL to win, got %q", s.LLM.Model)
	}
	if s.Router.Enabled || s.Router.Model != "gpt-4o-2024-11-20" {
		t.Errorf("unexpected router settings: %+v", s.Router)
	}
	if s.Director.BudgetUSD != 1.25 || s.Director.ModelTimeout != 5*time.Second {
		t.Errorf("unexpected director settings: %+v", s.Director)
	}
	if !reflect.DeepEqual(s.Tools.Allowed, []string{"list_tracks", "re_render"}) {
		t.Errorf("unexpected allowed tools %v", s.Tools.Allowed)
	}
	if len(s.Server.CORSOrigins) != 2 {
		t.Errorf("unexpected origins %v", s.Server.CORSOrigins)
	}
	if s.Storage.DatabaseURL != "postgres://director@db/director" {
		t.Errorf("unexpected database url %q", s.Storage.DatabaseURL)
	}
}

func TestAllowedToolsAll(t *testing.T) {
	t.Setenv("ALLOWED_TOOLS", "ALL")
	s, err := New("openai")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Tools.Allowed != nil {
		t.Errorf("expected nil allow list, got %v", s.Tools.Allowed)
	}

	t.Setenv("ALLOWED_TOOLS", ",,")
	if _, err := New("openai"); err == nil {
		t.Error("expected error for an allow list without tools")
	}
}

func TestLoadReadsProvider(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "gemini")
	t.Setenv("DIRECTOR_MODEL", "")
	t.Setenv("GEMINI_MODEL", "")
	s, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.LLM.Provider != "gemini" || s.LLM.Model != "gemini-2.5-flash" {
		t.Errorf("unexpected llm settings: %+v", s.LLM)
	}
}

func TestAPIKeyForValidProvider(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")

	key, err := APIKeyFor("openai")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "test-key" {
		t.Errorf("expected 'test-key', got %q", key)
	}
}

func TestAPIKeyForMissing(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	_, err := APIKeyFor("openai")
	if err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestAPIKeyForUnknownProvider(t *testing.T) {
	_, err := APIKeyFor("unknown")
	if err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestNewWithInvalidEnvVar(t *testing.T) {
	tests := map[string]string{
		"DIRECTOR_MAX_TOKENS":       "not-a-number",
		"DIRECTOR_MAX_ITERATIONS":   "0",
		"DIRECTOR_BUDGET_LIMIT_USD": "-1",
		"ROUTER_ENABLED":            "maybe",
		"TOOL_TIMEOUT_SECS":         "-5",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if _, err := New("openai"); err == nil {
				t.Errorf("expected error for %s=%q", key, val)
			}
		})
	}
}

func TestMustNewPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic for unknown provider")
		}
	}()
	MustNew("unknown_provider")
}

func TestSupportedProviders(t *testing.T) {
	providers := SupportedProviders()
	if len(providers) == 0 {
		t.Error("expected at least one supported provider")
	}
}
