// Package config provides application settings loaded from environment variables.
//
// Settings are created via New() which handles:
// - Environment variable parsing with validation
// - Default value application
// - Provider-specific configuration lookup

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings holds all application configuration.
type Settings struct {
	LLM      LLMConfig
	Director DirectorConfig
	Router   RouterConfig
	Tools    ToolsConfig
	Backend  BackendConfig
	Storage  StorageConfig
	Server   ServerConfig
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Provider    string
	Model       string
	MaxTokens   uint32
	Temperature float64
	// RequestsPerMinute is a client-side limit; 0 disables it.
	RequestsPerMinute int
	// PricingFile optionally overrides the built-in price table.
	PricingFile string
}

// DirectorConfig holds specialist session limits.
type DirectorConfig struct {
	MaxIterations    int
	MaxSandboxCalls  int
	MaxRenders       int
	MaxReplays       int
	BudgetUSD        float64
	BreakerThreshold int
	ModelTimeout     time.Duration
}

// RouterConfig holds classifier configuration.
type RouterConfig struct {
	Enabled bool
	Model   string
}

// ToolsConfig holds tool execution configuration.
type ToolsConfig struct {
	TimeoutSecs uint64
	MaxRetries  uint32
	// Allowed narrows every capability group. Nil means all tools.
	Allowed []string
}

// BackendConfig locates the video service.
type BackendConfig struct {
	URL   string
	Token string
}

// StorageConfig selects the ledger and quota stores.
type StorageConfig struct {
	DatabaseURL string
	RedisURL    string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr        string
	CORSOrigins []string
}

// providerInfo holds configuration for a specific LLM provider.
type providerInfo struct {
	modelEnv     string
	defaultModel string
	apiKeyEnv    string
}

// Supported providers and their configuration.
var providers = map[string]providerInfo{
	"openai":    {"OPENAI_MODEL", "gpt-4o-mini", "OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_MODEL", "claude-sonnet-4-20250514", "ANTHROPIC_API_KEY"},
	"deepseek":  {"DEEPSEEK_MODEL", "deepseek-chat", "DEEPSEEK_API_KEY"},
	"gemini":    {"GEMINI_MODEL", "gemini-2.5-flash", "GEMINI_API_KEY"},
}

// Provider aliases map to canonical names.
var providerAliases = map[string]string{
	"claude": "anthropic",
	"google": "gemini",
	"gpt":    "openai",
}

// Load reads settings for the provider named by LLM_PROVIDER.
func Load() (Settings, error) {
	return New(getEnvString("LLM_PROVIDER", "openai"))
}

// New creates settings for the specified provider, loading values from environment variables.
// Returns an error if the provider is unknown or environment variables contain invalid values.
func New(provider string) (Settings, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return Settings{}, err
	}

	var s Settings
	s.LLM.Provider = provider
	s.LLM.Model = firstNonEmpty(os.Getenv("DIRECTOR_MODEL"), os.Getenv(info.modelEnv), info.defaultModel)
	s.LLM.PricingFile = os.Getenv("PRICING_FILE")
	if s.LLM.MaxTokens, err = getEnvUint32("DIRECTOR_MAX_TOKENS", 4096); err != nil {
		return Settings{}, err
	}
	if s.LLM.Temperature, err = getEnvFloat64("DIRECTOR_TEMPERATURE", 0.1); err != nil {
		return Settings{}, err
	}
	if s.LLM.RequestsPerMinute, err = getEnvInt("LLM_REQUESTS_PER_MINUTE", 0); err != nil {
		return Settings{}, err
	}

	d := &s.Director
	if d.MaxIterations, err = getEnvInt("DIRECTOR_MAX_ITERATIONS", 10); err != nil {
		return Settings{}, err
	}
	if d.MaxSandboxCalls, err = getEnvInt("DIRECTOR_MAX_SANDBOX_CALLS", 3); err != nil {
		return Settings{}, err
	}
	if d.MaxRenders, err = getEnvInt("DIRECTOR_MAX_RERENDERS", 2); err != nil {
		return Settings{}, err
	}
	if d.MaxReplays, err = getEnvInt("DIRECTOR_MAX_REPLAYS", 2); err != nil {
		return Settings{}, err
	}
	if d.BudgetUSD, err = getEnvFloat64("DIRECTOR_BUDGET_LIMIT_USD", 0.50); err != nil {
		return Settings{}, err
	}
	if d.BreakerThreshold, err = getEnvInt("DIRECTOR_BREAKER_THRESHOLD", 3); err != nil {
		return Settings{}, err
	}
	timeoutSecs, err := getEnvInt("DIRECTOR_MODEL_TIMEOUT_SECS", 60)
	if err != nil {
		return Settings{}, err
	}
	d.ModelTimeout = time.Duration(timeoutSecs) * time.Second

	if s.Router.Enabled, err = getEnvBool("ROUTER_ENABLED", true); err != nil {
		return Settings{}, err
	}
	s.Router.Model = firstNonEmpty(os.Getenv("ROUTER_MODEL"), info.defaultModel)

	if s.Tools.TimeoutSecs, err = getEnvUint64("TOOL_TIMEOUT_SECS", 30); err != nil {
		return Settings{}, err
	}
	if s.Tools.MaxRetries, err = getEnvUint32("TOOL_MAX_RETRIES", 0); err != nil {
		return Settings{}, err
	}
	s.Tools.Allowed = parseAllowed(os.Getenv("ALLOWED_TOOLS"))

	s.Backend.URL = getEnvString("V_API_INTERNAL_URL", "http://v-api:5000")
	s.Backend.Token = os.Getenv("V_API_SERVICE_TOKEN")

	s.Storage.DatabaseURL = os.Getenv("DATABASE_URL")
	s.Storage.RedisURL = os.Getenv("REDIS_URL")

	s.Server.Addr = getEnvString("HTTP_ADDR", ":8080")
	s.Server.CORSOrigins = splitList(getEnvString("CORS_ALLOWED_ORIGINS", "*"))

	if err := s.validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// MustNew creates settings for the specified provider.
// Panics if the provider is unknown or environment variables are invalid.
// Use this only when configuration errors should be fatal.
func MustNew(provider string) Settings {
	settings, err := New(provider)
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return settings
}

func (s Settings) validate() error {
	switch {
	case s.Director.MaxIterations <= 0:
		return fmt.Errorf("DIRECTOR_MAX_ITERATIONS must be positive, got %d", s.Director.MaxIterations)
	case s.Director.BudgetUSD < 0:
		return fmt.Errorf("DIRECTOR_BUDGET_LIMIT_USD must not be negative, got %v", s.Director.BudgetUSD)
	case s.Director.BreakerThreshold <= 0:
		return fmt.Errorf("DIRECTOR_BREAKER_THRESHOLD must be positive, got %d", s.Director.BreakerThreshold)
	case s.Director.MaxRenders < 0 || s.Director.MaxReplays < 0:
		return fmt.Errorf("render and replay caps must not be negative")
	case s.Director.ModelTimeout <= 0:
		return fmt.Errorf("DIRECTOR_MODEL_TIMEOUT_SECS must be positive")
	case s.Tools.Allowed != nil && len(s.Tools.Allowed) == 0:
		return fmt.Errorf("ALLOWED_TOOLS lists no tools")
	}
	return nil
}

// parseAllowed reads ALLOWED_TOOLS: empty or "all" means no restriction.
func parseAllowed(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, "all") {
		return nil
	}
	list := splitList(v)
	if list == nil {
		return []string{}
	}
	return list
}

// normalizeProvider converts provider aliases to canonical names.
func normalizeProvider(provider string) string {
	provider = strings.ToLower(provider)
	if canonical, ok := providerAliases[provider]; ok {
		return canonical
	}
	return provider
}

// getProviderInfo returns configuration for a provider.
func getProviderInfo(provider string) (providerInfo, error) {
	info, ok := providers[provider]
	if !ok {
		return providerInfo{}, fmt.Errorf("unknown provider: %q", provider)
	}
	return info, nil
}

// APIKeyFor returns the API key for a provider from environment variables.
func APIKeyFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	key := os.Getenv(info.apiKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%s environment variable not set", info.apiKeyEnv)
	}
	return key, nil
}

// SupportedProviders returns the list of supported provider names.
func SupportedProviders() []string {
	result := make([]string, 0, len(providers))
	for name := range providers {
		result = append(result, name)
	}
	return result
}

// Environment variable helpers with proper error handling

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvUint32(key string, defaultVal uint32) (uint32, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return uint32(i), nil
}

func getEnvUint64(key string, defaultVal uint64) (uint64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvFloat64(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return f, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return b, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
