// Specialist configuration types.
//
// Information Hiding:
// - Configuration validation logic hidden
// - Default values hidden

package agent

import (
	"fmt"
	"time"

	"github.com/richinex/vdirector/tools"
)

// Defaults for a specialist session.
const (
	DefaultMaxIterations    = 10
	DefaultMaxSandboxCalls  = 3
	DefaultBudgetUSD        = 0.50
	DefaultBreakerThreshold = 3
	DefaultModelTimeout     = 60 * time.Second
	DefaultTemperature      = 0.1
	DefaultMaxTokens        = 4096
)

// Config holds specialist configuration.
type Config struct {
	// Name identifies the specialist in logs and events.
	Name string

	// Group is the set of tools the model may call. The system prompt must
	// not reference tools outside it.
	Group tools.Group

	// SystemPrompt guides the model; it is rendered with the limits below.
	SystemPrompt string

	Temperature float32
	MaxTokens   uint32

	// MaxIterations is the model-call ceiling.
	MaxIterations int
	// MaxSandboxCalls is recorded on the session snapshot only.
	MaxSandboxCalls int
	// BudgetUSD is the soft cost ceiling, checked before each model call.
	BudgetUSD float64
	// BreakerThreshold is the number of consecutive tool failures that ends
	// the session.
	BreakerThreshold int
	// ModelTimeout bounds each model call.
	ModelTimeout time.Duration
}

// DefaultConfig returns a specialist configuration for group.
func DefaultConfig(group tools.Group) Config {
	return Config{
		Name:             group.Name,
		Group:            group,
		Temperature:      DefaultTemperature,
		MaxTokens:        DefaultMaxTokens,
		MaxIterations:    DefaultMaxIterations,
		MaxSandboxCalls:  DefaultMaxSandboxCalls,
		BudgetUSD:        DefaultBudgetUSD,
		BreakerThreshold: DefaultBreakerThreshold,
		ModelTimeout:     DefaultModelTimeout,
	}
}

// validate checks the limits and fills zero values with defaults.
func (c *Config) validate() error {
	if c.Name == "" {
		c.Name = c.Group.Name
	}
	if len(c.Group.Tools) == 0 {
		return fmt.Errorf("specialist %q has no tools", c.Name)
	}
	if c.SystemPrompt == "" {
		return fmt.Errorf("specialist %q has no system prompt", c.Name)
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.BudgetUSD < 0 {
		return fmt.Errorf("budget must not be negative, got %v", c.BudgetUSD)
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = DefaultBreakerThreshold
	}
	if c.ModelTimeout <= 0 {
		c.ModelTimeout = DefaultModelTimeout
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	return nil
}
