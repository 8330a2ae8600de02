// Specialist builder for fluent configuration.
//
// Information Hiding:
// - Builder state management hidden
// - Default value application hidden

package agent

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/richinex/vdirector/ledger"
	"github.com/richinex/vdirector/llm"
	"github.com/richinex/vdirector/tools"
)

// Builder provides fluent configuration for creating specialists.
// Usage: agent.NewBuilder(tools.PayloadGroup) - no stutter.
type Builder struct {
	config   Config
	provider llm.Provider
	registry *tools.Registry
	ledger   ledger.Ledger
	pricing  *llm.PriceTable
	logger   *zap.Logger
	observer Observer
}

// NewBuilder creates a builder for a specialist scoped to group, starting
// from DefaultConfig.
func NewBuilder(group tools.Group) *Builder {
	return &Builder{config: DefaultConfig(group)}
}

// Config replaces the whole configuration.
func (b *Builder) Config(config Config) *Builder {
	b.config = config
	return b
}

// Name sets the specialist's name.
func (b *Builder) Name(name string) *Builder {
	b.config.Name = name
	return b
}

// SystemPrompt sets the rendered system prompt.
func (b *Builder) SystemPrompt(prompt string) *Builder {
	b.config.SystemPrompt = prompt
	return b
}

// MaxIterations sets the model-call ceiling.
func (b *Builder) MaxIterations(n int) *Builder {
	b.config.MaxIterations = n
	return b
}

// Budget sets the soft cost ceiling in USD.
func (b *Builder) Budget(usd float64) *Builder {
	b.config.BudgetUSD = usd
	return b
}

// Provider sets the model provider.
func (b *Builder) Provider(p llm.Provider) *Builder {
	b.provider = p
	return b
}

// Registry sets the tool registry.
func (b *Builder) Registry(r *tools.Registry) *Builder {
	b.registry = r
	return b
}

// Ledger sets the audit ledger.
func (b *Builder) Ledger(l ledger.Ledger) *Builder {
	b.ledger = l
	return b
}

// Pricing sets the price table. Defaults to llm.DefaultPricing.
func (b *Builder) Pricing(p *llm.PriceTable) *Builder {
	b.pricing = p
	return b
}

// Logger sets the logger. Defaults to a no-op logger.
func (b *Builder) Logger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// Observer sets the measurement hook.
func (b *Builder) Observer(o Observer) *Builder {
	b.observer = o
	return b
}

// Build validates the configuration and creates the specialist. Every tool
// of the group must be registered.
func (b *Builder) Build() (*Specialist, error) {
	config := b.config
	if err := config.validate(); err != nil {
		return nil, err
	}
	if b.provider == nil {
		return nil, errors.New("specialist needs a model provider")
	}
	if b.registry == nil {
		return nil, errors.New("specialist needs a tool registry")
	}
	if b.ledger == nil {
		return nil, errors.New("specialist needs a ledger")
	}
	for _, name := range config.Group.Tools {
		if !b.registry.Has(name) {
			return nil, fmt.Errorf("specialist %q: tool %q is not registered", config.Name, name)
		}
	}

	s := &Specialist{
		config:   config,
		provider: b.provider,
		registry: b.registry,
		ledger:   b.ledger,
		pricing:  b.pricing,
		logger:   b.logger,
		observer: b.observer,
	}
	if s.pricing == nil {
		s.pricing = llm.DefaultPricing()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	return s, nil
}
