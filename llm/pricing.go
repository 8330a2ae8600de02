package llm

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultPricingModel is used for models missing from the table.
const DefaultPricingModel = ModelOpenAIGPT4o

// Price is the USD cost per one million tokens.
type Price struct {
	Input  float64 `yaml:"input" json:"input"`
	Output float64 `yaml:"output" json:"output"`
}

// PriceTable maps model ids to prices. Lookups of unknown models fall back
// to the table's fallback model.
type PriceTable struct {
	mu       sync.RWMutex
	prices   map[string]Price
	fallback string
}

// pricingFile is the on-disk YAML layout:
//
//	fallback: gpt-4o
//	models:
//	  gpt-4o: {input: 2.50, output: 10.00}
type pricingFile struct {
	Fallback string           `yaml:"fallback"`
	Models   map[string]Price `yaml:"models"`
}

// DefaultPricing returns the built-in price table.
func DefaultPricing() *PriceTable {
	return &PriceTable{
		fallback: DefaultPricingModel,
		prices: map[string]Price{
			ModelOpenAIGPT4o:            {Input: 2.50, Output: 10.00},
			ModelOpenAIGPT4oMini:        {Input: 0.15, Output: 0.60},
			ModelOpenAIGPT4o20241120:    {Input: 2.50, Output: 10.00},
			ModelAnthropicClaudeSonnet4: {Input: 3.00, Output: 15.00},
			ModelAnthropicClaudeHaiku35: {Input: 0.80, Output: 4.00},
			ModelDeepSeekChat:           {Input: 0.27, Output: 1.10},
			ModelGeminiFlash25:          {Input: 0.30, Output: 2.50},
			ModelGeminiPro25:            {Input: 1.25, Output: 10.00},
		},
	}
}

// LoadPricing returns the default table extended and overridden by the YAML
// file at path. An empty path returns the defaults.
func LoadPricing(path string) (*PriceTable, error) {
	table := DefaultPricing()
	if path == "" {
		return table, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pricing file: %w", err)
	}
	if err := table.Merge(data); err != nil {
		return nil, err
	}
	return table, nil
}

// Merge applies a YAML pricing document on top of the table.
func (t *PriceTable) Merge(data []byte) error {
	var file pricingFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse pricing: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for model, price := range file.Models {
		if price.Input < 0 || price.Output < 0 {
			return fmt.Errorf("negative price for model %q", model)
		}
		t.prices[model] = price
	}
	if file.Fallback != "" {
		if _, ok := t.prices[file.Fallback]; !ok {
			return fmt.Errorf("fallback model %q has no price", file.Fallback)
		}
		t.fallback = file.Fallback
	}
	return nil
}

// Lookup returns the price for model and whether it was an exact match.
func (t *PriceTable) Lookup(model string) (Price, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.prices[model]; ok {
		return p, true
	}
	return t.prices[t.fallback], false
}

// Cost returns the USD cost of usage on model.
func (t *PriceTable) Cost(model string, usage TokenUsage) float64 {
	p, _ := t.Lookup(model)
	return float64(usage.InputTokens)/1_000_000*p.Input +
		float64(usage.OutputTokens)/1_000_000*p.Output
}
