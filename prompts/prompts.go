// Package prompts holds the system prompt variants for the router and the
// specialists, baked into the binary and parameterized by the limits the
// loop enforces.
package prompts

import (
	"bytes"
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var embeddedCatalog []byte

// Variant names.
const (
	Router  = "router"
	Payload = "payload"
	Replay  = "replay"
	Unified = "unified"
)

// Limits are the enforced session limits a prompt tells the model about.
type Limits struct {
	MaxIterations   int
	MaxSandboxCalls int
	MaxRenders      int
	MaxReplays      int
	BudgetUSD       float64
}

type variantSpec struct {
	Tools    []string `yaml:"tools"`
	Template string   `yaml:"template"`
}

type variant struct {
	tools []string
	tmpl  *template.Template
}

// Catalog is a parsed set of prompt variants.
type Catalog struct {
	variants map[string]variant
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	return Parse(embeddedCatalog)
}

// MustLoad is Load for package initialization.
func MustLoad() *Catalog {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}

// Parse reads a catalog from YAML.
func Parse(data []byte) (*Catalog, error) {
	var specs map[string]variantSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("failed to parse prompt catalog: %w", err)
	}
	if _, ok := specs[Router]; !ok {
		return nil, fmt.Errorf("prompt catalog has no %q variant", Router)
	}

	c := &Catalog{variants: make(map[string]variant, len(specs))}
	for name, spec := range specs {
		tmpl, err := template.New(name).Option("missingkey=error").Parse(spec.Template)
		if err != nil {
			return nil, fmt.Errorf("prompt %q: %w", name, err)
		}
		tools := append([]string(nil), spec.Tools...)
		sort.Strings(tools)
		c.variants[name] = variant{tools: tools, tmpl: tmpl}
	}
	return c, nil
}

// Variants returns the variant names in sorted order.
func (c *Catalog) Variants() []string {
	names := make([]string, 0, len(c.variants))
	for name := range c.variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tools returns the tool names a variant is written for.
func (c *Catalog) Tools(name string) ([]string, error) {
	v, ok := c.variants[name]
	if !ok {
		return nil, fmt.Errorf("unknown prompt variant %q", name)
	}
	return append([]string(nil), v.tools...), nil
}

// Render executes a variant with the given limits.
func (c *Catalog) Render(name string, limits Limits) (string, error) {
	v, ok := c.variants[name]
	if !ok {
		return "", fmt.Errorf("unknown prompt variant %q", name)
	}
	var buf bytes.Buffer
	if err := v.tmpl.Execute(&buf, limits); err != nil {
		return "", fmt.Errorf("failed to render prompt %q: %w", name, err)
	}
	return buf.String(), nil
}

// RenderFor renders a specialist variant and checks that every tool name
// from known that the text mentions is in allowed.
func (c *Catalog) RenderFor(name string, limits Limits, allowed, known []string) (string, error) {
	text, err := c.Render(name, limits)
	if err != nil {
		return "", err
	}
	if stray := Mentions(text, known, allowed); len(stray) > 0 {
		return "", fmt.Errorf("prompt %q references tools outside its group: %v", name, stray)
	}
	return text, nil
}

// Mentions returns the names in known that text references as whole words
// but that are not in allowed.
func Mentions(text string, known, allowed []string) []string {
	ok := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		ok[a] = true
	}
	var stray []string
	for _, name := range known {
		if ok[name] {
			continue
		}
		if regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\b`).MatchString(text) {
			stray = append(stray, name)
		}
	}
	sort.Strings(stray)
	return stray
}
