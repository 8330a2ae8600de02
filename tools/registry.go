// Package tools provides tool management and registration.
//
// Information Hiding:
// - Tool storage and lookup implementation hidden
// - Argument schemas compiled once at registration
// - Handler failures and panics converted into error results

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"

	"github.com/richinex/vdirector/llm"
)

type registered struct {
	tool   Tool
	def    Definition
	schema *jsonschema.Schema
}

// Registry maps tool names to tools and invokes them by name. Invoke never
// panics and never returns a Go error: every failure is an error Result.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]registered
	executor *Executor
	logger   *zap.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithExecutor sets the executor used by Invoke.
func WithExecutor(e *Executor) RegistryOption {
	return func(r *Registry) { r.executor = e }
}

// WithLogger sets the registry logger.
func WithLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates a new empty tool registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tools:    make(map[string]registered),
		executor: NewDefaultExecutor(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a new tool to the registry.
// Returns error if a tool with the same name already exists or its
// parameter schema does not compile.
func (r *Registry) Register(tool Tool) error {
	def := tool.Definition()
	if def.Name == "" {
		return errors.New("tool name cannot be empty")
	}
	schema, err := compileSchema(def)
	if err != nil {
		return fmt.Errorf("tool '%s': invalid parameter schema: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool '%s' already registered", def.Name)
	}
	r.tools[def.Name] = registered{tool: tool, def: def, schema: schema}
	return nil
}

// MustRegister registers tools and panics on the first error. Intended for
// startup wiring of a fixed catalog.
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

func compileSchema(def Definition) (*jsonschema.Schema, error) {
	params := def.Parameters
	if params == nil {
		params = map[string]any{"type": "object"}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	url := "mem://tools/" + def.Name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.tools[name]
	return e.tool, exists
}

// Has checks if a tool exists in the registry.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.tools[name]
	return exists
}

// Names returns all registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the definitions of the allowed tools in name order.
// An empty allowed list returns every tool.
func (r *Registry) Definitions(allowed []string) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	if len(allowed) == 0 {
		for name := range r.tools {
			names = append(names, name)
		}
	} else {
		for _, name := range allowed {
			if _, ok := r.tools[name]; ok {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	names = dedupeSorted(names)

	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.tools[name].def)
	}
	return defs
}

// Schemas returns the model-facing schemas of the allowed tools. An empty
// allowed list returns every tool.
func (r *Registry) Schemas(allowed []string) []llm.ToolDefinition {
	defs := r.Definitions(allowed)
	out := make([]llm.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = d.LLM()
	}
	return out
}

// IsCritical reports whether name is registered and marked critical.
func (r *Registry) IsCritical(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name].def.Critical
}

// Description returns a formatted description of the allowed tools.
func (r *Registry) Description(allowed []string) string {
	var descriptions []string
	for _, d := range r.Definitions(allowed) {
		flags := ""
		if d.Critical {
			flags = " [critical]"
		}
		descriptions = append(descriptions, fmt.Sprintf("%s%s: %s", d.Name, flags, d.Description))
	}
	return strings.Join(descriptions, "\n")
}

// Invoke runs the named tool. Unknown names, invalid arguments, handler
// errors, timeouts and panics all come back as error results.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) Result {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return NotFound(name)
	}

	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage("{}")
	}
	if err := validateArgs(e.schema, args); err != nil {
		r.logger.Debug("tool arguments rejected",
			zap.String("tool", name),
			zap.Error(err))
		return err.Result()
	}

	return r.executor.Execute(ctx, e.tool, e.def, args)
}

// NotFound is the result for a call to a tool that is not available.
func NotFound(name string) Result {
	return Result{
		KeyError:    fmt.Sprintf("%s: %s", ErrToolNotFound, name),
		KeyCategory: string(CategoryNotFound),
	}
}

func validateArgs(schema *jsonschema.Schema, args json.RawMessage) *Error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(args))
	if err != nil {
		return &Error{Category: CategoryInvalidArgument, Message: "arguments are not valid JSON", Err: err}
	}
	if err := schema.Validate(inst); err != nil {
		return &Error{Category: CategoryInvalidArgument, Message: flattenValidation(err), Err: err}
	}
	return nil
}

// flattenValidation turns the multi-line validator report into one line.
func flattenValidation(err error) string {
	lines := strings.Split(err.Error(), "\n")
	var parts []string
	for _, line := range lines[1:] {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if line != "" {
			parts = append(parts, line)
		}
	}
	if len(parts) == 0 {
		return lines[0]
	}
	return strings.Join(parts, "; ")
}

func dedupeSorted(s []string) []string {
	if len(s) < 2 {
		return s
	}
	out := s[:1]
	for _, v := range s[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
