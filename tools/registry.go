// Package tools holds the tool registry, built-in tools, and the schema
// normalization applied before definitions are sent to a provider.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/martinemde/agentd/llm"
)

// Handler executes one tool call with already-validated arguments.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// Definition describes a tool to the model. Mutating marks tools that
// change workspace or external state; the dispatcher serializes any batch
// containing one.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Mutating    bool           `json:"-"`
}

// Tool pairs a definition with its handler.
type Tool struct {
	Definition Definition
	Handler    Handler
}

// Result is the outcome of one tool call. Every failure mode (unknown
// tool, invalid arguments, handler error, panic) is expressed as a Result
// with IsError set; Execute never propagates a Go error or a panic.
type Result struct {
	ToolCallID string
	Name       string
	Content    string
	IsError    bool
	Elapsed    time.Duration
}

// Registry holds tools and validates call arguments against each tool's
// parameter schema before dispatch. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*Tool
	schemas map[string]*jsonschema.Schema
	policy  Policy
}

// NewRegistry creates an empty Registry with an allow-all policy.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]*Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// SetPolicy installs the allow/deny filter applied to lookups and exports.
func (r *Registry) SetPolicy(p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = p
}

// Register adds or replaces a tool. The parameter schema is normalized and
// compiled once here; a schema that does not compile is a registration
// error so it cannot surface later as a per-call failure.
func (r *Registry) Register(tool Tool) error {
	if tool.Definition.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %s has no handler", tool.Definition.Name)
	}

	tool.Definition.Parameters = NormalizeSchema(tool.Definition.Parameters)

	schema, err := compileSchema(tool.Definition.Name, tool.Definition.Parameters)
	if err != nil {
		return fmt.Errorf("tool %s: %w", tool.Definition.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Definition.Name] = &tool
	r.schemas[tool.Definition.Name] = schema
	return nil
}

// MustRegister is Register for static built-in definitions.
func (r *Registry) MustRegister(tool Tool) {
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

// Unregister removes a tool.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// Get returns a tool by name if it is registered and permitted.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok || !r.policy.Allows(name) {
		return nil, false
	}
	return t, true
}

// Definitions returns the permitted tool definitions sorted by name, in
// the provider-facing form.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for name, t := range r.tools {
		if !r.policy.Allows(name) {
			continue
		}
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Definition.Name,
			Description: t.Definition.Description,
			Parameters:  t.Definition.Parameters,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Names returns the permitted tool names sorted.
func (r *Registry) Names() []string {
	defs := r.Definitions()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

// IsMutating reports whether the named tool is declared mutating. Unknown
// tools are treated as mutating so the dispatcher errs toward serializing.
func (r *Registry) IsMutating(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return true
	}
	return t.Definition.Mutating
}

// Execute runs one tool call and always returns a Result.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall) Result {
	start := time.Now()
	result := Result{ToolCallID: call.ID, Name: call.Name}

	tool, ok := r.Get(call.Name)
	if !ok {
		result.IsError = true
		result.Content = fmt.Sprintf("unknown tool: %s", call.Name)
		result.Elapsed = time.Since(start)
		return result
	}

	if err := r.validateArguments(call.Name, call.Arguments); err != nil {
		result.IsError = true
		result.Content = fmt.Sprintf("invalid arguments for %s: %v", call.Name, err)
		result.Elapsed = time.Since(start)
		return result
	}

	content, err := r.run(ctx, tool, call.Arguments)
	result.Elapsed = time.Since(start)
	if err != nil {
		result.IsError = true
		result.Content = err.Error()
		return result
	}
	result.Content = content
	return result
}

// run invokes the handler with panic containment. A panicking tool yields
// an error result, not a dead process.
func (r *Registry) run(ctx context.Context, tool *Tool, args json.RawMessage) (content string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool %s panicked: %v\n%s", tool.Definition.Name, rec, debug.Stack())
		}
	}()
	return tool.Handler(ctx, args)
}

func (r *Registry) validateArguments(name string, args json.RawMessage) error {
	r.mu.RLock()
	schema := r.schemas[name]
	r.mu.RUnlock()
	if schema == nil {
		return nil
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	var value any
	if err := json.Unmarshal(args, &value); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	return schema.Validate(value)
}

func compileSchema(name string, params map[string]any) (*jsonschema.Schema, error) {
	if params == nil {
		return nil, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode parameter schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	url := "inline://" + name + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("load parameter schema: %w", err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile parameter schema: %w", err)
	}
	return schema, nil
}
