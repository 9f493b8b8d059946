// Package tools exposes the remote image jobs as named, schema-described
// tools. Every tool call runs one orchestrated job.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/arcaelas/mcp/internal/orchestrator"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	ErrToolNotFound     = errors.New("tool not found")
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// Tool is one callable operation. observe, when non-nil, receives every
// state change of the remote job the call drives and its progress after
// each status poll.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Call(ctx context.Context, args map[string]any, observe orchestrator.ProgressFunc) (*Result, error)
}

// Result is the outcome of a successful call.
type Result struct {
	Text      string                     `json:"text"`
	Location  string                     `json:"location"`
	Artifacts []orchestrator.ArtifactRef `json:"artifacts"`
}

// Definition describes a tool to callers.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type entry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry holds the available tools and validates call arguments against
// each tool's input schema.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]entry)}
}

// Register compiles the input schema of every tool and adds it. A tool name
// may be registered once.
func (r *Registry) Register(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range tools {
		if _, ok := r.tools[t.Name()]; ok {
			return fmt.Errorf("tool %q already registered", t.Name())
		}
		schema, err := compileSchema(t.Name(), t.InputSchema())
		if err != nil {
			return fmt.Errorf("tool %q: %w", t.Name(), err)
		}
		r.tools[t.Name()] = entry{tool: t, schema: schema}
	}
	return nil
}

// Get returns the tool registered as name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	return e.tool, nil
}

// Names returns the registered tool names in sorted order.
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

// List returns the definition of every tool, sorted by name.
func (r *Registry) List() []Definition {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		t := r.tools[name].tool
		defs = append(defs, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return defs
}

// Validate checks args against the input schema of the named tool.
func (r *Registry) Validate(name string, args map[string]any) error {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	return validateArgs(e.schema, args)
}

// Call validates args and runs the named tool.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any, observe orchestrator.ProgressFunc) (*Result, error) {
	if err := r.Validate(name, args); err != nil {
		return nil, err
	}
	t, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return t.Call(ctx, args, observe)
}

func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	url := name + ".schema.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

// validateArgs round-trips args through JSON so Go numeric and slice types
// reach the validator in their decoded form.
func validateArgs(schema *jsonschema.Schema, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}
