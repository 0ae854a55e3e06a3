// Package tools provides the registry of invocable tools. The registry is
// read-only after startup and safely shared across dispatcher workers.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// ExecutorFunc executes a tool with JSON arguments.
type ExecutorFunc func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// Definition describes a tool for the model request.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// Registry stores tool executors and definitions keyed by tool name.
type Registry struct {
	mu          sync.RWMutex
	executors   map[string]ExecutorFunc
	definitions map[string]Definition
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		executors:   make(map[string]ExecutorFunc),
		definitions: make(map[string]Definition),
	}
}

// Register adds a tool with its definition and executor.
func (r *Registry) Register(def Definition, exec ExecutorFunc) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if exec == nil {
		return fmt.Errorf("executor is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[def.Name]; exists {
		return fmt.Errorf("executor already registered for %s", def.Name)
	}
	r.executors[def.Name] = exec
	r.definitions[def.Name] = def
	return nil
}

// MustRegister adds a tool or panics. For static registration at startup.
func (r *Registry) MustRegister(def Definition, exec ExecutorFunc) {
	if err := r.Register(def, exec); err != nil {
		panic(err)
	}
}

// Definitions lists registered tools in name order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.definitions))
	for _, def := range r.definitions {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute runs the executor for the tool name.
func (r *Registry) Execute(ctx context.Context, toolName string, args json.RawMessage) (json.RawMessage, error) {
	if toolName == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	r.mu.RLock()
	exec := r.executors[toolName]
	r.mu.RUnlock()
	if exec == nil {
		return nil, fmt.Errorf("no executor registered for %s", toolName)
	}
	return exec(ctx, args)
}
