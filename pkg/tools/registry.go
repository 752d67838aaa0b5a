// Package tools holds the tool definitions offered to the LLM on each step:
// a registry of built-in tools and the merge logic that combines them with
// tools discovered on the Function Hub.
package tools

import (
	"context"
	"fmt"
	"sync"
)

// Definition describes one callable tool in the shape sent to the LLM.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema for the arguments object
	ExternalID  string         // set for Function Hub tools, empty for builtins
}

// Tool is a built-in tool that executes in-process.
type Tool interface {
	Definition() Definition
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Registry holds built-in tools by name, preserving registration order for
// the definitions handed to the LLM.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a built-in tool. Registering a name twice is a wiring bug.
func (r *Registry) Register(t Tool) error {
	def := t.Definition()
	if def.Name == "" {
		return fmt.Errorf("tool has no name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %q already registered", def.Name)
	}
	r.tools[def.Name] = t
	r.order = append(r.order, def.Name)
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the registered definitions in registration order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}
