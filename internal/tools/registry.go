// Package tools is the invocation layer: a closed catalog of capabilities
// dispatched by name, invoked one-off or fanned out per round.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Tool names form a closed catalog; planner output referencing anything
// else is rejected.
const (
	ToolSearch          = "search"
	ToolOpinionAnalysis = "opinion_analysis"
	ToolDataExtraction  = "data_extraction"
)

// ErrUnknownTool is returned (wrapped) when a request names a tool outside
// the catalog.
var ErrUnknownTool = errors.New("unknown tool")

// ErrToolTimeout marks an invocation cut off by its per-tool deadline.
var ErrToolTimeout = errors.New("tool timed out")

// Card describes a catalog entry for the planner prompt.
type Card struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// ArgsHint documents the expected argument object.
	ArgsHint string `json:"args_hint"`
}

// Tool is a single invocable capability.
type Tool interface {
	Card() Card
	Execute(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)
}

// Request asks for one tool invocation.
type Request struct {
	ID   string                 `json:"id"`
	Tool string                 `json:"tool"`
	Args map[string]interface{} `json:"args"`
}

// Result is the uniform outcome of one invocation. A failed sibling never
// aborts the rest of a round; failures surface here, not as panics.
type Result struct {
	RequestID string                 `json:"request_id"`
	Tool      string                 `json:"tool"`
	Success   bool                   `json:"success"`
	Output    map[string]interface{} `json:"output,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Elapsed   time.Duration          `json:"elapsed"`
}

// Registry is the closed dispatch table.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry builds the catalog and refuses duplicates or unnamed tools.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		card := t.Card()
		if card.Name == "" {
			return nil, fmt.Errorf("tools: tool with empty name")
		}
		if _, dup := r.tools[card.Name]; dup {
			return nil, fmt.Errorf("tools: duplicate tool %q", card.Name)
		}
		r.tools[card.Name] = t
	}
	return r, nil
}

// Resolve returns the named tool or a wrapped ErrUnknownTool.
func (r *Registry) Resolve(name string) (Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tools: %q: %w", name, ErrUnknownTool)
	}
	return t, nil
}

// Has reports catalog membership without resolving.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Catalog lists cards in stable name order, for the planner prompt.
func (r *Registry) Catalog() []Card {
	out := make([]Card, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Card())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
