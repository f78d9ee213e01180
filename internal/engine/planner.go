package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/opine-ai/opine/internal/llm"
	"github.com/opine-ai/opine/internal/session"
	"github.com/opine-ai/opine/internal/tools"
)

// LLMPlanner asks the planning model which tools to run for a message.
type LLMPlanner struct {
	provider llm.Provider
	model    string
	logger   *log.Logger
}

func NewLLMPlanner(provider llm.Provider, model string, logger *log.Logger) *LLMPlanner {
	if logger == nil {
		logger = log.New(log.Writer(), "[PLANNER] ", log.LstdFlags)
	}
	return &LLMPlanner{provider: provider, model: model, logger: logger}
}

func (p *LLMPlanner) Plan(ctx context.Context, message string, history []session.Turn, catalog []tools.Card, feedback string) (ActionPlan, error) {
	prompt := p.buildPrompt(message, history, catalog, feedback)
	raw, err := p.provider.Generate(ctx, prompt, p.model, map[string]interface{}{
		"temperature": 0.3,
	})
	if err != nil {
		return ActionPlan{}, fmt.Errorf("planner: %w", err)
	}
	return p.parse(raw, catalog)
}

func (p *LLMPlanner) buildPrompt(message string, history []session.Turn, catalog []tools.Card, feedback string) string {
	var b strings.Builder
	b.WriteString("You plan tool usage for an opinion-analysis assistant.\n\nAvailable tools:\n")
	for _, card := range catalog {
		fmt.Fprintf(&b, "- %s: %s (args: %s)\n", card.Name, card.Description, card.ArgsHint)
	}
	if len(history) > 0 {
		b.WriteString("\nRecent conversation:\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, trimForPrompt(turn.Content, 300))
		}
	}
	if feedback != "" {
		b.WriteString("\nPrevious attempt failed:\n" + feedback + "\nPlan differently; do not repeat the failed calls unchanged.\n")
	}
	fmt.Fprintf(&b, "\nUser message:\n%s\n", message)
	b.WriteString(`
Respond with ONLY a JSON object:
{"can_answer_directly": false, "reasoning": "why these tools",
 "tools_to_use": [{"tool": "tool_name", "args": {...}}],
 "execution_strategy": "parallel"}
Set can_answer_directly to true (and list no tools) when the message can
be answered from the conversation alone.`)
	return b.String()
}

// parse is deliberately lenient about shape (models drift) but strict about
// producing a plan: no extractable JSON object means ErrPlanningMalformed.
func (p *LLMPlanner) parse(raw string, catalog []tools.Card) (ActionPlan, error) {
	obj, ok := llm.ExtractJSONObject(raw)
	if !ok {
		return ActionPlan{}, fmt.Errorf("planner: no JSON object in response: %w", ErrPlanningMalformed)
	}
	var wire struct {
		CanAnswerDirectly bool   `json:"can_answer_directly"`
		Reasoning         string `json:"reasoning"`
		ToolsToUse        []struct {
			Tool string                 `json:"tool"`
			Args map[string]interface{} `json:"args"`
		} `json:"tools_to_use"`
		ExecutionStrategy string `json:"execution_strategy"`
	}
	if err := json.Unmarshal([]byte(obj), &wire); err != nil {
		return ActionPlan{}, fmt.Errorf("planner: decoding plan: %v: %w", err, ErrPlanningMalformed)
	}

	plan := ActionPlan{Reasoning: wire.Reasoning, Strategy: wire.ExecutionStrategy}
	if wire.CanAnswerDirectly {
		return plan, nil
	}
	known := make(map[string]bool, len(catalog))
	for _, card := range catalog {
		known[card.Name] = true
	}
	for _, call := range wire.ToolsToUse {
		name := strings.TrimSpace(call.Tool)
		if !known[name] {
			// A hallucinated tool name costs that entry, not the plan.
			plan.Dropped++
			p.logger.Printf("dropping planned call to unknown tool %q", name)
			continue
		}
		args := call.Args
		if args == nil {
			args = map[string]interface{}{}
		}
		plan.Calls = append(plan.Calls, PlannedCall{Tool: name, Args: args})
	}
	return plan, nil
}

func trimForPrompt(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
