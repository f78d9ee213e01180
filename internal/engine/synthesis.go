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

// LLMSynthesizer composes the final answer from the accumulated tool
// results with the synthesis model.
type LLMSynthesizer struct {
	provider llm.Provider
	model    string
	logger   *log.Logger
}

func NewLLMSynthesizer(provider llm.Provider, model string, logger *log.Logger) *LLMSynthesizer {
	if logger == nil {
		logger = log.New(log.Writer(), "[SYNTH] ", log.LstdFlags)
	}
	return &LLMSynthesizer{provider: provider, model: model, logger: logger}
}

func (s *LLMSynthesizer) Synthesize(ctx context.Context, message string, results []tools.Result, history []session.Turn) (Synthesis, error) {
	var b strings.Builder
	b.WriteString("Compose a balanced, well-sourced answer to the user.\n")
	if len(history) > 0 {
		b.WriteString("\nRecent conversation:\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, trimForPrompt(turn.Content, 300))
		}
	}
	fmt.Fprintf(&b, "\nUser message:\n%s\n", message)
	if len(results) > 0 {
		b.WriteString("\nTool results:\n")
		for _, res := range results {
			if !res.Success {
				fmt.Fprintf(&b, "- %s FAILED: %s\n", res.Tool, res.Error)
				continue
			}
			payload, err := json.Marshal(res.Output)
			if err != nil {
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", res.Tool, trimForPrompt(string(payload), 6000))
		}
	} else {
		b.WriteString("\nNo tool results are available; answer from the conversation alone and say so when evidence is thin.\n")
	}
	b.WriteString(`
Respond with ONLY a JSON object:
{"final_text": "...", "citations": ["url", ...], "confidence": 0.0-1.0}
Cite only URLs that appear in the tool results.`)

	raw, err := s.provider.Generate(ctx, b.String(), s.model, map[string]interface{}{
		"temperature": 0.4,
	})
	if err != nil {
		return Synthesis{}, fmt.Errorf("synthesizer: %v: %w", err, ErrSynthesisFailure)
	}
	obj, ok := llm.ExtractJSONObject(raw)
	if !ok {
		// Some models answer in plain prose despite the instruction; take
		// the text rather than failing the whole request.
		text := strings.TrimSpace(raw)
		if text == "" {
			return Synthesis{}, fmt.Errorf("synthesizer: empty response: %w", ErrSynthesisFailure)
		}
		s.logger.Printf("synthesis returned prose instead of JSON, using it verbatim")
		return Synthesis{FinalText: text, Confidence: 0.3}, nil
	}
	var out Synthesis
	if err := json.Unmarshal([]byte(obj), &out); err != nil {
		return Synthesis{}, fmt.Errorf("synthesizer: decoding response: %v: %w", err, ErrSynthesisFailure)
	}
	if strings.TrimSpace(out.FinalText) == "" {
		return Synthesis{}, fmt.Errorf("synthesizer: empty final text: %w", ErrSynthesisFailure)
	}
	if out.Confidence < 0 {
		out.Confidence = 0
	}
	if out.Confidence > 1 {
		out.Confidence = 1
	}
	return out, nil
}
