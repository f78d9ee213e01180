package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opine-ai/opine/internal/llm"
)

// ExtractionTool pulls structured data out of previously collected material
// with the cheap extraction model.
type ExtractionTool struct {
	provider llm.Provider
	model    string
}

func NewExtractionTool(provider llm.Provider, model string) *ExtractionTool {
	return &ExtractionTool{provider: provider, model: model}
}

func (t *ExtractionTool) Card() Card {
	return Card{
		Name:        ToolDataExtraction,
		Description: "Extract structured facts (numbers, dates, named positions) from provided text as JSON.",
		ArgsHint:    `{"instruction": "what to extract", "material": "source text"}`,
	}
}

const extractionToolPrompt = `Extract the requested information from the material below.

Instruction: %s

Material:
%s

Respond with ONLY a JSON object holding the extracted fields. Use null for
anything the material does not state.`

func (t *ExtractionTool) Execute(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	instruction, _ := args["instruction"].(string)
	material, _ := args["material"].(string)
	if strings.TrimSpace(instruction) == "" {
		return nil, fmt.Errorf("extraction tool: missing instruction argument")
	}
	if strings.TrimSpace(material) == "" {
		return nil, fmt.Errorf("extraction tool: missing material argument")
	}

	raw, err := t.provider.Generate(ctx, fmt.Sprintf(extractionToolPrompt, instruction, material), t.model, map[string]interface{}{
		"temperature": 0.0,
	})
	if err != nil {
		return nil, fmt.Errorf("extraction tool: %w", err)
	}
	obj, ok := llm.ExtractJSONObject(raw)
	if !ok {
		return nil, fmt.Errorf("extraction tool: model returned no JSON object")
	}
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(obj), &fields); err != nil {
		return nil, fmt.Errorf("extraction tool: decoding extraction: %w", err)
	}
	return map[string]interface{}{"fields": fields}, nil
}
