package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/opine-ai/opine/config"
	"github.com/opine-ai/opine/internal/llm"
)

// ErrExtractionInvalid marks an extraction the validator refused. Callers
// downgrade to a text-only answer instead of failing the request.
var ErrExtractionInvalid = fmt.Errorf("artifact extraction invalid")

// defaultTriggerTerms is the built-in stage-one vocabulary; config may
// replace it.
var defaultTriggerTerms = []string{"chart", "graph", "plot", "visualize", "show", "create"}

// Decider runs the two-stage artifact decision: a cheap lexical gate first,
// the LLM extraction boundary only when the gate opens.
type Decider struct {
	provider llm.Provider
	model    string
	terms    []string
	logger   *log.Logger
}

func NewDecider(cfg config.ArtifactConfig, routing config.LLMRoutingConfig, provider llm.Provider, logger *log.Logger) *Decider {
	if logger == nil {
		logger = log.New(log.Writer(), "[ARTIFACT] ", log.LstdFlags)
	}
	terms := cfg.TriggerTerms
	if len(terms) == 0 {
		terms = defaultTriggerTerms
	}
	lowered := make([]string, len(terms))
	for i, t := range terms {
		lowered[i] = strings.ToLower(t)
	}
	return &Decider{provider: provider, model: routing.Extraction, terms: lowered, logger: logger}
}

// ShouldConsider is stage one: a case-insensitive substring scan over the
// user message. No LLM call happens unless this returns true.
func (d *Decider) ShouldConsider(message string) bool {
	m := strings.ToLower(message)
	for _, term := range d.terms {
		if strings.Contains(m, term) {
			return true
		}
	}
	return false
}

const extractionPrompt = `You decide whether the assistant's answer should be turned into a chart.

User request:
%s

Assistant answer:
%s

Respond with ONLY a JSON object of this exact shape:
{
  "should_create": true|false,
  "chart_type": "line"|"bar"|"mindmap",
  "title": "...",
  "data": {"labels": ["..."], "values": [1.0, null, ...], "x_label": "...", "y_label": "..."}
}

Set should_create to false when the answer holds no chartable data. Use null
for data points the answer does not state. Do not invent numbers.`

// Extract is stage two: the typed extraction boundary plus mandatory
// validation. The returned extraction either passed validation or carries
// ShouldCreate=false with an annotation.
func (d *Decider) Extract(ctx context.Context, message, answer string) (Extraction, error) {
	raw, err := d.provider.Generate(ctx, fmt.Sprintf(extractionPrompt, message, answer), d.model, map[string]interface{}{
		"temperature": 0.0,
	})
	if err != nil {
		return Extraction{}, fmt.Errorf("artifact: extraction call: %w", err)
	}
	obj, ok := llm.ExtractJSONObject(raw)
	if !ok {
		return Extraction{}, fmt.Errorf("artifact: no JSON in extraction response: %w", ErrExtractionInvalid)
	}

	var wire struct {
		ShouldCreate bool      `json:"should_create"`
		ChartType    string    `json:"chart_type"`
		Title        string    `json:"title"`
		Data         ChartData `json:"data"`
	}
	if err := json.Unmarshal([]byte(obj), &wire); err != nil {
		return Extraction{}, fmt.Errorf("artifact: decoding extraction: %v: %w", err, ErrExtractionInvalid)
	}

	ext := Extraction{ShouldCreate: wire.ShouldCreate, Title: wire.Title, Data: wire.Data}
	if !wire.ShouldCreate {
		return ext, nil
	}
	ct, err := ParseChartType(wire.ChartType)
	if err != nil {
		d.logger.Printf("extraction downgraded: %v", err)
		return downgrade(ext, "the extracted chart type was not recognised"), nil
	}
	ext.ChartType = ct
	return Validate(ext), nil
}

// Validate enforces the non-null-data rule before any generation call: a
// values series with no concrete points must never reach the renderer. An
// invalid extraction is downgraded, not failed.
func Validate(ext Extraction) Extraction {
	if !ext.ShouldCreate {
		return ext
	}
	if len(ext.Data.Values) == 0 {
		return downgrade(ext, "no data series could be extracted")
	}
	for _, v := range ext.Data.Values {
		if v != nil {
			return ext
		}
	}
	return downgrade(ext, "the extracted data series contained no concrete values")
}

func downgrade(ext Extraction, why string) Extraction {
	ext.ShouldCreate = false
	ext.Annotation = "A chart was requested but could not be created: " + why + "."
	return ext
}
