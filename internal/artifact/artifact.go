// Package artifact decides whether a request warrants a visual artifact,
// extracts a typed chart description from synthesized content, and hands
// valid charts to the renderer.
package artifact

import (
	"fmt"
	"strings"
	"time"
)

// ChartType is the closed set of renderable chart kinds.
type ChartType string

const (
	ChartLine    ChartType = "line"
	ChartBar     ChartType = "bar"
	ChartMindmap ChartType = "mindmap"
)

// ParseChartType validates a raw chart type from the extraction boundary.
func ParseChartType(raw string) (ChartType, error) {
	switch ChartType(strings.ToLower(strings.TrimSpace(raw))) {
	case ChartLine:
		return ChartLine, nil
	case ChartBar:
		return ChartBar, nil
	case ChartMindmap:
		return ChartMindmap, nil
	default:
		return "", fmt.Errorf("unknown chart type %q", raw)
	}
}

// ChartData is the extracted series. Values are pointers so that the model
// returning null for a point is distinguishable from zero.
type ChartData struct {
	Labels []string   `json:"labels"`
	Values []*float64 `json:"values"`
	XLabel string     `json:"x_label,omitempty"`
	YLabel string     `json:"y_label,omitempty"`
}

// Extraction is the typed result of the second decision stage.
type Extraction struct {
	ShouldCreate bool      `json:"should_create"`
	ChartType    ChartType `json:"chart_type"`
	Title        string    `json:"title"`
	Data         ChartData `json:"data"`
	// Annotation is set when validation downgrades the extraction; it is
	// appended to the textual answer so the user learns why no chart came
	// back.
	Annotation string `json:"annotation,omitempty"`
}

// Request is what the generation adapter consumes. Only validated
// extractions become requests.
type Request struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	ChartType ChartType `json:"chart_type"`
	Title     string    `json:"title"`
	Data      ChartData `json:"data"`
}

// Record is the durable outcome of a generation call.
type Record struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	ChartType ChartType `json:"chart_type"`
	Title     string    `json:"title"`
	ImageURI  string    `json:"image_uri"`
	SpecURI   string    `json:"spec_uri,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
