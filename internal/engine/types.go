// Package engine orchestrates one chat request end to end: plan, invoke
// tools in bounded rounds, synthesize, and optionally attach an artifact.
package engine

import (
	"context"
	"time"

	"github.com/opine-ai/opine/internal/artifact"
	"github.com/opine-ai/opine/internal/session"
	"github.com/opine-ai/opine/internal/tools"
)

// PlannedCall is one tool invocation the planner asked for.
type PlannedCall struct {
	Tool string                 `json:"tool"`
	Args map[string]interface{} `json:"args"`
}

// ActionPlan is the planner's verdict for a round. An empty Calls slice
// means the request needs no tools and goes straight to synthesis.
type ActionPlan struct {
	Calls     []PlannedCall `json:"tools_to_use"`
	Reasoning string        `json:"reasoning,omitempty"`
	Strategy  string        `json:"execution_strategy,omitempty"`
	// Dropped counts planner entries rejected for naming tools outside
	// the catalog.
	Dropped int `json:"-"`
}

// Planner is the planning oracle boundary. feedback carries failure context
// from earlier rounds so a re-plan does not repeat a dead end; it is empty
// on the first round.
type Planner interface {
	Plan(ctx context.Context, message string, history []session.Turn, catalog []tools.Card, feedback string) (ActionPlan, error)
}

// Synthesis is the synthesizer's typed output.
type Synthesis struct {
	FinalText  string   `json:"final_text"`
	Citations  []string `json:"citations,omitempty"`
	Confidence float64  `json:"confidence"`
}

// Synthesizer composes the final answer from accumulated tool results.
type Synthesizer interface {
	Synthesize(ctx context.Context, message string, results []tools.Result, history []session.Turn) (Synthesis, error)
}

// Response is what ProcessRequest hands back to the transport layer.
type Response struct {
	SessionID  string           `json:"session_id"`
	FinalText  string           `json:"final_text"`
	Citations  []string         `json:"citations,omitempty"`
	Artifact   *artifact.Record `json:"artifact,omitempty"`
	Rounds     int              `json:"rounds"`
	StopReason string           `json:"stop_reason"`
	Elapsed    time.Duration    `json:"elapsed"`
}

// Exchange is one completed request/response pair handed to the audit sink.
type Exchange struct {
	SessionID       string
	UserTurnID      string
	AssistantTurnID string
	Message         string
	FinalText       string
	Citations       []string
	Artifact        *artifact.Record
}

// AuditSink persists completed exchanges for offline inspection. Best
// effort: audit failures are logged, never returned to the user.
type AuditSink interface {
	SaveExchange(ctx context.Context, ex Exchange) error
}
