package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opine-ai/opine/config"
	"github.com/opine-ai/opine/internal/artifact"
	"github.com/opine-ai/opine/internal/session"
	"github.com/opine-ai/opine/internal/telemetry"
	"github.com/opine-ai/opine/internal/tools"
)

type scriptedPlanner struct {
	plans []ActionPlan
	err   error
	calls int
}

// Plan replays the scripted plans in order; once they run out it returns
// err if set, otherwise keeps repeating the last plan.
func (p *scriptedPlanner) Plan(ctx context.Context, message string, history []session.Turn, catalog []tools.Card, feedback string) (ActionPlan, error) {
	p.calls++
	idx := p.calls - 1
	if idx >= len(p.plans) {
		if p.err != nil {
			return ActionPlan{}, p.err
		}
		idx = len(p.plans) - 1
	}
	return p.plans[idx], nil
}

type fixedSynth struct {
	out   Synthesis
	err   error
	calls int
	seen  []tools.Result
}

func (s *fixedSynth) Synthesize(ctx context.Context, message string, results []tools.Result, history []session.Turn) (Synthesis, error) {
	s.calls++
	s.seen = results
	if s.err != nil {
		return Synthesis{}, s.err
	}
	return s.out, nil
}

type flakyTool struct {
	name     string
	failures int // fail this many calls before succeeding
	calls    int
}

func (t *flakyTool) Card() tools.Card { return tools.Card{Name: t.name, Description: "test"} }

func (t *flakyTool) Execute(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	t.calls++
	if t.calls <= t.failures {
		return nil, fmt.Errorf("transient failure %d", t.calls)
	}
	return map[string]interface{}{"results": []interface{}{"hit"}}, nil
}

type fixedGenerator struct {
	imageURI string
	err      error
}

func (g *fixedGenerator) Generate(ctx context.Context, req artifact.Request) (artifact.Record, error) {
	if g.err != nil {
		return artifact.Record{}, g.err
	}
	return artifact.Record{
		ID:        req.ID,
		SessionID: req.SessionID,
		ChartType: req.ChartType,
		Title:     req.Title,
		ImageURI:  g.imageURI,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func testEngine(t *testing.T, planner Planner, synth Synthesizer, opts Options, toolSet ...tools.Tool) (*Engine, *session.InMemoryStore) {
	t.Helper()
	if len(toolSet) == 0 {
		toolSet = []tools.Tool{&flakyTool{name: tools.ToolSearch}}
	}
	reg, err := tools.NewRegistry(toolSet...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	tele := telemetry.New(config.TelemetryConfig{Enabled: true}, prometheus.NewRegistry(), nil)
	inv := tools.NewInvoker(reg, time.Second, 4, nil, tele)
	store := session.NewInMemoryStore()
	if opts.Telemetry == nil {
		opts.Telemetry = tele
	}
	eng, err := New(config.EngineConfig{MaxRounds: 3, HistoryWindow: 10}, store, planner, synth, inv, opts)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return eng, store
}

func searchPlan() ActionPlan {
	return ActionPlan{Calls: []PlannedCall{{Tool: tools.ToolSearch, Args: map[string]interface{}{"query": "x"}}}}
}

func TestProcessRequestHappyPath(t *testing.T) {
	planner := &scriptedPlanner{plans: []ActionPlan{searchPlan()}}
	synth := &fixedSynth{out: Synthesis{FinalText: "the answer", Citations: []string{"https://apnews.com/1"}, Confidence: 0.8}}
	eng, store := testEngine(t, planner, synth, Options{})

	resp, err := eng.ProcessRequest(context.Background(), "s1", "what do people think?")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if resp.FinalText != "the answer" || resp.Rounds != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if planner.calls != 1 || synth.calls != 1 {
		t.Fatalf("one round expected: planner=%d synth=%d", planner.calls, synth.calls)
	}
	turns, _ := store.History(context.Background(), "s1", 0)
	if len(turns) != 2 || turns[0].Role != session.RoleUser || turns[1].Role != session.RoleAssistant {
		t.Fatalf("transcript wrong: %+v", turns)
	}
	if turns[1].Content != "the answer" || len(turns[1].Citations) != 1 {
		t.Fatalf("assistant turn wrong: %+v", turns[1])
	}
}

func TestProcessRequestRetriesThenSynthesizes(t *testing.T) {
	tool := &flakyTool{name: tools.ToolSearch, failures: 1}
	planner := &scriptedPlanner{plans: []ActionPlan{searchPlan()}}
	synth := &fixedSynth{out: Synthesis{FinalText: "recovered", Confidence: 0.5}}
	eng, _ := testEngine(t, planner, synth, Options{}, tool)

	resp, err := eng.ProcessRequest(context.Background(), "s1", "question")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if resp.Rounds != 2 {
		t.Fatalf("expected a retry round, got %d", resp.Rounds)
	}
	// Both rounds' results reach the synthesizer, failure included.
	if len(synth.seen) != 2 {
		t.Fatalf("synthesizer should see all results, got %d", len(synth.seen))
	}
}

func TestProcessRequestCeilingNeverExceeded(t *testing.T) {
	tool := &flakyTool{name: tools.ToolSearch, failures: 100}
	planner := &scriptedPlanner{plans: []ActionPlan{searchPlan()}}
	synth := &fixedSynth{out: Synthesis{FinalText: "best effort", Confidence: 0.1}}
	eng, store := testEngine(t, planner, synth, Options{}, tool)

	resp, err := eng.ProcessRequest(context.Background(), "s1", "question")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if resp.Rounds != 3 || tool.calls != 3 || planner.calls != 3 {
		t.Fatalf("ceiling violated: rounds=%d toolCalls=%d plannerCalls=%d", resp.Rounds, tool.calls, planner.calls)
	}
	if synth.calls != 1 {
		t.Fatalf("synthesis must still run once after the ceiling, got %d", synth.calls)
	}
	if turns, _ := store.History(context.Background(), "s1", 0); len(turns) != 2 {
		t.Fatalf("exchange must still be recorded, got %d turns", len(turns))
	}
}

func TestProcessRequestDirectSynthesis(t *testing.T) {
	planner := &scriptedPlanner{plans: []ActionPlan{{}}} // empty plan
	synth := &fixedSynth{out: Synthesis{FinalText: "from memory", Confidence: 0.9}}
	eng, _ := testEngine(t, planner, synth, Options{})

	resp, err := eng.ProcessRequest(context.Background(), "s1", "thanks, summarize what we said")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if resp.Rounds != 1 || len(synth.seen) != 0 {
		t.Fatalf("direct synthesis expected, got rounds=%d results=%d", resp.Rounds, len(synth.seen))
	}
	if !strings.Contains(resp.StopReason, "direct synthesis") {
		t.Fatalf("stop reason should explain the direct path, got %q", resp.StopReason)
	}
}

func TestProcessRequestSynthesisDegrades(t *testing.T) {
	planner := &scriptedPlanner{plans: []ActionPlan{searchPlan()}}
	synth := &fixedSynth{err: fmt.Errorf("model down: %w", ErrSynthesisFailure)}
	eng, store := testEngine(t, planner, synth, Options{})

	resp, err := eng.ProcessRequest(context.Background(), "s1", "question")
	if err != nil {
		t.Fatalf("synthesis failure must not fail the request: %v", err)
	}
	if resp.FinalText != degradedAnswer {
		t.Fatalf("expected degraded answer, got %q", resp.FinalText)
	}
	if turns, _ := store.History(context.Background(), "s1", 0); len(turns) != 2 {
		t.Fatalf("degraded exchange must still be recorded")
	}
}

func TestProcessRequestPlanningFailureDegrades(t *testing.T) {
	planner := &scriptedPlanner{err: fmt.Errorf("planner: %w", ErrPlanningMalformed)}
	synth := &fixedSynth{out: Synthesis{FinalText: "never"}}
	eng, store := testEngine(t, planner, synth, Options{})

	resp, err := eng.ProcessRequest(context.Background(), "s1", "question")
	if err != nil {
		t.Fatalf("a planning failure must degrade, not fail the request: %v", err)
	}
	if resp.FinalText != degradedAnswer {
		t.Fatalf("expected the apologetic answer, got %q", resp.FinalText)
	}
	if synth.calls != 0 {
		t.Fatalf("nothing to synthesize from: synthesizer should not be called, got %d", synth.calls)
	}
	if turns, _ := store.History(context.Background(), "s1", 0); len(turns) != 2 {
		t.Fatalf("degraded exchange must still be recorded, got %d turns", len(turns))
	}
}

func TestProcessRequestPlanningFailureKeepsEarlierResults(t *testing.T) {
	// Round 1 plans and runs a (failing) tool; the round-2 re-plan blows
	// up. The synthesizer must still see round 1's results.
	tool := &flakyTool{name: tools.ToolSearch, failures: 100}
	planner := &scriptedPlanner{plans: []ActionPlan{searchPlan()}, err: fmt.Errorf("planner: %w", ErrPlanningMalformed)}
	synth := &fixedSynth{out: Synthesis{FinalText: "partial picture", Confidence: 0.2}}
	eng, _ := testEngine(t, planner, synth, Options{}, tool)

	resp, err := eng.ProcessRequest(context.Background(), "s1", "question")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if resp.FinalText != "partial picture" {
		t.Fatalf("accumulated results must be synthesized, got %q", resp.FinalText)
	}
	if len(synth.seen) != 1 {
		t.Fatalf("synthesizer should see round 1's result, got %d", len(synth.seen))
	}
	if !strings.Contains(resp.StopReason, "planning failed") {
		t.Fatalf("stop reason should name the planning failure, got %q", resp.StopReason)
	}
}

func TestProcessRequestSessionBusy(t *testing.T) {
	planner := &scriptedPlanner{plans: []ActionPlan{searchPlan()}}
	synth := &fixedSynth{out: Synthesis{FinalText: "x"}}
	eng, store := testEngine(t, planner, synth, Options{})

	release, err := store.Begin(context.Background(), "s1")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer release()
	if _, err := eng.ProcessRequest(context.Background(), "s1", "question"); !errors.Is(err, session.ErrSessionBusy) {
		t.Fatalf("expected ErrSessionBusy, got %v", err)
	}
}

func artifactDecider(reply string) *artifact.Decider {
	return artifact.NewDecider(config.ArtifactConfig{}, config.LLMRoutingConfig{Extraction: "m"}, &fakeProvider{reply: reply}, nil)
}

func TestProcessRequestGeneratesArtifact(t *testing.T) {
	planner := &scriptedPlanner{plans: []ActionPlan{searchPlan()}}
	synth := &fixedSynth{out: Synthesis{FinalText: "numbers inside", Confidence: 0.7}}
	decider := artifactDecider(`{"should_create": true, "chart_type": "bar", "title": "t",
		"data": {"labels": ["a"], "values": [1]}}`)
	eng, store := testEngine(t, planner, synth, Options{Decider: decider, Generator: &fixedGenerator{imageURI: "https://img/1.png"}})

	resp, err := eng.ProcessRequest(context.Background(), "s1", "show me a chart of this")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if resp.Artifact == nil || resp.Artifact.ImageURI != "https://img/1.png" {
		t.Fatalf("expected artifact on response, got %+v", resp.Artifact)
	}
	recs, _ := store.Artifacts(context.Background(), "s1")
	if len(recs) != 1 || recs[0].ID != resp.Artifact.ID {
		t.Fatalf("artifact not recorded in session: %+v", recs)
	}
	turns, _ := store.History(context.Background(), "s1", 0)
	if turns[1].ArtifactID != resp.Artifact.ID {
		t.Fatalf("assistant turn must link the artifact, got %q", turns[1].ArtifactID)
	}
}

func TestProcessRequestArtifactDowngradeAnnotates(t *testing.T) {
	planner := &scriptedPlanner{plans: []ActionPlan{searchPlan()}}
	synth := &fixedSynth{out: Synthesis{FinalText: "no numbers here", Confidence: 0.7}}
	decider := artifactDecider(`{"should_create": true, "chart_type": "line", "title": "t",
		"data": {"labels": ["a","b"], "values": [null, null]}}`)
	eng, store := testEngine(t, planner, synth, Options{Decider: decider, Generator: &fixedGenerator{imageURI: "unused"}})

	resp, err := eng.ProcessRequest(context.Background(), "s1", "visualize the opinions")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if resp.Artifact != nil {
		t.Fatalf("all-null series must not generate, got %+v", resp.Artifact)
	}
	if !strings.Contains(resp.FinalText, "could not be created") {
		t.Fatalf("downgrade must annotate the answer, got %q", resp.FinalText)
	}
	if recs, _ := store.Artifacts(context.Background(), "s1"); len(recs) != 0 {
		t.Fatalf("no artifact record expected")
	}
}

func TestProcessRequestArtifactGenerationFailureKeepsText(t *testing.T) {
	planner := &scriptedPlanner{plans: []ActionPlan{searchPlan()}}
	synth := &fixedSynth{out: Synthesis{FinalText: "solid answer", Confidence: 0.7}}
	decider := artifactDecider(`{"should_create": true, "chart_type": "bar", "title": "t",
		"data": {"labels": ["a"], "values": [2]}}`)
	gen := &fixedGenerator{err: fmt.Errorf("renderer exploded: %w", artifact.ErrGenerationFailed)}
	eng, _ := testEngine(t, planner, synth, Options{Decider: decider, Generator: gen})

	resp, err := eng.ProcessRequest(context.Background(), "s1", "plot the sentiment")
	if err != nil {
		t.Fatalf("generation failure must not fail the request: %v", err)
	}
	if resp.Artifact != nil || !strings.Contains(resp.FinalText, "solid answer") {
		t.Fatalf("text must survive the failed render: %+v", resp)
	}
}

func TestProcessRequestNoTriggerSkipsExtraction(t *testing.T) {
	planner := &scriptedPlanner{plans: []ActionPlan{searchPlan()}}
	synth := &fixedSynth{out: Synthesis{FinalText: "answer", Confidence: 0.7}}
	extractor := &fakeProvider{reply: `{"should_create": false}`}
	decider := artifact.NewDecider(config.ArtifactConfig{}, config.LLMRoutingConfig{Extraction: "m"}, extractor, nil)
	eng, _ := testEngine(t, planner, synth, Options{Decider: decider, Generator: &fixedGenerator{}})

	if _, err := eng.ProcessRequest(context.Background(), "s1", "what is the consensus?"); err != nil {
		t.Fatalf("process: %v", err)
	}
	if extractor.calls != 0 {
		t.Fatalf("no trigger term: extraction boundary must not be called, got %d calls", extractor.calls)
	}
}

func TestProcessRequestCancellationAppendsNothing(t *testing.T) {
	planner := &scriptedPlanner{plans: []ActionPlan{searchPlan()}}
	synth := &fixedSynth{out: Synthesis{FinalText: "x"}}
	eng, store := testEngine(t, planner, synth, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := eng.ProcessRequest(ctx, "s1", "question"); err == nil {
		t.Fatalf("expected cancellation error")
	}
	if turns, _ := store.History(context.Background(), "s1", 0); len(turns) != 0 {
		t.Fatalf("cancelled request must leave the transcript untouched")
	}
}
