package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opine-ai/opine/config"
	"github.com/opine-ai/opine/internal/artifact"
	"github.com/opine-ai/opine/internal/loop"
	"github.com/opine-ai/opine/internal/session"
	"github.com/opine-ai/opine/internal/telemetry"
	"github.com/opine-ai/opine/internal/tools"
)

const degradedAnswer = "I could not assemble a reliable answer this time. Please try again, or rephrase the question."

// Engine drives one request through planning, bounded tool rounds,
// synthesis and the optional artifact stage. Safe for concurrent use;
// the session store serialises writers per session.
type Engine struct {
	cfg        config.EngineConfig
	store      session.Store
	planner    Planner
	synth      Synthesizer
	invoker    *tools.Invoker
	decider    *artifact.Decider
	generator  artifact.Generator
	audit      AuditSink
	telemetry  *telemetry.Telemetry
	logger     *log.Logger
	controller Controller
}

// Options carries the optional collaborators; nil fields disable the
// corresponding stage.
type Options struct {
	Decider   *artifact.Decider
	Generator artifact.Generator
	Audit     AuditSink
	Telemetry *telemetry.Telemetry
	Logger    *log.Logger
}

func New(cfg config.EngineConfig, store session.Store, planner Planner, synth Synthesizer, invoker *tools.Invoker, opts Options) (*Engine, error) {
	if store == nil || planner == nil || synth == nil || invoker == nil {
		return nil, fmt.Errorf("engine: store, planner, synthesizer and invoker are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[ENGINE] ", log.LstdFlags)
	}
	maxRounds := cfg.MaxRounds
	if maxRounds < 1 {
		maxRounds = 3
	}
	return &Engine{
		cfg:        cfg,
		store:      store,
		planner:    planner,
		synth:      synth,
		invoker:    invoker,
		decider:    opts.Decider,
		generator:  opts.Generator,
		audit:      opts.Audit,
		telemetry:  opts.Telemetry,
		logger:     logger,
		controller: Controller{MaxRounds: maxRounds},
	}, nil
}

// ProcessRequest is the single entry point: one user message in, one
// response out. Cancellation propagates to every in-flight call and leaves
// the session transcript untouched.
func (e *Engine) ProcessRequest(ctx context.Context, sessionID, message string) (Response, error) {
	start := time.Now()
	tracer := otel.Tracer("opine/engine")
	ctx, span := tracer.Start(ctx, "engine.process_request")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	message = strings.TrimSpace(message)
	if message == "" {
		return Response{}, fmt.Errorf("engine: empty message")
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	release, err := e.store.Begin(ctx, sessionID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Response{}, err
	}
	defer release()

	if e.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RequestTimeout)
		defer cancel()
	}

	history, err := e.store.History(ctx, sessionID, e.cfg.HistoryWindow)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Response{}, fmt.Errorf("engine: loading history: %w", err)
	}

	allResults, rounds, stopReason, planFailed, err := e.runRounds(ctx, message, history)
	if err != nil {
		e.telemetry.ObserveRequest(false, time.Since(start), rounds)
		span.SetStatus(codes.Error, err.Error())
		return Response{}, err
	}

	// A broken planning boundary with nothing gathered degrades straight
	// to the apologetic answer; with partial results it synthesizes them.
	var synthesis Synthesis
	if planFailed && len(allResults) == 0 {
		synthesis = Synthesis{FinalText: degradedAnswer}
	} else {
		synthesis = e.synthesize(ctx, message, allResults, history)
	}

	resp := Response{
		SessionID:  sessionID,
		FinalText:  synthesis.FinalText,
		Citations:  synthesis.Citations,
		Rounds:     rounds,
		StopReason: stopReason,
	}

	rec, annotation := e.maybeArtifact(ctx, sessionID, message, synthesis.FinalText)
	if rec != nil {
		resp.Artifact = rec
	}
	if annotation != "" {
		resp.FinalText = resp.FinalText + "\n\n" + annotation
	}

	// A cancelled request must not leave half a turn behind.
	if err := ctx.Err(); err != nil {
		e.telemetry.ObserveRequest(false, time.Since(start), rounds)
		span.SetStatus(codes.Error, err.Error())
		return Response{}, err
	}
	if err := e.persist(ctx, sessionID, message, resp); err != nil {
		e.telemetry.ObserveRequest(false, time.Since(start), rounds)
		span.SetStatus(codes.Error, err.Error())
		return Response{}, err
	}

	resp.Elapsed = time.Since(start)
	e.telemetry.ObserveRequest(true, resp.Elapsed, rounds)
	span.SetAttributes(attribute.Int("engine.rounds", rounds))
	span.SetStatus(codes.Ok, "")
	e.logger.Printf("session %s answered in %d round(s), %s (%s)", sessionID, rounds, resp.Elapsed.Round(time.Millisecond), stopReason)
	return resp, nil
}

// runRounds executes planning and tool rounds under the convergence gate,
// on the shared bounded loop. A planner failure stops the rounds and sets
// planFailed; it never surfaces as a request error, because the user is
// still owed a textual answer.
func (e *Engine) runRounds(ctx context.Context, message string, history []session.Turn) (results []tools.Result, rounds int, stopReason string, planFailed bool, err error) {
	var allResults []tools.Result
	successes := 0
	feedback := ""

	rounds, stopReason, err = loop.Run(ctx, e.controller.MaxRounds, func(ctx context.Context, round int) (loop.Decision, error) {
		plan, err := e.planner.Plan(ctx, message, history, e.invoker.Catalog(), feedback)
		if err != nil {
			e.logger.Printf("planning round %d failed, degrading: %v", round+1, err)
			planFailed = true
			return loop.Decision{Stop: true, Reason: "planning failed, degrading to synthesis"}, nil
		}
		if len(plan.Calls) == 0 {
			// Nothing to invoke: the conversation alone answers it.
			return loop.Decision{Stop: true, Reason: "planner requested direct synthesis"}, nil
		}

		reqs := make([]tools.Request, len(plan.Calls))
		for i, call := range plan.Calls {
			reqs[i] = tools.Request{ID: uuid.NewString(), Tool: call.Tool, Args: call.Args}
		}
		results := e.invoker.InvokeAll(ctx, reqs)
		allResults = append(allResults, results...)

		var failures []string
		for _, res := range results {
			if res.Success {
				successes++
			} else {
				failures = append(failures, fmt.Sprintf("%s: %s", res.Tool, res.Error))
			}
		}

		verdict, reason := e.controller.Decide(round+1, successes)
		if verdict != VerdictContinue {
			return loop.Decision{Stop: true, Reason: reason}, nil
		}
		feedback = strings.Join(failures, "; ")
		return loop.Decision{Reason: reason}, nil
	})
	if err != nil {
		return nil, rounds, stopReason, planFailed, err
	}
	return allResults, rounds, stopReason, planFailed, nil
}

// synthesize never fails the request: a broken synthesis boundary degrades
// to an apologetic answer.
func (e *Engine) synthesize(ctx context.Context, message string, results []tools.Result, history []session.Turn) Synthesis {
	synthesis, err := e.synth.Synthesize(ctx, message, results, history)
	if err != nil {
		e.logger.Printf("synthesis degraded: %v", err)
		return Synthesis{FinalText: degradedAnswer, Confidence: 0}
	}
	return synthesis
}

// maybeArtifact runs the two-stage artifact pipeline. Failures downgrade to
// an annotation on the text; they never abort the response.
func (e *Engine) maybeArtifact(ctx context.Context, sessionID, message, finalText string) (*artifact.Record, string) {
	if e.decider == nil || e.generator == nil {
		return nil, ""
	}
	if !e.decider.ShouldConsider(message) {
		return nil, ""
	}
	ext, err := e.decider.Extract(ctx, message, finalText)
	if err != nil {
		e.logger.Printf("artifact extraction failed: %v", err)
		e.telemetry.ObserveArtifact(false)
		return nil, "A chart was requested but the data could not be extracted."
	}
	if !ext.ShouldCreate {
		return nil, ext.Annotation
	}
	rec, err := e.generator.Generate(ctx, artifact.Request{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		ChartType: ext.ChartType,
		Title:     ext.Title,
		Data:      ext.Data,
	})
	if err != nil {
		e.logger.Printf("artifact generation failed: %v", err)
		e.telemetry.ObserveArtifact(false)
		return nil, "A chart was prepared but rendering it failed."
	}
	e.telemetry.ObserveArtifact(true)
	return &rec, ""
}

// persist appends the exchange to the session and feeds the audit sink.
func (e *Engine) persist(ctx context.Context, sessionID, message string, resp Response) error {
	now := time.Now().UTC()
	userTurn := session.Turn{ID: uuid.NewString(), Role: session.RoleUser, Content: message, CreatedAt: now}
	assistantTurn := session.Turn{
		ID:        uuid.NewString(),
		Role:      session.RoleAssistant,
		Content:   resp.FinalText,
		Citations: resp.Citations,
		CreatedAt: now,
	}
	if resp.Artifact != nil {
		assistantTurn.ArtifactID = resp.Artifact.ID
	}
	if err := e.store.Append(ctx, sessionID, userTurn); err != nil {
		return fmt.Errorf("engine: appending user turn: %w", err)
	}
	if err := e.store.Append(ctx, sessionID, assistantTurn); err != nil {
		return fmt.Errorf("engine: appending assistant turn: %w", err)
	}
	if resp.Artifact != nil {
		if err := e.store.RecordArtifact(ctx, sessionID, *resp.Artifact); err != nil {
			return fmt.Errorf("engine: recording artifact: %w", err)
		}
	}
	if e.audit != nil {
		ex := Exchange{
			SessionID:       sessionID,
			UserTurnID:      userTurn.ID,
			AssistantTurnID: assistantTurn.ID,
			Message:         message,
			FinalText:       resp.FinalText,
			Citations:       resp.Citations,
			Artifact:        resp.Artifact,
		}
		if err := e.audit.SaveExchange(ctx, ex); err != nil {
			e.logger.Printf("audit sink failed for session %s: %v", sessionID, err)
		}
	}
	return nil
}
