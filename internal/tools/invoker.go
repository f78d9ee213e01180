package tools

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opine-ai/opine/internal/telemetry"
)

// Invoker executes tool requests against a registry with per-tool deadlines
// and a bounded degree of parallelism.
type Invoker struct {
	registry      *Registry
	timeout       time.Duration
	maxConcurrent int
	logger        *log.Logger
	telemetry     *telemetry.Telemetry
}

func NewInvoker(registry *Registry, timeout time.Duration, maxConcurrent int, logger *log.Logger, tele *telemetry.Telemetry) *Invoker {
	if logger == nil {
		logger = log.New(log.Writer(), "[TOOLS] ", log.LstdFlags)
	}
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Invoker{
		registry:      registry,
		timeout:       timeout,
		maxConcurrent: maxConcurrent,
		logger:        logger,
		telemetry:     tele,
	}
}

// Catalog exposes the registry's cards for planner prompts.
func (inv *Invoker) Catalog() []Card { return inv.registry.Catalog() }

// Has reports whether name is in the catalog.
func (inv *Invoker) Has(name string) bool { return inv.registry.Has(name) }

// Invoke runs one request. Every failure mode lands in the Result; the
// error path is reserved for a cancelled parent context.
func (inv *Invoker) Invoke(ctx context.Context, req Request) Result {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	res := Result{RequestID: req.ID, Tool: req.Tool}

	tracer := otel.Tracer("opine/tools")
	ctx, span := tracer.Start(ctx, "tools.invoke")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", req.Tool))

	tool, err := inv.registry.Resolve(req.Tool)
	if err != nil {
		res.Error = err.Error()
		span.SetStatus(codes.Error, res.Error)
		inv.telemetry.ObserveTool(req.Tool, false, 0)
		return res
	}

	toolCtx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	start := time.Now()
	output, err := tool.Execute(toolCtx, req.Args)
	res.Elapsed = time.Since(start)
	switch {
	case err == nil:
		res.Success = true
		res.Output = output
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		res.Error = fmt.Errorf("tools: %s after %s: %w", req.Tool, inv.timeout, ErrToolTimeout).Error()
		span.SetStatus(codes.Error, res.Error)
	default:
		res.Error = err.Error()
		span.SetStatus(codes.Error, res.Error)
	}
	inv.telemetry.ObserveTool(req.Tool, res.Success, res.Elapsed)
	if !res.Success {
		inv.logger.Printf("tool %s failed in %s: %s", req.Tool, res.Elapsed, res.Error)
	}
	return res
}

// InvokeAll fans requests out concurrently and joins on all of them. One
// failing or slow tool never cancels its siblings; results arrive keyed by
// request and tool, in no guaranteed order.
func (inv *Invoker) InvokeAll(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))
	sem := make(chan struct{}, inv.maxConcurrent)
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = inv.Invoke(ctx, req)
		}(i, req)
	}
	wg.Wait()
	return results
}
