// Package telemetry centralises the service metrics and LLM cost tracking.
package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opine-ai/opine/config"
)

// Telemetry holds the Prometheus instruments plus a per-model dollar cost
// tally. All methods are safe for concurrent use and are no-ops when
// telemetry is disabled.
type Telemetry struct {
	enabled     bool
	trackCost   bool
	logger      *log.Logger

	requestsTotal   *prometheus.CounterVec
	requestDuration prometheus.Histogram
	roundsPerReq    prometheus.Histogram
	toolInvocations *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
	artifactsTotal  *prometheus.CounterVec
	llmCostUSD      *prometheus.CounterVec

	costMu sync.Mutex
	costs  map[string]float64
}

// New registers the instruments with reg. Tests pass a fresh registry;
// the server passes prometheus.DefaultRegisterer.
func New(cfg config.TelemetryConfig, reg prometheus.Registerer, logger *log.Logger) *Telemetry {
	if logger == nil {
		logger = log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags)
	}
	t := &Telemetry{
		enabled:   cfg.Enabled,
		trackCost: cfg.CostTracker,
		logger:    logger,
		costs:     make(map[string]float64),
	}
	if !cfg.Enabled {
		return t
	}

	t.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opine_requests_total", Help: "Processed chat requests by outcome.",
	}, []string{"status"})
	t.requestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "opine_request_duration_seconds", Help: "End-to-end request latency.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})
	t.roundsPerReq = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "opine_rounds_per_request", Help: "Planner/tool rounds used per request.",
		Buckets: []float64{1, 2, 3},
	})
	t.toolInvocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opine_tool_invocations_total", Help: "Tool invocations by tool and outcome.",
	}, []string{"tool", "status"})
	t.toolDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "opine_tool_duration_seconds", Help: "Tool invocation latency by tool.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	}, []string{"tool"})
	t.artifactsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opine_artifacts_total", Help: "Artifact generation attempts by outcome.",
	}, []string{"status"})
	t.llmCostUSD = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opine_llm_cost_usd_total", Help: "Estimated LLM spend by model.",
	}, []string{"model"})

	reg.MustRegister(t.requestsTotal, t.requestDuration, t.roundsPerReq,
		t.toolInvocations, t.toolDuration, t.artifactsTotal, t.llmCostUSD)
	return t
}

func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (t *Telemetry) ObserveRequest(ok bool, elapsed time.Duration, rounds int) {
	if t == nil || !t.enabled {
		return
	}
	t.requestsTotal.WithLabelValues(statusLabel(ok)).Inc()
	t.requestDuration.Observe(elapsed.Seconds())
	t.roundsPerReq.Observe(float64(rounds))
}

func (t *Telemetry) ObserveTool(tool string, ok bool, elapsed time.Duration) {
	if t == nil || !t.enabled {
		return
	}
	t.toolInvocations.WithLabelValues(tool, statusLabel(ok)).Inc()
	t.toolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

func (t *Telemetry) ObserveArtifact(ok bool) {
	if t == nil || !t.enabled {
		return
	}
	t.artifactsTotal.WithLabelValues(statusLabel(ok)).Inc()
}

// AddCost records estimated spend for one LLM call.
func (t *Telemetry) AddCost(model string, usd float64) {
	if t == nil || !t.enabled || !t.trackCost || usd <= 0 {
		return
	}
	t.llmCostUSD.WithLabelValues(model).Add(usd)
	t.costMu.Lock()
	t.costs[model] += usd
	t.costMu.Unlock()
}

// Costs returns a copy of the per-model spend tally.
func (t *Telemetry) Costs() map[string]float64 {
	if t == nil {
		return nil
	}
	t.costMu.Lock()
	defer t.costMu.Unlock()
	out := make(map[string]float64, len(t.costs))
	for k, v := range t.costs {
		out[k] = v
	}
	return out
}
