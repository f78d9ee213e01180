package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opine-ai/opine/config"
	"github.com/opine-ai/opine/internal/telemetry"
)

type stubTool struct {
	name  string
	delay time.Duration
	err   error
	out   map[string]interface{}
}

func (s *stubTool) Card() Card { return Card{Name: s.name, Description: "stub"} }

func (s *stubTool) Execute(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.out, nil
}

func newTestInvoker(t *testing.T, timeout time.Duration, stubs ...Tool) *Invoker {
	t.Helper()
	reg, err := NewRegistry(stubs...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	tele := telemetry.New(config.TelemetryConfig{Enabled: true}, prometheus.NewRegistry(), nil)
	return NewInvoker(reg, timeout, 4, nil, tele)
}

func TestInvokeUnknownTool(t *testing.T) {
	inv := newTestInvoker(t, time.Second, &stubTool{name: ToolSearch})
	res := inv.Invoke(context.Background(), Request{Tool: "teleport"})
	if res.Success {
		t.Fatalf("unknown tool must fail")
	}
	if !strings.Contains(res.Error, "unknown tool") {
		t.Fatalf("error should name the rejection, got %q", res.Error)
	}
}

func TestInvokeTimeoutBecomesFailedResult(t *testing.T) {
	inv := newTestInvoker(t, 20*time.Millisecond, &stubTool{name: ToolSearch, delay: time.Second})
	res := inv.Invoke(context.Background(), Request{Tool: ToolSearch})
	if res.Success {
		t.Fatalf("timed-out tool must fail")
	}
	if !strings.Contains(res.Error, "timed out") {
		t.Fatalf("expected timeout error, got %q", res.Error)
	}
}

func TestInvokeAllPartialFailure(t *testing.T) {
	boom := errors.New("provider down")
	inv := newTestInvoker(t, time.Second,
		&stubTool{name: ToolSearch, out: map[string]interface{}{"ok": true}},
		&stubTool{name: ToolOpinionAnalysis, err: boom},
	)
	results := inv.InvokeAll(context.Background(), []Request{
		{ID: "r1", Tool: ToolSearch},
		{ID: "r2", Tool: ToolOpinionAnalysis},
		{ID: "r3", Tool: "bogus"},
	})
	if len(results) != 3 {
		t.Fatalf("expected a result per request, got %d", len(results))
	}
	byID := map[string]Result{}
	for _, r := range results {
		byID[r.RequestID] = r
	}
	if !byID["r1"].Success {
		t.Fatalf("healthy sibling must succeed despite failures: %+v", byID["r1"])
	}
	if byID["r2"].Success || !strings.Contains(byID["r2"].Error, "provider down") {
		t.Fatalf("failure must surface in its own result: %+v", byID["r2"])
	}
	if byID["r3"].Success {
		t.Fatalf("unknown tool in a batch must fail alone")
	}
}

func TestInvokeAssignsRequestID(t *testing.T) {
	inv := newTestInvoker(t, time.Second, &stubTool{name: ToolSearch, out: map[string]interface{}{}})
	res := inv.Invoke(context.Background(), Request{Tool: ToolSearch})
	if res.RequestID == "" {
		t.Fatalf("invoker must assign an id when the request has none")
	}
}

func TestRegistryCatalogSorted(t *testing.T) {
	reg, err := NewRegistry(&stubTool{name: ToolSearch}, &stubTool{name: ToolDataExtraction}, &stubTool{name: ToolOpinionAnalysis})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	cards := reg.Catalog()
	if len(cards) != 3 || cards[0].Name != ToolDataExtraction || cards[1].Name != ToolOpinionAnalysis || cards[2].Name != ToolSearch {
		t.Fatalf("catalog not in name order: %+v", cards)
	}
	if _, err := NewRegistry(&stubTool{name: ToolSearch}, &stubTool{name: ToolSearch}); err == nil {
		t.Fatalf("duplicate tool names must be rejected")
	}
}
