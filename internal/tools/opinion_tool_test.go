package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/opine-ai/opine/config"
	"github.com/opine-ai/opine/internal/quality"
	"github.com/opine-ai/opine/internal/search"
)

// scriptedSearcher returns a fixed result set per query and records the
// order queries were issued in.
type scriptedSearcher struct {
	byQuery map[string][]search.Result
	issued  []string
}

func (s *scriptedSearcher) Search(ctx context.Context, query string, count int) ([]search.Result, error) {
	s.issued = append(s.issued, query)
	if res, ok := s.byQuery[query]; ok {
		return res, nil
	}
	return []search.Result{
		{Title: "generic", URL: "https://example.org/a", Domain: "example.org", Snippet: "..."},
	}, nil
}

func westernResults() []search.Result {
	return []search.Result{
		{Title: "AP take", URL: "https://apnews.com/1", Domain: "apnews.com"},
		{Title: "NPR take", URL: "https://npr.org/1", Domain: "npr.org"},
		{Title: "VOA take", URL: "https://voanews.com/1", Domain: "voanews.com"},
	}
}

func opinionConfig() config.OpinionConfig {
	return config.OpinionConfig{MaxRounds: 2, HomogeneityIterate: 0.80, HomogeneityStop: 0.70, DiversityStop: 0.50}
}

func TestOpinionToolRefinesOneSidedPool(t *testing.T) {
	topic := "opinions about Iran sanctions"
	s := &scriptedSearcher{byQuery: map[string][]search.Result{
		topic: westernResults(),
		topic + " Tehran Times": {
			{Title: "TT view", URL: "https://tehrantimes.com/1", Domain: "tehrantimes.com"},
		},
		topic + " Press TV": {
			{Title: "PTV view", URL: "https://presstv.ir/1", Domain: "presstv.ir"},
		},
		topic + " Mehr News": {
			{Title: "Mehr view", URL: "https://mehrnews.com/1", Domain: "mehrnews.com"},
		},
	}}
	tool := NewOpinionTool(s, quality.DefaultAffinityTable(), opinionConfig(), 10, nil)

	out, err := tool.Execute(context.Background(), map[string]interface{}{"query": topic})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out["entity"] != "iran" {
		t.Fatalf("entity detection failed: %v", out["entity"])
	}
	if out["rounds"].(int) != 2 {
		t.Fatalf("one-sided pool must trigger the refinement round, got %v", out["rounds"])
	}
	refined := out["refined_queries"].([]string)
	if len(refined) == 0 {
		t.Fatalf("expected refined queries")
	}
	for _, q := range refined {
		if strings.EqualFold(q, topic) {
			t.Fatalf("refinement must reformulate, not repeat the original query")
		}
	}
	// The pool is cumulative: first-round items survive the second round.
	items := out["items"].([]map[string]interface{})
	if len(items) < len(westernResults())+1 {
		t.Fatalf("cumulative pool too small: %d items", len(items))
	}
	// Adding the subject's own outlets lowered homogeneity, so the
	// refinement counts as effective.
	if out["refinement_effective"].(bool) != true {
		t.Fatalf("refinement lowered homogeneity and must be reported effective")
	}
	hom := out["round_homogeneity"].([]float64)
	if len(hom) != 2 || hom[1] >= hom[0] {
		t.Fatalf("homogeneity must strictly decrease across the refinement round, got %v", hom)
	}
}

func TestOpinionToolFlagsIneffectiveRefinement(t *testing.T) {
	// The refined queries return the same dominant-origin items as the
	// first round, so homogeneity never moves.
	tool := NewOpinionTool(&uniformSearcher{results: westernResults()}, quality.DefaultAffinityTable(), opinionConfig(), 10, nil)

	out, err := tool.Execute(context.Background(), map[string]interface{}{"query": "opinions about Iran sanctions"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out["rounds"].(int) != 2 {
		t.Fatalf("expected a refinement round, got %v", out["rounds"])
	}
	if out["refinement_effective"].(bool) {
		t.Fatalf("a refinement round that leaves homogeneity unchanged must be flagged ineffective")
	}
	hom := out["round_homogeneity"].([]float64)
	if len(hom) != 2 || hom[1] < hom[0] {
		t.Fatalf("expected non-decreasing homogeneity, got %v", hom)
	}
}

func TestOpinionToolCeilingBoundsRounds(t *testing.T) {
	// Every query returns the same one-sided results, so the assessor
	// would iterate forever; the internal ceiling must cut it off.
	tool := NewOpinionTool(&uniformSearcher{results: westernResults()}, quality.DefaultAffinityTable(), opinionConfig(), 10, nil)

	out, err := tool.Execute(context.Background(), map[string]interface{}{"query": "opinions about Iran sanctions"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out["rounds"].(int) != 2 {
		t.Fatalf("rounds must stop at the ceiling (2), got %v", out["rounds"])
	}
}

type uniformSearcher struct{ results []search.Result }

func (u *uniformSearcher) Search(ctx context.Context, query string, count int) ([]search.Result, error) {
	return u.results, nil
}

func TestOpinionToolStopsWhenBalanced(t *testing.T) {
	// First round already mixes origins and categories enough to stop.
	balanced := []search.Result{
		{Title: "AP", URL: "https://apnews.com/1", Domain: "apnews.com"},
		{Title: "IRNA", URL: "https://irna.ir/1", Domain: "irna.ir"},
		{Title: "Xinhua", URL: "https://xinhuanet.com/1", Domain: "xinhuanet.com"},
		{Title: "State", URL: "https://state.gov/1", Domain: "state.gov"},
		{Title: "Thread", URL: "https://x.com/1", Domain: "x.com"},
	}
	tool := NewOpinionTool(&uniformSearcher{results: balanced}, quality.DefaultAffinityTable(), opinionConfig(), 10, nil)
	out, err := tool.Execute(context.Background(), map[string]interface{}{"query": "reactions to the Iran grain deal"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out["rounds"].(int) != 1 {
		t.Fatalf("balanced first round must stop immediately, got %v rounds (reason %v)", out["rounds"], out["stop_reason"])
	}
}

func TestOpinionToolRequiresQuery(t *testing.T) {
	tool := NewOpinionTool(&uniformSearcher{}, quality.DefaultAffinityTable(), opinionConfig(), 10, nil)
	if _, err := tool.Execute(context.Background(), map[string]interface{}{}); err == nil {
		t.Fatalf("expected error for missing query")
	}
}
