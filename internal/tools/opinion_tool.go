package tools

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/opine-ai/opine/config"
	"github.com/opine-ai/opine/internal/loop"
	"github.com/opine-ai/opine/internal/quality"
	"github.com/opine-ai/opine/internal/search"
)

// OpinionTool gathers opinion coverage on a topic and keeps researching,
// with reformulated queries, until the source pool is balanced or the
// internal round ceiling hits. The refinement cycle runs on the same
// bounded loop as the engine's outer controller.
type OpinionTool struct {
	searcher   search.Searcher
	table      quality.AffinityTable
	thresholds quality.Thresholds
	maxRounds  int
	maxResults int
	logger     *log.Logger
}

func NewOpinionTool(searcher search.Searcher, table quality.AffinityTable, cfg config.OpinionConfig, maxResults int, logger *log.Logger) *OpinionTool {
	if logger == nil {
		logger = log.New(log.Writer(), "[OPINION] ", log.LstdFlags)
	}
	maxRounds := cfg.MaxRounds
	if maxRounds < 1 {
		maxRounds = 2
	}
	if maxResults <= 0 {
		maxResults = 10
	}
	return &OpinionTool{
		searcher: searcher,
		table:    table,
		thresholds: quality.Thresholds{
			HomogeneityIterate: cfg.HomogeneityIterate,
			HomogeneityStop:    cfg.HomogeneityStop,
			DiversityStop:      cfg.DiversityStop,
		},
		maxRounds:  maxRounds,
		maxResults: maxResults,
		logger:     logger,
	}
}

func (t *OpinionTool) Card() Card {
	return Card{
		Name:        ToolOpinionAnalysis,
		Description: "Collect opinion coverage on a topic from diverse sources, including the subject's own outlets, and report balance metrics.",
		ArgsHint:    `{"query": "topic to analyse"}`,
	}
}

func (t *OpinionTool) Execute(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	topic, _ := args["query"].(string)
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("opinion tool: missing query argument")
	}

	entity, _ := t.table.DetectEntity(topic)
	issued := map[string]bool{}
	var pool []quality.SourceItem
	var snapshots []quality.Metrics
	var refined []string

	rounds, stopReason, err := loop.Run(ctx, t.maxRounds, func(ctx context.Context, round int) (loop.Decision, error) {
		queries := []string{topic}
		if round > 0 {
			set := quality.Refine(topic, entity, t.table, issued)
			if len(set.Queries) == 0 {
				return loop.Decision{Stop: true, Reason: "no new refined queries available"}, nil
			}
			queries = set.Queries
			refined = append(refined, set.Queries...)
		}

		for _, q := range queries {
			key := strings.ToLower(q)
			if issued[key] {
				continue
			}
			issued[key] = true
			results, err := t.searcher.Search(ctx, q, t.maxResults)
			if err != nil {
				// A failed refined query costs one round of signal, not
				// the whole analysis.
				t.logger.Printf("query %q failed: %v", q, err)
				continue
			}
			for _, r := range results {
				pool = append(pool, quality.SourceItem{
					Query:    q,
					Title:    r.Title,
					URL:      r.URL,
					Domain:   r.Domain,
					Snippet:  r.Snippet,
					Origin:   t.table.ClassifyOrigin(r.Domain),
					Category: quality.Categorize(r.Domain),
				})
			}
		}

		m := quality.ComputeMetrics(round+1, pool)
		snapshots = append(snapshots, m)
		dec := quality.Assess(m, entity, t.thresholds)
		t.logger.Printf("round %d: items=%d homogeneity=%.2f diversity=%.2f -> iterate=%v (%s)",
			round+1, m.ItemCount, m.Homogeneity, m.Diversity, dec.Iterate, dec.Reason)
		return loop.Decision{Stop: !dec.Iterate, Reason: dec.Reason}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("opinion tool: %w", err)
	}
	if len(pool) == 0 {
		return nil, fmt.Errorf("opinion tool: no sources collected for %q", topic)
	}

	items := make([]map[string]interface{}, 0, len(pool))
	for _, s := range pool {
		items = append(items, map[string]interface{}{
			"query":    s.Query,
			"title":    s.Title,
			"url":      s.URL,
			"domain":   s.Domain,
			"snippet":  s.Snippet,
			"origin":   s.Origin,
			"category": string(s.Category),
		})
	}
	// Each refinement round must strictly lower homogeneity; one that
	// doesn't gets flagged so the caller can tell a stuck pool from a
	// balanced one.
	refinementEffective := true
	homogeneityByRound := make([]float64, len(snapshots))
	for i, m := range snapshots {
		homogeneityByRound[i] = m.Homogeneity
		if i > 0 && m.Homogeneity >= snapshots[i-1].Homogeneity {
			refinementEffective = false
			t.logger.Printf("refinement round %d ineffective: homogeneity %.2f -> %.2f",
				i+1, snapshots[i-1].Homogeneity, m.Homogeneity)
		}
	}

	final := snapshots[len(snapshots)-1]
	return map[string]interface{}{
		"topic":                topic,
		"entity":               entity,
		"items":                items,
		"rounds":               rounds,
		"stop_reason":          stopReason,
		"refined_queries":      refined,
		"refinement_effective": refinementEffective,
		"round_homogeneity":    homogeneityByRound,
		"metrics":              map[string]interface{}{
			"homogeneity":     final.Homogeneity,
			"diversity":       final.Diversity,
			"media_ratio":     final.MediaRatio,
			"item_count":      final.ItemCount,
			"dominant_origin": final.DominantOrigin,
		},
	}, nil
}
