package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/opine-ai/opine/internal/search"
)

// SearchTool wraps the web-search provider as a catalog capability.
type SearchTool struct {
	searcher   search.Searcher
	enricher   *search.Enricher
	maxResults int
}

func NewSearchTool(searcher search.Searcher, enricher *search.Enricher, maxResults int) *SearchTool {
	if maxResults <= 0 {
		maxResults = 10
	}
	return &SearchTool{searcher: searcher, enricher: enricher, maxResults: maxResults}
}

func (t *SearchTool) Card() Card {
	return Card{
		Name:        ToolSearch,
		Description: "Search the web for pages relevant to a query. Returns titles, URLs and snippets.",
		ArgsHint:    `{"query": "search terms", "count": 10}`,
	}
}

func (t *SearchTool) Execute(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search tool: missing query argument")
	}
	count := t.maxResults
	if raw, ok := args["count"].(float64); ok && int(raw) > 0 && int(raw) < count {
		count = int(raw)
	}

	results, err := t.searcher.Search(ctx, query, count)
	if err != nil {
		return nil, fmt.Errorf("search tool: %w", err)
	}
	if t.enricher != nil {
		t.enricher.Enrich(ctx, results)
	}

	items := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		item := map[string]interface{}{
			"title":   r.Title,
			"url":     r.URL,
			"snippet": r.Snippet,
			"domain":  r.Domain,
		}
		if r.Content != "" {
			item["content"] = r.Content
		}
		items = append(items, item)
	}
	return map[string]interface{}{
		"query":   query,
		"results": items,
	}, nil
}
