// Package search wraps the external web-search providers behind a single
// Searcher interface and optionally enriches hits with extracted page text.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/opine-ai/opine/config"
)

// Result is a single web-search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Domain  string `json:"domain"`
	// Content is filled by the enricher when page extraction is enabled.
	Content string `json:"content,omitempty"`
}

// Searcher issues one query against a web-search provider.
type Searcher interface {
	Search(ctx context.Context, query string, count int) ([]Result, error)
}

// NewSearcher picks the provider from config.
func NewSearcher(cfg config.SearchConfig) (Searcher, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	switch cfg.Provider {
	case "", "brave":
		if cfg.BraveAPIKey == "" {
			return nil, fmt.Errorf("search: brave api key not configured")
		}
		return &braveClient{apiKey: cfg.BraveAPIKey, client: client}, nil
	case "serper":
		if cfg.SerperAPIKey == "" {
			return nil, fmt.Errorf("search: serper api key not configured")
		}
		return &serperClient{apiKey: cfg.SerperAPIKey, client: client}, nil
	default:
		return nil, fmt.Errorf("search: unknown provider %q", cfg.Provider)
	}
}

type braveClient struct {
	apiKey string
	client *http.Client
}

func (b *braveClient) Search(ctx context.Context, query string, count int) ([]Result, error) {
	if count <= 0 {
		count = 10
	}
	endpoint := "https://api.search.brave.com/res/v1/web/search?q=" + url.QueryEscape(query) +
		"&count=" + strconv.Itoa(count)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("search: building brave request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: brave request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("search: brave status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("search: decoding brave response: %w", err)
	}
	out := make([]Result, 0, len(parsed.Web.Results))
	for _, r := range parsed.Web.Results {
		out = append(out, Result{Title: r.Title, URL: r.URL, Snippet: r.Description, Domain: DomainOf(r.URL)})
	}
	return out, nil
}

type serperClient struct {
	apiKey string
	client *http.Client
}

func (s *serperClient) Search(ctx context.Context, query string, count int) ([]Result, error) {
	if count <= 0 {
		count = 10
	}
	payload, _ := json.Marshal(map[string]interface{}{"q": query, "num": count})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://google.serper.dev/search", strings.NewReader(string(payload)))
	if err != nil {
		return nil, fmt.Errorf("search: building serper request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: serper request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("search: serper status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("search: decoding serper response: %w", err)
	}
	out := make([]Result, 0, len(parsed.Organic))
	for _, r := range parsed.Organic {
		out = append(out, Result{Title: r.Title, URL: r.Link, Snippet: r.Snippet, Domain: DomainOf(r.Link)})
	}
	return out, nil
}

// DomainOf extracts the bare host from a URL, dropping a www. prefix.
func DomainOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Host)
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	return strings.TrimPrefix(host, "www.")
}
