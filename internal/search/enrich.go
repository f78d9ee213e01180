package search

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/opine-ai/opine/config"
)

const maxContentRunes = 4000

// Enricher fetches the top hits of a result set and attaches extracted
// article text. Origin classification downstream works a lot better on body
// text than on two-line snippets.
type Enricher struct {
	topN    int
	timeout time.Duration
	client  *http.Client
	logger  *log.Logger
}

func NewEnricher(cfg config.SearchConfig, logger *log.Logger) *Enricher {
	if logger == nil {
		logger = log.New(log.Writer(), "[SEARCH] ", log.LstdFlags)
	}
	timeout := cfg.EnrichTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	topN := cfg.EnrichTopN
	if topN <= 0 {
		topN = 3
	}
	return &Enricher{
		topN:    topN,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Enrich mutates results in place, filling Content for up to topN entries.
// Fetch failures are logged and skipped; enrichment is best effort.
func (e *Enricher) Enrich(ctx context.Context, results []Result) {
	n := e.topN
	if n > len(results) {
		n = len(results)
	}
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return
		}
		text, err := e.extract(ctx, results[i].URL)
		if err != nil {
			e.logger.Printf("enrich skipped for %s: %v", results[i].Domain, err)
			continue
		}
		results[i].Content = text
	}
}

func (e *Enricher) extract(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "opine/1.0 (+https://github.com/opine-ai/opine)")
	resp, err := e.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	article, err := readability.FromReader(resp.Body, pageURL)
	if err != nil {
		return "", err
	}
	text := []rune(article.TextContent)
	if len(text) > maxContentRunes {
		text = text[:maxContentRunes]
	}
	return string(text), nil
}
