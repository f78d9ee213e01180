// Package quality measures how balanced a pool of collected sources is and
// decides whether another, refined research pass is worth the cost.
package quality

import "strings"

// Category buckets a source by the kind of publisher behind it.
type Category string

const (
	CategoryPress         Category = "press"
	CategoryInstitutional Category = "institutional"
	CategorySocial        Category = "social"
	CategoryAcademic      Category = "academic"
	CategoryOther         Category = "other"
)

var allCategories = []Category{CategoryPress, CategoryInstitutional, CategorySocial, CategoryAcademic, CategoryOther}

// SourceItem is one evidence item in the cumulative pool. Items are never
// removed; refinement rounds only add to the pool.
type SourceItem struct {
	Query    string   `json:"query"`
	Title    string   `json:"title"`
	URL      string   `json:"url"`
	Domain   string   `json:"domain"`
	Snippet  string   `json:"snippet"`
	Origin   string   `json:"origin"` // country/bloc key, "" when unknown
	Category Category `json:"category"`
}

// Metrics is an append-only snapshot computed once per refinement round.
type Metrics struct {
	Round          int     `json:"round"`
	ItemCount      int     `json:"item_count"`
	Homogeneity    float64 `json:"homogeneity"`  // share of the dominant origin
	Diversity      float64 `json:"diversity"`    // distinct categories over all categories
	MediaRatio     float64 `json:"media_ratio"`  // press share of press+institutional
	DominantOrigin string  `json:"dominant_origin"`
}

// ComputeMetrics measures the cumulative pool. An empty pool scores as fully
// homogeneous with zero diversity, which keeps the assessor iterating.
func ComputeMetrics(round int, pool []SourceItem) Metrics {
	m := Metrics{Round: round, ItemCount: len(pool)}
	if len(pool) == 0 {
		m.Homogeneity = 1.0
		return m
	}

	origins := map[string]int{}
	known := 0
	cats := map[Category]bool{}
	press, institutional := 0, 0
	for _, item := range pool {
		if item.Origin != "" {
			origins[item.Origin]++
			known++
		}
		if item.Category != "" {
			cats[item.Category] = true
		}
		switch item.Category {
		case CategoryPress:
			press++
		case CategoryInstitutional:
			institutional++
		}
	}

	if known == 0 {
		// No attributable origins means we cannot show balance either way.
		m.Homogeneity = 1.0
	} else {
		max, dominant := 0, ""
		for origin, n := range origins {
			if n > max || (n == max && origin < dominant) {
				max, dominant = n, origin
			}
		}
		m.Homogeneity = float64(max) / float64(known)
		m.DominantOrigin = dominant
	}

	m.Diversity = float64(len(cats)) / float64(len(allCategories))
	if press+institutional > 0 {
		m.MediaRatio = float64(press) / float64(press+institutional)
	}
	return m
}

var socialDomains = map[string]bool{
	"twitter.com": true, "x.com": true, "facebook.com": true,
	"reddit.com": true, "youtube.com": true, "t.me": true,
	"instagram.com": true, "tiktok.com": true,
}

// Categorize buckets a domain by publisher kind. Heuristic on purpose; the
// affinity table refines origin, not category.
func Categorize(domain string) Category {
	d := strings.ToLower(domain)
	if d == "" {
		return CategoryOther
	}
	if socialDomains[d] {
		return CategorySocial
	}
	if strings.HasSuffix(d, ".gov") || strings.HasSuffix(d, ".mil") || strings.HasSuffix(d, ".int") ||
		strings.Contains(d, ".gov.") || strings.Contains(d, ".mil.") {
		return CategoryInstitutional
	}
	if strings.HasSuffix(d, ".edu") || strings.Contains(d, ".edu.") || strings.Contains(d, ".ac.") {
		return CategoryAcademic
	}
	return CategoryPress
}
