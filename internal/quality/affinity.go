package quality

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// AffinityEntry describes how to reach and recognise first-party coverage
// for one entity (country or bloc).
type AffinityEntry struct {
	// Institution is the official institutional voice, used as the
	// refinement fallback when no vernacular outlets are listed.
	Institution string `json:"institution"`
	// Outlets are vernacular/domestic outlets worth querying directly.
	Outlets []string `json:"outlets"`
	// Domains attribute search hits to this origin.
	Domains []string `json:"domains"`
	// TLDs are country-code suffixes attributed to this origin.
	TLDs []string `json:"tlds"`
	// Aliases are extra tokens that mark this entity in a user query.
	Aliases []string `json:"aliases"`
}

// AffinityTable maps a lowercase entity key (e.g. "iran") to its entry.
// The table is data, not code: deployments extend it through
// opinion.affinity_file without rebuilding.
type AffinityTable map[string]AffinityEntry

// DefaultAffinityTable returns the built-in entries. Deliberately small;
// anything beyond these comes from the external file.
func DefaultAffinityTable() AffinityTable {
	return AffinityTable{
		"iran": {
			Institution: "IRNA Islamic Republic News Agency",
			Outlets:     []string{"Tehran Times", "Press TV", "Mehr News"},
			Domains:     []string{"irna.ir", "tehrantimes.com", "presstv.ir", "mehrnews.com"},
			TLDs:        []string{".ir"},
			Aliases:     []string{"iranian", "tehran"},
		},
		"china": {
			Institution: "Xinhua News Agency",
			Outlets:     []string{"Global Times", "China Daily", "CGTN"},
			Domains:     []string{"xinhuanet.com", "globaltimes.cn", "chinadaily.com.cn", "cgtn.com"},
			TLDs:        []string{".cn"},
			Aliases:     []string{"chinese", "beijing"},
		},
		"russia": {
			Institution: "TASS Russian News Agency",
			Outlets:     []string{"RT", "Kommersant", "Interfax"},
			Domains:     []string{"tass.com", "rt.com", "kommersant.ru", "interfax.ru"},
			TLDs:        []string{".ru"},
			Aliases:     []string{"russian", "moscow", "kremlin"},
		},
		"united states": {
			Institution: "U.S. Department of State",
			Outlets:     []string{"Associated Press", "NPR", "Voice of America"},
			Domains:     []string{"apnews.com", "npr.org", "voanews.com", "state.gov"},
			TLDs:        nil,
			Aliases:     []string{"american", "washington", "u.s.", "usa"},
		},
		"european union": {
			Institution: "European Commission",
			Outlets:     []string{"Euronews", "Politico Europe", "EUobserver"},
			Domains:     []string{"euronews.com", "politico.eu", "euobserver.com", "europa.eu"},
			TLDs:        []string{".eu"},
			Aliases:     []string{"eu", "brussels"},
		},
	}
}

// LoadAffinityTable merges entries from a JSON file over the defaults.
// An empty path returns the defaults unchanged.
func LoadAffinityTable(path string) (AffinityTable, error) {
	table := DefaultAffinityTable()
	if path == "" {
		return table, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("quality: reading affinity file: %w", err)
	}
	var extra AffinityTable
	if err := json.Unmarshal(raw, &extra); err != nil {
		return nil, fmt.Errorf("quality: parsing affinity file: %w", err)
	}
	for key, entry := range extra {
		table[strings.ToLower(key)] = entry
	}
	return table, nil
}

// ClassifyOrigin attributes a domain to an origin key, or "" when no entry
// claims it.
func (t AffinityTable) ClassifyOrigin(domain string) string {
	d := strings.ToLower(domain)
	if d == "" {
		return ""
	}
	for key, entry := range t {
		for _, known := range entry.Domains {
			if d == known || strings.HasSuffix(d, "."+known) {
				return key
			}
		}
	}
	for key, entry := range t {
		for _, tld := range entry.TLDs {
			if strings.HasSuffix(d, tld) {
				return key
			}
		}
	}
	return ""
}

// DetectEntity finds the first table entity mentioned in the query, by key
// or alias. Matching is case-insensitive on word boundaries.
func (t AffinityTable) DetectEntity(query string) (string, bool) {
	q := " " + strings.ToLower(query) + " "
	best := ""
	for key, entry := range t {
		tokens := append([]string{key}, entry.Aliases...)
		for _, tok := range tokens {
			if tok == "" {
				continue
			}
			if containsWord(q, strings.ToLower(tok)) {
				// Deterministic winner when several entities match.
				if best == "" || key < best {
					best = key
				}
			}
		}
	}
	return best, best != ""
}

func containsWord(haystack, word string) bool {
	idx := 0
	for {
		i := strings.Index(haystack[idx:], word)
		if i < 0 {
			return false
		}
		i += idx
		var before byte = ' '
		if i > 0 {
			before = haystack[i-1]
		}
		afterIdx := i + len(word)
		var after byte = ' '
		if afterIdx < len(haystack) {
			after = haystack[afterIdx]
		}
		if isBoundary(before) && isBoundary(after) {
			return true
		}
		idx = i + 1
	}
}

func isBoundary(c byte) bool {
	switch c {
	case ' ', '\t', '\n', ',', '.', ';', ':', '?', '!', '(', ')', '"', '\'':
		return true
	}
	return false
}
