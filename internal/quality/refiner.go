package quality

import "strings"

// maxRefinedQueries caps how many refined queries one round may issue.
const maxRefinedQueries = 3

// RefinedQuerySet is the deterministic output of one refinement pass.
type RefinedQuerySet struct {
	Entity  string   `json:"entity"`
	Queries []string `json:"queries"`
	// Fallback marks that the institutional fallback was used because the
	// table listed no vernacular outlets for the entity.
	Fallback bool `json:"fallback"`
}

// Refine builds new queries that reach the target entity's own outlets.
// The same inputs always produce the same set, and queries already issued
// (tracked by the caller in issued, case-insensitive) are never re-emitted —
// refinement must reformulate, not repeat.
func Refine(topic, entity string, table AffinityTable, issued map[string]bool) RefinedQuerySet {
	set := RefinedQuerySet{Entity: entity}
	topic = strings.TrimSpace(topic)

	entry, ok := table[strings.ToLower(entity)]
	names := entry.Outlets
	if !ok || len(names) == 0 {
		set.Fallback = true
		institution := entry.Institution
		if institution == "" {
			// Entity unknown to the table entirely: fall back to its
			// generic institutional voice.
			institution = strings.TrimSpace(entity) + " government official statement"
		}
		names = []string{institution}
	}

	for _, name := range names {
		if len(set.Queries) >= maxRefinedQueries {
			break
		}
		q := strings.TrimSpace(topic + " " + name)
		key := strings.ToLower(q)
		if issued[key] {
			continue
		}
		set.Queries = append(set.Queries, q)
	}
	return set
}
