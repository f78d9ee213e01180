package quality

// Thresholds are the externally configured decision boundaries. Defaults
// come from config (opinion.* keys).
type Thresholds struct {
	// HomogeneityIterate: above this the pool is treated as one-sided.
	HomogeneityIterate float64
	// HomogeneityStop / DiversityStop: together they mark a balanced pool.
	HomogeneityStop float64
	DiversityStop   float64
}

// Decision says whether the refinement loop should run another round.
type Decision struct {
	Iterate bool
	Reason  string
}

const (
	ReasonHomogeneityGap    = "origin homogeneity gap: target entity voice missing from dominant sources"
	ReasonDiversityAchieved = "acceptable source diversity achieved"
	ReasonBelowTargets      = "source diversity below targets"
)

// Assess applies the decision rules in order; the first match wins. The
// round ceiling is not checked here — the surrounding bounded loop owns it.
//
// targetOrigin is the origin key of the entity the user asked about, or ""
// when the query names no known entity.
func Assess(m Metrics, targetOrigin string, th Thresholds) Decision {
	if targetOrigin != "" && targetOrigin != m.DominantOrigin && m.Homogeneity > th.HomogeneityIterate {
		return Decision{Iterate: true, Reason: ReasonHomogeneityGap}
	}
	if m.Homogeneity < th.HomogeneityStop && m.Diversity >= th.DiversityStop {
		return Decision{Iterate: false, Reason: ReasonDiversityAchieved}
	}
	return Decision{Iterate: true, Reason: ReasonBelowTargets}
}
