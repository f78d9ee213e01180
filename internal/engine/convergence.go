package engine

import "fmt"

// Verdict is the convergence gate's call for a finished round.
type Verdict string

const (
	// VerdictContinue: nothing usable yet and budget remains.
	VerdictContinue Verdict = "continue"
	// VerdictSynthesize: compose the answer from what we have.
	VerdictSynthesize Verdict = "synthesize"
	// VerdictClarify is defined for completeness; the engine degrades it
	// to synthesis with a note asking the user to rephrase.
	VerdictClarify Verdict = "clarify"
)

// Controller is the convergence gate. It is evaluated exactly once per
// round, after that round's results are in.
type Controller struct {
	// MaxRounds is the hard ceiling; the gate forces synthesis at it no
	// matter what the results look like.
	MaxRounds int
}

// Decide takes the number of completed rounds (1-based) and the cumulative
// success count across all rounds, and returns the verdict with its reason.
//
// Ordering matters: a single usable result after any completed round wins
// over further retries, and the ceiling wins over everything. Decide never
// returns VerdictClarify: any success means synthesize, and the ceiling
// forces synthesis even with none, so no state is left to ask about.
func (c Controller) Decide(completedRounds, successes int) (Verdict, string) {
	if successes >= 1 {
		return VerdictSynthesize, fmt.Sprintf("%d usable result(s) after round %d", successes, completedRounds)
	}
	if completedRounds >= c.MaxRounds {
		return VerdictSynthesize, fmt.Sprintf("round ceiling (%d) reached with no usable results", c.MaxRounds)
	}
	return VerdictContinue, fmt.Sprintf("no usable results after round %d, retrying", completedRounds)
}
