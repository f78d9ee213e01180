// Package loop provides the bounded iterate-or-stop primitive shared by the
// engine's convergence controller and the opinion tool's refinement cycle.
package loop

import "context"

// ReasonCeiling is reported when the round ceiling forces a stop before any
// step asked for one.
const ReasonCeiling = "iteration ceiling reached"

// Decision is what a step reports back after each round.
type Decision struct {
	Stop   bool
	Reason string
}

// StepFunc executes one round. round starts at 0 and is strictly less than
// the ceiling passed to Run.
type StepFunc func(ctx context.Context, round int) (Decision, error)

// Run drives step up to maxRounds times. It returns the number of rounds
// actually executed and the reason the loop stopped. The ceiling is a hard
// invariant: step is never called more than maxRounds times, regardless of
// what decisions it returns. A step error or context cancellation stops the
// loop immediately.
func Run(ctx context.Context, maxRounds int, step StepFunc) (rounds int, reason string, err error) {
	if maxRounds < 1 {
		maxRounds = 1
	}
	for round := 0; round < maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return round, "context cancelled", err
		}
		dec, err := step(ctx, round)
		if err != nil {
			return round + 1, dec.Reason, err
		}
		if dec.Stop {
			return round + 1, dec.Reason, nil
		}
	}
	return maxRounds, ReasonCeiling, nil
}
