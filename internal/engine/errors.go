package engine

import "errors"

// Engine-owned failure classes. Tool-level classes live in the tools
// package (ErrUnknownTool, ErrToolTimeout), artifact-level ones in the
// artifact package, and ErrSessionBusy with the session store.
var (
	// ErrPlanningMalformed: the planning boundary returned something no
	// lenient parse could turn into an action plan.
	ErrPlanningMalformed = errors.New("planning output malformed")
	// ErrSynthesisFailure: the synthesis boundary failed; callers degrade
	// to an apologetic response rather than surfacing this to users.
	ErrSynthesisFailure = errors.New("synthesis failed")
)
