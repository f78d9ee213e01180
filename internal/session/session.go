// Package session owns per-session conversational state: ordered immutable
// turns plus artifact records. One writer per session at a time; distinct
// sessions proceed concurrently.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/opine-ai/opine/internal/artifact"
)

// Roles a turn can carry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrSessionBusy is returned when a second request arrives for a session
// that already has one in flight.
var ErrSessionBusy = errors.New("session busy: a request is already in flight")

// Turn is one immutable transcript entry. Once appended it never changes.
type Turn struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Citations []string  `json:"citations,omitempty"`
	// ArtifactID links an assistant turn to its generated artifact.
	ArtifactID string    `json:"artifact_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store is the session state boundary. Implementations must create a
// session implicitly on first append and answer History for unknown
// sessions with an empty slice, not an error.
type Store interface {
	// Begin claims the single writer slot for a session. The returned
	// release function must be called exactly once. ErrSessionBusy when
	// another request holds the slot.
	Begin(ctx context.Context, sessionID string) (release func(), err error)
	// Append adds an immutable turn to the end of the transcript.
	Append(ctx context.Context, sessionID string, turn Turn) error
	// History returns turns oldest-first. limit <= 0 means the whole
	// transcript; otherwise the most recent limit turns.
	History(ctx context.Context, sessionID string, limit int) ([]Turn, error)
	// RecordArtifact stores a generated artifact under its session.
	RecordArtifact(ctx context.Context, sessionID string, rec artifact.Record) error
	// Artifacts returns the session's artifact records oldest-first.
	Artifacts(ctx context.Context, sessionID string) ([]artifact.Record, error)
	// PruneIdle drops sessions whose last activity is older than cutoff
	// and reports how many were removed. The janitor calls this; request
	// handling never deletes sessions.
	PruneIdle(ctx context.Context, cutoff time.Time) (int, error)
}
