package session

import (
	"context"
	"sync"
	"time"

	"github.com/opine-ai/opine/internal/artifact"
)

// InMemoryStore keeps sessions in process memory. Suitable for a single
// instance; multi-instance deployments use the Redis store.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memSession
}

type memSession struct {
	turns     []Turn
	artifacts []artifact.Record
	busy      bool
	lastUsed  time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*memSession)}
}

func (s *InMemoryStore) get(sessionID string) *memSession {
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &memSession{}
		s.sessions[sessionID] = sess
	}
	return sess
}

func (s *InMemoryStore) Begin(ctx context.Context, sessionID string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.get(sessionID)
	if sess.busy {
		return nil, ErrSessionBusy
	}
	sess.busy = true
	sess.lastUsed = time.Now()
	var once sync.Once
	release := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			sess.busy = false
			sess.lastUsed = time.Now()
		})
	}
	return release, nil
}

func (s *InMemoryStore) Append(ctx context.Context, sessionID string, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.get(sessionID)
	sess.turns = append(sess.turns, turn)
	sess.lastUsed = time.Now()
	return nil
}

func (s *InMemoryStore) History(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return []Turn{}, nil
	}
	turns := sess.turns
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (s *InMemoryStore) RecordArtifact(ctx context.Context, sessionID string, rec artifact.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.get(sessionID)
	sess.artifacts = append(sess.artifacts, rec)
	sess.lastUsed = time.Now()
	return nil
}

func (s *InMemoryStore) Artifacts(ctx context.Context, sessionID string) ([]artifact.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return []artifact.Record{}, nil
	}
	out := make([]artifact.Record, len(sess.artifacts))
	copy(out, sess.artifacts)
	return out, nil
}

func (s *InMemoryStore) PruneIdle(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sess := range s.sessions {
		if sess.busy {
			continue
		}
		if sess.lastUsed.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}
