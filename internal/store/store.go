// Package store persists users and completed exchanges to Postgres for
// audit. Live conversational state lives in the session store, not here.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type Store struct {
	DB *sql.DB
}

// NewWithDSN opens and pings a Postgres connection.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: pinging postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// CreateUser inserts a user; a duplicate email surfaces as pq error 23505
// for the handler to map onto 409.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES ($1, $2, $3, NOW())`,
		uuid.NewString(), email, passwordHash)
	return err
}

// GetUserByEmail returns the user id and password hash.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (string, string, error) {
	var id, hash string
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, password_hash FROM users WHERE email = $1`, email).Scan(&id, &hash)
	if err != nil {
		return "", "", err
	}
	return id, hash, nil
}

// ExchangeRecord is one audited request/response pair.
type ExchangeRecord struct {
	ID              string
	SessionID       string
	UserTurnID      string
	AssistantTurnID string
	Message         string
	FinalText       string
	Citations       []string
	ArtifactID      string
	CreatedAt       time.Time
}

// SaveExchange implements the engine's audit sink.
func (s *Store) SaveExchange(ctx context.Context, sessionID, userTurnID, assistantTurnID, message, finalText string, citations []string, artifactID string) error {
	tracer := otel.Tracer("opine/store")
	ctx, span := tracer.Start(ctx, "store.save_exchange")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	var artifactCol interface{}
	if artifactID != "" {
		artifactCol = artifactID
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO exchanges (id, session_id, user_turn_id, assistant_turn_id, message, final_text, citations, artifact_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
		uuid.NewString(), sessionID, userTurnID, assistantTurnID, message, finalText, pq.Array(citations), artifactCol)
	if err != nil {
		return fmt.Errorf("store: saving exchange: %w", err)
	}
	return nil
}

// ListExchanges returns a session's audited exchanges, oldest first.
func (s *Store) ListExchanges(ctx context.Context, sessionID string, limit int) ([]ExchangeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, session_id, user_turn_id, assistant_turn_id, message, final_text, citations, COALESCE(artifact_id, ''), created_at
		FROM exchanges WHERE session_id = $1 ORDER BY created_at ASC LIMIT $2`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: listing exchanges: %w", err)
	}
	defer rows.Close()
	var out []ExchangeRecord
	for rows.Next() {
		var rec ExchangeRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.UserTurnID, &rec.AssistantTurnID,
			&rec.Message, &rec.FinalText, pq.Array(&rec.Citations), &rec.ArtifactID, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scanning exchange: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveArtifact records a generated artifact's metadata.
func (s *Store) SaveArtifact(ctx context.Context, id, sessionID, chartType, title, imageURI, specURI string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO artifacts (id, session_id, chart_type, title, image_uri, spec_uri, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO NOTHING`,
		id, sessionID, chartType, title, imageURI, specURI)
	if err != nil {
		return fmt.Errorf("store: saving artifact: %w", err)
	}
	return nil
}
