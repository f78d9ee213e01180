package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opine-ai/opine/config"
)

// ErrGenerationFailed wraps renderer-side failures. The textual answer is
// still delivered when generation fails.
var ErrGenerationFailed = fmt.Errorf("artifact generation failed")

// Generator is the generation adapter boundary.
type Generator interface {
	Generate(ctx context.Context, req Request) (Record, error)
}

// RendererClient posts validated chart specs to the external renderer
// service and records where the rendered image landed.
type RendererClient struct {
	endpoint string
	client   *http.Client
	logger   *log.Logger
}

func NewRendererClient(cfg config.ArtifactConfig, logger *log.Logger) (*RendererClient, error) {
	if cfg.RendererURL == "" {
		return nil, fmt.Errorf("artifact: renderer url not configured")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[ARTIFACT] ", log.LstdFlags)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RendererClient{
		endpoint: cfg.RendererURL,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}, nil
}

func (r *RendererClient) Generate(ctx context.Context, req Request) (Record, error) {
	tracer := otel.Tracer("opine/artifact")
	ctx, span := tracer.Start(ctx, "artifact.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("artifact.chart_type", string(req.ChartType)),
		attribute.String("artifact.session_id", req.SessionID),
	)

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return Record{}, fmt.Errorf("artifact: marshalling request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Record{}, fmt.Errorf("artifact: building renderer request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Record{}, fmt.Errorf("artifact: renderer call: %v: %w", err, ErrGenerationFailed)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		span.SetStatus(codes.Error, fmt.Sprintf("renderer status %d", resp.StatusCode))
		return Record{}, fmt.Errorf("artifact: renderer status %d: %s: %w", resp.StatusCode, bytes.TrimSpace(body), ErrGenerationFailed)
	}

	var wire struct {
		ImageURI string `json:"image_uri"`
		SpecURI  string `json:"spec_uri"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Record{}, fmt.Errorf("artifact: decoding renderer response: %v: %w", err, ErrGenerationFailed)
	}
	if wire.ImageURI == "" {
		span.SetStatus(codes.Error, "renderer returned no image uri")
		return Record{}, fmt.Errorf("artifact: renderer returned no image uri: %w", ErrGenerationFailed)
	}

	rec := Record{
		ID:        req.ID,
		SessionID: req.SessionID,
		ChartType: req.ChartType,
		Title:     req.Title,
		ImageURI:  wire.ImageURI,
		SpecURI:   wire.SpecURI,
		CreatedAt: time.Now().UTC(),
	}
	span.SetStatus(codes.Ok, "")
	r.logger.Printf("generated %s artifact %s for session %s", rec.ChartType, rec.ID, rec.SessionID)
	return rec, nil
}
