// Package llm holds the completion-provider boundary used by the planner,
// the synthesis step and the artifact extractor.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opine-ai/opine/config"
)

// Provider is the completion boundary. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Generate produces a completion for prompt using the named model.
	// Recognised options: "temperature" (float64), "max_tokens" (int).
	Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error)
	// CalculateCost estimates the dollar cost of a call in the given model.
	CalculateCost(inputTokens, outputTokens int, model string) float64
}

// NewProvider builds a Provider from config. Only the OpenAI-compatible
// chat-completions surface is supported; base_url points it at any
// compatible gateway.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm: api key not configured")
		}
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		return &openAIProvider{
			apiKey:  cfg.APIKey,
			baseURL: baseURL,
			models:  cfg.Models,
			client:  &http.Client{Timeout: timeout},
		}, nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

type openAIProvider struct {
	apiKey  string
	baseURL string
	models  map[string]config.LLMModelConfig
	client  *http.Client
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *openAIProvider) Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error) {
	reqBody := chatRequest{
		Model:    model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	}
	if options != nil {
		if t, ok := options["temperature"].(float64); ok {
			reqBody.Temperature = &t
		}
		if m, ok := options["max_tokens"].(int); ok {
			reqBody.MaxTokens = m
		}
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("llm: marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("llm: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: calling %s: %w", model, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("llm: reading response: %w", err)
	}
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("llm: decoding response (status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("llm: api error (%s): %s", parsed.Error.Type, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm: unexpected status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llm: empty choices from %s", model)
	}
	return parsed.Choices[0].Message.Content, nil
}

func (p *openAIProvider) CalculateCost(inputTokens, outputTokens int, model string) float64 {
	info, ok := p.models[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1000*info.CostPer1KIn + float64(outputTokens)/1000*info.CostPer1KOut
}
