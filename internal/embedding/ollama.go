package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Defaults for the Ollama embedding client.
const (
	DefaultBaseURL    = "http://localhost:11434"
	DefaultModel      = "nomic-embed-text"
	DefaultDimensions = 768
	DefaultTimeout    = 10 * time.Second
)

// OllamaProvider generates embeddings via a local Ollama server. All HTTP
// calls are wrapped with circuit breaker protection.
type OllamaProvider struct {
	baseURL    string
	model      string
	dimensions int
	timeout    time.Duration
	client     *http.Client
	breaker    *Breaker
}

// OllamaConfig holds the Ollama provider configuration.
type OllamaConfig struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434).
	BaseURL string

	// Model is the embedding model name (default: nomic-embed-text).
	Model string

	// Dimensions is the vector width the model produces (default: 768).
	Dimensions int

	// Timeout is the per-request timeout (default: 10s).
	Timeout time.Duration
}

// embedRequest is the body for POST /api/embed.
type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// embedResponse is the /api/embed response. The embeddings field is a 2D
// array; with a single input we always use the first row.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaProvider creates an Ollama embedding provider, applying defaults
// for any zero-valued config field.
func NewOllamaProvider(config OllamaConfig) *OllamaProvider {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Dimensions == 0 {
		config.Dimensions = DefaultDimensions
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}

	return &OllamaProvider{
		baseURL:    config.BaseURL,
		model:      config.Model,
		dimensions: config.Dimensions,
		timeout:    config.Timeout,
		client:     &http.Client{Timeout: config.Timeout},
		breaker:    NewBreaker(),
	}
}

var _ Provider = (*OllamaProvider)(nil)

// Embed generates an embedding vector for the given text.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	result, err := p.breaker.Execute(ctx, func() (interface{}, error) {
		return p.embed(ctx, text)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, fmt.Errorf("embedding: circuit breaker open: %w", err)
		}
		return nil, err
	}
	return result.([]float32), nil
}

func (p *OllamaProvider) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	jsonData, err := json.Marshal(embedRequest{Model: p.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("embedding: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding: ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	var respData embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}
	if len(respData.Embeddings) == 0 || len(respData.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("embedding: ollama returned empty embedding")
	}

	return respData.Embeddings[0], nil
}

// Dimensions returns the configured vector width.
func (p *OllamaProvider) Dimensions() int {
	return p.dimensions
}

// HealthCheck verifies the Ollama server is reachable by listing models.
func (p *OllamaProvider) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("embedding: create health request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("embedding: health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embedding: ollama health returned status %d", resp.StatusCode)
	}
	return nil
}

// BreakerState exposes the circuit breaker state for health reporting.
func (p *OllamaProvider) BreakerState() string {
	return p.breaker.State()
}
