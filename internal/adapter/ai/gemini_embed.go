package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/arturoeanton/go-git-rag/internal/port"
)

const (
	defaultGeminiBaseURL    = "https://generativelanguage.googleapis.com"
	defaultGeminiEmbedModel = "text-embedding-004"
	defaultEmbedTimeout     = 30 * time.Second
)

// GeminiEmbedConfig configures the Gemini embedContent client.
type GeminiEmbedConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	Dimension int           // expected vector length, 0 = unchecked
	Timeout   time.Duration // per request
	RateLimit float64       // requests per second, 0 = unlimited
}

// GeminiEmbedder implements port.Embedder against the Gemini embedContent REST API.
type GeminiEmbedder struct {
	cfg        GeminiEmbedConfig
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewGeminiEmbedder creates a new Gemini embedding client.
func NewGeminiEmbedder(cfg GeminiEmbedConfig) *GeminiEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGeminiBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiEmbedModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultEmbedTimeout
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	return &GeminiEmbedder{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiEmbedRequest struct {
	Model   string        `json:"model"`
	Content geminiContent `json:"content"`
}

type geminiEmbedResponse struct {
	Embedding *struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

// Embed generates a vector embedding for the given text.
func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit: %w", port.ErrEmbeddingProvider, err)
	}

	model := strings.TrimPrefix(g.cfg.Model, "models/")
	payload := geminiEmbedRequest{
		Model:   "models/" + model,
		Content: geminiContent{Parts: []geminiPart{{Text: text}}},
	}

	body, err := g.post(ctx, fmt.Sprintf("/v1beta/models/%s:embedContent", model), payload)
	if err != nil {
		return nil, fmt.Errorf("%w: gemini embed: %w", port.ErrEmbeddingProvider, err)
	}

	var resp geminiEmbedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: gemini embed decode: %w", port.ErrEmbeddingProvider, err)
	}
	if resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("%w: gemini embed: response has no embedding values", port.ErrEmbeddingProvider)
	}
	if g.cfg.Dimension > 0 && len(resp.Embedding.Values) != g.cfg.Dimension {
		return nil, fmt.Errorf("%w: %w: got %d values, want %d",
			port.ErrEmbeddingProvider, port.ErrDimensionMismatch, len(resp.Embedding.Values), g.cfg.Dimension)
	}

	return resp.Embedding.Values, nil
}

// EmbedBatch embeds each text in order and stops at the first failure.
func (g *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, g, texts)
}

func (g *GeminiEmbedder) post(ctx context.Context, path string, payload any) ([]byte, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(g.cfg.BaseURL, "/")+path, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.cfg.APIKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gemini API error (%d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// embedEach runs Embed sequentially, preserving order and failing fast.
func embedEach(ctx context.Context, e port.Embedder, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("batch item %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}
