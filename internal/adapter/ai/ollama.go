package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/arturoeanton/go-git-rag/internal/port"
)

// OllamaEndpointConfig holds the configuration for a single Ollama endpoint.
type OllamaEndpointConfig struct {
	BaseURL string        // e.g. http://localhost:11434 or https://api.ollama.com
	Model   string        // e.g. nomic-embed-text, qwen3
	Token   string        // Bearer token for Ollama Cloud (empty = no auth)
	Timeout time.Duration // per request, 0 = bounded only by the caller's context
}

// OllamaProvider implements port.Embedder and port.Generator using the Ollama REST API.
// Supports separate endpoints for embed vs chat (different URLs, models, and tokens).
type OllamaProvider struct {
	embed      OllamaEndpointConfig
	chat       OllamaEndpointConfig
	dimension  int
	httpClient *http.Client
}

// NewOllamaProvider creates a new Ollama-backed provider with separate embed/chat configs.
// A positive dimension makes every returned vector length-checked.
func NewOllamaProvider(embed, chat OllamaEndpointConfig, dimension int, httpClient *http.Client) *OllamaProvider {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &OllamaProvider{
		embed:      embed,
		chat:       chat,
		dimension:  dimension,
		httpClient: httpClient,
	}
}

// ModelName returns the chat model identifier.
func (o *OllamaProvider) ModelName() string {
	return o.chat.Model
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed generates a vector embedding for the given text.
func (o *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one call.
// The response must carry exactly one vector per input.
func (o *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	payload := map[string]interface{}{
		"model": o.embed.Model,
		"input": texts,
	}

	body, err := o.post(ctx, o.embed, "/api/embed", payload)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama embed: %w", port.ErrEmbeddingProvider, err)
	}

	var resp ollamaEmbedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: ollama embed decode: %w", port.ErrEmbeddingProvider, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: ollama embed: got %d vectors for %d inputs", port.ErrEmbeddingProvider, len(resp.Embeddings), len(texts))
	}
	for i, vec := range resp.Embeddings {
		if len(vec) == 0 {
			return nil, fmt.Errorf("%w: ollama embed: empty vector at %d", port.ErrEmbeddingProvider, i)
		}
		if o.dimension > 0 && len(vec) != o.dimension {
			return nil, fmt.Errorf("%w: %w: got %d values, want %d", port.ErrEmbeddingProvider, port.ErrDimensionMismatch, len(vec), o.dimension)
		}
	}

	return resp.Embeddings, nil
}

// Generate sends the prompt as a single user message and returns the reply.
func (o *OllamaProvider) Generate(ctx context.Context, prompt string, cfg port.GenerationConfig) (string, error) {
	payload := map[string]interface{}{
		"model": o.chat.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"stream": false,
		"options": map[string]interface{}{
			"temperature": cfg.Temperature,
			"top_k":       cfg.TopK,
			"top_p":       cfg.TopP,
			"num_predict": cfg.MaxOutputTokens,
		},
	}

	body, err := o.post(ctx, o.chat, "/api/chat", payload)
	if err != nil {
		return "", fmt.Errorf("%w: ollama chat: %w", port.ErrGenerationProvider, err)
	}

	var resp struct {
		Message *struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: ollama chat decode: %w", port.ErrGenerationProvider, err)
	}
	if resp.Message == nil || resp.Message.Content == "" {
		return "", fmt.Errorf("%w: ollama chat: empty message", port.ErrGenerationProvider)
	}

	return resp.Message.Content, nil
}

// post is a helper for POST requests to an Ollama endpoint (with optional bearer token).
func (o *OllamaProvider) post(ctx context.Context, cfg OllamaEndpointConfig, path string, payload interface{}) ([]byte, error) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+path, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama API error (%d): %s", resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}
