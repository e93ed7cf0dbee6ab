package ai

import (
	"context"
	"fmt"

	"github.com/arturoeanton/go-git-rag/internal/metrics"
	"github.com/arturoeanton/go-git-rag/internal/port"
	"github.com/arturoeanton/go-git-rag/pkg/config"
)

// NewProviders builds the embedder and generator selected by cfg.AIProvider,
// decorated with the circuit breaker and the embedding cache when enabled.
func NewProviders(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (port.Embedder, port.Generator, error) {
	var embedder port.Embedder
	var generator port.Generator

	switch cfg.AIProvider {
	case "gemini":
		embedder = NewGeminiEmbedder(GeminiEmbedConfig{
			BaseURL:   cfg.GeminiBaseURL,
			APIKey:    cfg.GeminiAPIKey,
			Model:     cfg.GeminiEmbedModel,
			Dimension: cfg.EmbeddingDimension,
			Timeout:   cfg.EmbedTimeout,
			RateLimit: cfg.EmbedRateLimit,
		})
		gen, err := NewGeminiGenerator(ctx, GeminiGenerateConfig{
			BaseURL: cfg.GeminiBaseURL,
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.GeminiChatModel,
			Timeout: cfg.GenerateTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		generator = gen
	case "ollama":
		ollama := NewOllamaProvider(
			OllamaEndpointConfig{BaseURL: cfg.OllamaEmbedURL, Model: cfg.OllamaEmbedModel, Token: cfg.OllamaEmbedToken, Timeout: cfg.EmbedTimeout},
			OllamaEndpointConfig{BaseURL: cfg.OllamaChatURL, Model: cfg.OllamaChatModel, Token: cfg.OllamaChatToken, Timeout: cfg.GenerateTimeout},
			cfg.EmbeddingDimension,
			nil,
		)
		embedder, generator = ollama, ollama
	default:
		return nil, nil, fmt.Errorf("unknown AI provider %q", cfg.AIProvider)
	}

	if cfg.BreakerEnabled {
		embedder = NewBreakerEmbedder(embedder, BreakerConfig{Name: cfg.AIProvider + "-embed"}, m)
		generator = NewBreakerGenerator(generator, BreakerConfig{Name: cfg.AIProvider + "-generate"}, m)
	}
	if cfg.EmbedCacheSize > 0 {
		cached, err := NewCachedEmbedder(embedder, cfg.EmbedCacheSize, m)
		if err != nil {
			return nil, nil, err
		}
		embedder = cached
	}

	return embedder, generator, nil
}
