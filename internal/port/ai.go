package port

import "context"

// Embedder turns text into fixed-length vectors.
// Implementations can target Gemini, Ollama, or any compatible API.
type Embedder interface {
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds every text in order. A failure on any item fails the
	// whole batch; no partial result is returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces a natural-language answer for a single prompt.
type Generator interface {
	// ModelName returns the identifier of the model being used.
	ModelName() string

	Generate(ctx context.Context, prompt string, cfg GenerationConfig) (string, error)
}

// GenerationConfig bounds the sampling of a generation call.
type GenerationConfig struct {
	Temperature     float32 `json:"temperature"`
	TopK            int     `json:"top_k"`
	TopP            float32 `json:"top_p"`
	MaxOutputTokens int     `json:"max_output_tokens"`
}
