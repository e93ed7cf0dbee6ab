package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/arturoeanton/go-git-rag/internal/port"
)

const (
	defaultGeminiChatModel = "gemini-1.5-flash"
	defaultGenerateTimeout = 60 * time.Second
)

// GeminiGenerateConfig configures the Gemini generation client.
type GeminiGenerateConfig struct {
	BaseURL    string // empty = public Gemini endpoint
	APIKey     string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// GeminiGenerator implements port.Generator with the genai SDK.
type GeminiGenerator struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiGenerator creates a Gemini-backed generator.
func NewGeminiGenerator(ctx context.Context, cfg GeminiGenerateConfig) (*GeminiGenerator, error) {
	if cfg.Model == "" {
		cfg.Model = defaultGeminiChatModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultGenerateTimeout
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" && cfg.BaseURL != defaultGeminiBaseURL {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimRight(cfg.BaseURL, "/") + "/"}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiGenerator{client: client, model: cfg.Model, timeout: cfg.Timeout}, nil
}

// ModelName returns the chat model identifier.
func (g *GeminiGenerator) ModelName() string {
	return g.model
}

// Generate sends one user prompt and returns the concatenated text of the first candidate.
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string, cfg port.GenerationConfig) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: prompt}},
	}}
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(cfg.Temperature),
		TopK:            genai.Ptr(float32(cfg.TopK)),
		TopP:            genai.Ptr(cfg.TopP),
		MaxOutputTokens: int32(cfg.MaxOutputTokens),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("%w: gemini generate: %w", port.ErrGenerationProvider, err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: gemini generate: no candidates", port.ErrGenerationProvider)
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: gemini generate: candidate has no text", port.ErrGenerationProvider)
	}
	return sb.String(), nil
}
