package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/arturoeanton/go-git-rag/internal/metrics"
	"github.com/arturoeanton/go-git-rag/internal/port"
)

// BreakerConfig holds configuration for a provider circuit breaker.
type BreakerConfig struct {
	Name         string
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

func newBreaker(cfg BreakerConfig, m *metrics.Metrics) *gobreaker.CircuitBreaker {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Interval == 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 5
	}
	if cfg.FailureRatio == 0 {
		cfg.FailureRatio = 0.5
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= cfg.MinRequests && failureRatio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			if m != nil {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
}

// breakerErr tags a rejection by the breaker with the provider sentinel.
func breakerErr(sentinel, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return err
}

// BreakerEmbedder fails fast while the embedding provider keeps failing.
type BreakerEmbedder struct {
	inner port.Embedder
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerEmbedder wraps inner with a circuit breaker.
func NewBreakerEmbedder(inner port.Embedder, cfg BreakerConfig, m *metrics.Metrics) *BreakerEmbedder {
	if cfg.Name == "" {
		cfg.Name = "embedder"
	}
	return &BreakerEmbedder{inner: inner, cb: newBreaker(cfg, m)}
}

// Embed calls the wrapped embedder through the breaker.
func (b *BreakerEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Embed(ctx, text)
	})
	if err != nil {
		return nil, breakerErr(port.ErrEmbeddingProvider, err)
	}
	return out.([]float32), nil
}

// EmbedBatch calls the wrapped batch embedder through the breaker.
func (b *BreakerEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.EmbedBatch(ctx, texts)
	})
	if err != nil {
		return nil, breakerErr(port.ErrEmbeddingProvider, err)
	}
	return out.([][]float32), nil
}

// BreakerGenerator fails fast while the generation provider keeps failing.
type BreakerGenerator struct {
	inner port.Generator
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerGenerator wraps inner with a circuit breaker.
func NewBreakerGenerator(inner port.Generator, cfg BreakerConfig, m *metrics.Metrics) *BreakerGenerator {
	if cfg.Name == "" {
		cfg.Name = "generator"
	}
	return &BreakerGenerator{inner: inner, cb: newBreaker(cfg, m)}
}

// ModelName returns the wrapped model name.
func (b *BreakerGenerator) ModelName() string {
	return b.inner.ModelName()
}

// Generate calls the wrapped generator through the breaker.
func (b *BreakerGenerator) Generate(ctx context.Context, prompt string, cfg port.GenerationConfig) (string, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Generate(ctx, prompt, cfg)
	})
	if err != nil {
		return "", breakerErr(port.ErrGenerationProvider, err)
	}
	return out.(string), nil
}
