package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/go-git-rag/internal/port"
)

func newOllamaServer(t *testing.T, handler http.HandlerFunc) *OllamaProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOllamaProvider(
		OllamaEndpointConfig{BaseURL: srv.URL, Model: "embed-model", Token: "secret"},
		OllamaEndpointConfig{BaseURL: srv.URL, Model: "chat-model"},
		2,
		srv.Client(),
	)
}

func TestOllamaProvider_EmbedBatch(t *testing.T) {
	o := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "embed-model", req.Model)

		out := make([][]float32, len(req.Input))
		for i := range req.Input {
			out[i] = []float32{float32(i), 1}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": out})
	})

	vectors, err := o.EmbedBatch(t.Context(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}, {2, 1}}, vectors)

	vec, err := o.Embed(t.Context(), "a")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, vec)
}

func TestOllamaProvider_EmbedErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		status   int
		isDimErr bool
	}{
		{"count mismatch", `{"embeddings":[[1,2]]}`, http.StatusOK, false},
		{"bad dimension", `{"embeddings":[[1,2,3],[1,2,3]]}`, http.StatusOK, true},
		{"not json", `nope`, http.StatusOK, false},
		{"server error", `overloaded`, http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOllamaServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := o.EmbedBatch(t.Context(), []string{"a", "b"})
			require.Error(t, err)
			assert.ErrorIs(t, err, port.ErrEmbeddingProvider)
			if tt.isDimErr {
				assert.ErrorIs(t, err, port.ErrDimensionMismatch)
			}
		})
	}
}

func TestOllamaProvider_Generate(t *testing.T) {
	o := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))

		var req struct {
			Model    string              `json:"model"`
			Messages []map[string]string `json:"messages"`
			Stream   bool                `json:"stream"`
			Options  map[string]float64  `json:"options"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "chat-model", req.Model)
		assert.False(t, req.Stream)
		assert.Equal(t, "user", req.Messages[0]["role"])
		assert.InDelta(t, 256, req.Options["num_predict"], 1e-9)
		assert.InDelta(t, 40, req.Options["top_k"], 1e-9)

		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"It adds."}}`))
	})

	answer, err := o.Generate(t.Context(), "what does add do", testGenConfig)
	require.NoError(t, err)
	assert.Equal(t, "It adds.", answer)
	assert.Equal(t, "chat-model", o.ModelName())
}

func TestOllamaProvider_GenerateEmpty(t *testing.T) {
	o := newOllamaServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"done":true}`))
	})

	_, err := o.Generate(t.Context(), "q", testGenConfig)
	assert.ErrorIs(t, err, port.ErrGenerationProvider)
}

func TestOllamaProvider_EndpointTimeouts(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	o := NewOllamaProvider(
		OllamaEndpointConfig{BaseURL: srv.URL, Model: "embed-model", Timeout: 50 * time.Millisecond},
		OllamaEndpointConfig{BaseURL: srv.URL, Model: "chat-model", Timeout: 50 * time.Millisecond},
		2,
		srv.Client(),
	)

	start := time.Now()
	_, err := o.Embed(t.Context(), "slow")
	assert.ErrorIs(t, err, port.ErrEmbeddingProvider)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = o.Generate(t.Context(), "slow", testGenConfig)
	assert.ErrorIs(t, err, port.ErrGenerationProvider)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}
