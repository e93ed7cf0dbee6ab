package ai

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/go-git-rag/internal/port"
)

type generateRequest struct {
	Contents []struct {
		Role  string `json:"role"`
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"contents"`
	GenerationConfig struct {
		Temperature     float64 `json:"temperature"`
		TopK            float64 `json:"topK"`
		TopP            float64 `json:"topP"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

func newGenerateServer(t *testing.T, handle func(w http.ResponseWriter, req generateRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "gemini-test:generateContent"), r.URL.Path)
		var req generateRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		handle(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestGenerator(t *testing.T, url string) *GeminiGenerator {
	t.Helper()
	g, err := NewGeminiGenerator(t.Context(), GeminiGenerateConfig{
		BaseURL: url,
		APIKey:  "test-key",
		Model:   "gemini-test",
	})
	require.NoError(t, err)
	return g
}

var testGenConfig = port.GenerationConfig{Temperature: 0.2, TopK: 40, TopP: 0.95, MaxOutputTokens: 256}

func TestGeminiGenerator_Generate(t *testing.T) {
	srv := newGenerateServer(t, func(w http.ResponseWriter, req generateRequest) {
		if assert.Len(t, req.Contents, 1) {
			assert.Equal(t, "user", req.Contents[0].Role)
			assert.Equal(t, "what does add do", req.Contents[0].Parts[0].Text)
		}
		assert.InDelta(t, 0.2, req.GenerationConfig.Temperature, 1e-6)
		assert.InDelta(t, 40, req.GenerationConfig.TopK, 1e-6)
		assert.InDelta(t, 0.95, req.GenerationConfig.TopP, 1e-6)
		assert.Equal(t, 256, req.GenerationConfig.MaxOutputTokens)

		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"It adds "},{"text":"two numbers."}]}}]}`))
	})

	g := newTestGenerator(t, srv.URL)
	assert.Equal(t, "gemini-test", g.ModelName())

	answer, err := g.Generate(t.Context(), "what does add do", testGenConfig)
	require.NoError(t, err)
	assert.Equal(t, "It adds two numbers.", answer)
}

func TestGeminiGenerator_NoCandidates(t *testing.T) {
	srv := newGenerateServer(t, func(w http.ResponseWriter, _ generateRequest) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	})

	_, err := newTestGenerator(t, srv.URL).Generate(t.Context(), "q", testGenConfig)
	require.Error(t, err)
	assert.ErrorIs(t, err, port.ErrGenerationProvider)
}

func TestGeminiGenerator_ProviderError(t *testing.T) {
	srv := newGenerateServer(t, func(w http.ResponseWriter, _ generateRequest) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"bad request","status":"INVALID_ARGUMENT"}}`))
	})

	_, err := newTestGenerator(t, srv.URL).Generate(t.Context(), "q", testGenConfig)
	require.Error(t, err)
	assert.ErrorIs(t, err, port.ErrGenerationProvider)
}
