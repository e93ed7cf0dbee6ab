package service

import (
	"context"
	"slices"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/arturoeanton/go-git-rag/internal/domain"
	"github.com/arturoeanton/go-git-rag/internal/port"
)

// fakeEmbedder returns a fixed vector per known text and a fallback otherwise.
type fakeEmbedder struct {
	mu       sync.Mutex
	vectors  map[string][]float32
	fallback []float32
	err      error
	calls    int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return slices.Clone(v), nil
	}
	return slices.Clone(f.fallback), nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := f.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type mockGenerator struct{ mock.Mock }

func (m *mockGenerator) ModelName() string { return "mock-model" }

func (m *mockGenerator) Generate(ctx context.Context, prompt string, cfg port.GenerationConfig) (string, error) {
	args := m.Called(ctx, prompt, cfg)
	return args.String(0), args.Error(1)
}

type mockMirror struct{ mock.Mock }

func (m *mockMirror) Sync(ctx context.Context) (domain.SyncResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.SyncResult), args.Error(1)
}

func (m *mockMirror) RecentCommits(ctx context.Context, limit, offset int) ([]domain.CommitInfo, error) {
	args := m.Called(ctx, limit, offset)
	commits, _ := args.Get(0).([]domain.CommitInfo)
	return commits, args.Error(1)
}

func (m *mockMirror) Commit(ctx context.Context, hash string) (domain.CommitInfo, error) {
	args := m.Called(ctx, hash)
	return args.Get(0).(domain.CommitInfo), args.Error(1)
}

func (m *mockMirror) Diff(ctx context.Context, hash string) (string, error) {
	args := m.Called(ctx, hash)
	return args.String(0), args.Error(1)
}

func (m *mockMirror) Overview(ctx context.Context, hash string) (string, error) {
	args := m.Called(ctx, hash)
	return args.String(0), args.Error(1)
}

func (m *mockMirror) Status() domain.MirrorStatus {
	return domain.MirrorStatus{Status: domain.MirrorStatusReady}
}

// recordingStore wraps an index store, recording scoped lookups and
// optionally failing writes.
type recordingStore struct {
	port.IndexStore

	mu          sync.Mutex
	scopes      []string
	failUpserts int // fail every upsert after this many succeeded; 0 disables
	upserts     int
}

func (s *recordingStore) NearestNeighbors(ctx context.Context, query []float32, limit int, commitHash string) ([]domain.SearchResult, error) {
	s.mu.Lock()
	s.scopes = append(s.scopes, commitHash)
	s.mu.Unlock()
	return s.IndexStore.NearestNeighbors(ctx, query, limit, commitHash)
}

func (s *recordingStore) UpsertEmbedding(ctx context.Context, rec domain.EmbeddingRecord) error {
	s.mu.Lock()
	if s.failUpserts > 0 && s.upserts >= s.failUpserts {
		s.mu.Unlock()
		return port.ErrIndexWrite
	}
	s.upserts++
	s.mu.Unlock()
	return s.IndexStore.UpsertEmbedding(ctx, rec)
}

func (s *recordingStore) lookups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.scopes)
}
