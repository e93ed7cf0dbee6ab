package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/go-git-rag/internal/adapter/store"
	"github.com/arturoeanton/go-git-rag/internal/domain"
	"github.com/arturoeanton/go-git-rag/internal/metrics"
	"github.com/arturoeanton/go-git-rag/internal/port"
)

var genCfg = port.GenerationConfig{Temperature: 0.2, TopK: 40, TopP: 0.95, MaxOutputTokens: 256}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRAG(emb port.Embedder, gen port.Generator, st port.IndexStore, mirror port.Mirror, cfg RAGConfig) *RAGService {
	cfg.Generation = genCfg
	return NewRAGService(emb, gen, st, mirror, cfg, metrics.NewNop(), discardLogger())
}

func seedChunk(t *testing.T, st port.IndexStore, hash, path string, idx int, content string, vec ...float32) {
	t.Helper()
	require.NoError(t, st.UpsertEmbedding(t.Context(), domain.EmbeddingRecord{
		ID:         domain.ChunkID(hash, path, idx),
		CommitHash: hash,
		FilePath:   path,
		ChunkIndex: idx,
		Content:    content,
		Vector:     vec,
	}))
}

func TestQueryRepository_EmptyIndexReturnsFallback(t *testing.T) {
	gen := &mockGenerator{}
	svc := newTestRAG(&fakeEmbedder{fallback: []float32{1, 0}}, gen, store.NewMemoryStore(2), &mockMirror{}, RAGConfig{})

	ans, err := svc.QueryRepository(t.Context(), "what changed in the parser?", nil)
	require.NoError(t, err)
	assert.True(t, ans.Fallback)
	assert.Equal(t, FallbackAnswer, ans.Text)
	assert.Empty(t, ans.Sources)

	mirror := &mockMirror{}
	mirror.On("Commit", mock.Anything, "c1").Return(domain.CommitInfo{Hash: "c1"}, nil).Once()
	mirror.On("Overview", mock.Anything, "c1").Return("c1 Ada: init (1 files changed)", nil).Maybe()
	svc = newTestRAG(&fakeEmbedder{fallback: []float32{1, 0}}, gen, store.NewMemoryStore(2), mirror, RAGConfig{})
	ans, err = svc.QueryRepository(t.Context(), "what changed?", []string{"c1"})
	require.NoError(t, err)
	assert.True(t, ans.Fallback)

	gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestQueryRepository_SingleCommit(t *testing.T) {
	st := store.NewMemoryStore(3)
	seedChunk(t, st, "abc123", "add.js", 1, "function add(a,b){return a+b}", 1, 0, 0)
	seedChunk(t, st, "def456", "sub.js", 1, "function sub(a,b){return a-b}", 0, 1, 0)

	emb := &fakeEmbedder{vectors: map[string][]float32{"what does add do": {0.9, 0.1, 0}}}
	gen := &mockGenerator{}
	var prompt string
	gen.On("Generate", mock.Anything, mock.AnythingOfType("string"), genCfg).
		Run(func(args mock.Arguments) { prompt = args.String(1) }).
		Return("add returns the sum of a and b.", nil).Once()

	svc := newTestRAG(emb, gen, st, &mockMirror{}, RAGConfig{})
	ans, err := svc.QueryRepository(t.Context(), "what does add do", nil)
	require.NoError(t, err)
	gen.AssertExpectations(t)

	assert.Equal(t, "add returns the sum of a and b.", ans.Text)
	assert.False(t, ans.Fallback)
	require.NotEmpty(t, ans.Sources)
	assert.Equal(t, "abc123", ans.Sources[0].CommitHash)
	assert.Equal(t, "function add(a,b){return a+b}", ans.Sources[0].Content)

	header := strings.Index(prompt, "### Commit abc123")
	chunk := strings.Index(prompt, "function add(a,b){return a+b}")
	other := strings.Index(prompt, "### Commit def456")
	require.GreaterOrEqual(t, header, 0)
	assert.Less(t, header, chunk)
	assert.Less(t, chunk, other)
	assert.Contains(t, prompt, "File: add.js")
	assert.Contains(t, prompt, "Relevance: 0.99")
	assert.Contains(t, prompt, OffTopicReply)
	assert.True(t, strings.HasSuffix(prompt, "what does add do\n"))
}

func TestQueryRepository_ScopedMultiCommit(t *testing.T) {
	rs := &recordingStore{IndexStore: store.NewMemoryStore(2)}
	for i := 0; i < 7; i++ {
		seedChunk(t, rs, "c1", "one.go", i, fmt.Sprintf("c1 chunk %d", i), 1, 0.1*float32(i))
		seedChunk(t, rs, "c2", "two.go", i, fmt.Sprintf("c2 chunk %d", i), 1, 0.05+0.1*float32(i))
		seedChunk(t, rs, "c3", "three.go", i, fmt.Sprintf("c3 chunk %d", i), 1, 0.01*float32(i))
	}

	mirror := &mockMirror{}
	mirror.On("Commit", mock.Anything, "c1").Return(domain.CommitInfo{Hash: "c1"}, nil).Once()
	mirror.On("Commit", mock.Anything, "c2").Return(domain.CommitInfo{Hash: "c2"}, nil).Once()
	mirror.On("Overview", mock.Anything, "c1").Return("c1 Ada: first (1 files changed)", nil).Once()
	mirror.On("Overview", mock.Anything, "c2").Return("", port.ErrCommitNotFound).Once()

	gen := &mockGenerator{}
	var prompt string
	gen.On("Generate", mock.Anything, mock.AnythingOfType("string"), genCfg).
		Run(func(args mock.Arguments) { prompt = args.String(1) }).
		Return("answer", nil).Once()

	svc := newTestRAG(&fakeEmbedder{fallback: []float32{1, 0}}, gen, rs, mirror, RAGConfig{PerCommitK: 5, OverallLimit: 8})
	ans, err := svc.QueryRepository(t.Context(), "how did the modules evolve?", []string{"c1", "c2", "c1"})
	require.NoError(t, err)
	mirror.AssertExpectations(t)

	assert.ElementsMatch(t, []string{"c1", "c2"}, rs.lookups())
	require.Len(t, ans.Sources, 8)
	for i, r := range ans.Sources {
		assert.Contains(t, []string{"c1", "c2"}, r.CommitHash)
		if i > 0 {
			assert.LessOrEqual(t, ans.Sources[i-1].Distance, r.Distance)
		}
	}
	assert.Equal(t, "c1", ans.Sources[0].CommitHash)
	assert.Equal(t, 0, ans.Sources[0].ChunkIndex)
	assert.Equal(t, "c2", ans.Sources[1].CommitHash)

	c1Block := strings.Index(prompt, "### Commit c1\nOverview: c1 Ada: first (1 files changed)\n")
	require.GreaterOrEqual(t, c1Block, 0)
	assert.Less(t, c1Block, strings.Index(prompt, "### Commit c2"))
	assert.NotContains(t, prompt, "### Commit overviews")
	assert.NotContains(t, prompt, "c3 chunk")
}

func TestQueryRepository_EmptyQuestion(t *testing.T) {
	emb := &fakeEmbedder{fallback: []float32{1, 0}}
	svc := newTestRAG(emb, &mockGenerator{}, store.NewMemoryStore(2), &mockMirror{}, RAGConfig{})

	_, err := svc.QueryRepository(t.Context(), "   ", nil)
	assert.ErrorIs(t, err, port.ErrEmptyQuestion)
	assert.Zero(t, emb.calls)
}

func TestQueryRepository_ProviderFailuresPropagate(t *testing.T) {
	st := store.NewMemoryStore(2)
	seedChunk(t, st, "c1", "a.go", 1, "package a", 1, 0)

	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("quota exceeded")).Once()
	svc := newTestRAG(&fakeEmbedder{fallback: []float32{1, 0}}, gen, st, &mockMirror{}, RAGConfig{})

	_, err := svc.QueryRepository(t.Context(), "what is package a?", nil)
	assert.ErrorIs(t, err, port.ErrGenerationProvider)

	gen = &mockGenerator{}
	emb := &fakeEmbedder{err: fmt.Errorf("%w: status 500", port.ErrEmbeddingProvider)}
	svc = newTestRAG(emb, gen, st, &mockMirror{}, RAGConfig{})

	_, err = svc.QueryRepository(t.Context(), "what is package a?", nil)
	assert.ErrorIs(t, err, port.ErrEmbeddingProvider)
	gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestQueryRepository_DimensionMismatch(t *testing.T) {
	st := store.NewMemoryStore(7)
	seedChunk(t, st, "c1", "a.go", 1, "package a", 1, 2, 3, 4, 5, 6, 7)

	svc := newTestRAG(&fakeEmbedder{fallback: []float32{1, 2, 3, 4, 5}}, &mockGenerator{}, st, &mockMirror{}, RAGConfig{})
	_, err := svc.QueryRepository(t.Context(), "anything", nil)
	assert.ErrorIs(t, err, port.ErrDimensionMismatch)
}

func TestIndexCommit_ProcessedGate(t *testing.T) {
	ctx := t.Context()
	st := store.NewMemoryStore(2)
	mirror := &mockMirror{}
	mirror.On("Commit", mock.Anything, "abc123").Return(testCommit, nil).Twice()
	mirror.On("Diff", mock.Anything, "abc123").Return(twoFileDiff, nil).Once()
	svc := newTestRAG(&fakeEmbedder{fallback: []float32{1, 0}}, &mockGenerator{}, st, mirror, RAGConfig{})

	processed, err := st.IsCommitProcessed(ctx, "abc123")
	require.NoError(t, err)
	assert.False(t, processed)

	skipped, err := svc.IndexCommit(ctx, "abc123")
	require.NoError(t, err)
	assert.False(t, skipped)

	processed, err = st.IsCommitProcessed(ctx, "abc123")
	require.NoError(t, err)
	assert.True(t, processed)

	stats, err := svc.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.IndexStats{TotalEmbeddings: 3, TotalCommits: 1, ProcessedCommits: 1}, stats)

	diff, ok, err := st.GetCachedDiff(ctx, "abc123")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, twoFileDiff, diff)

	results, err := st.NearestNeighbors(ctx, []float32{1, 0}, 10, "abc123")
	require.NoError(t, err)
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
		if r.FilePath == "add.js" {
			assert.Equal(t, "javascript", r.Metadata["language"])
		}
	}
	assert.Equal(t, []string{"abc123::0", "abc123:add.js:1", "abc123:docs/README.md:2"}, ids)

	skipped, err = svc.IndexCommit(ctx, "abc123")
	require.NoError(t, err)
	assert.True(t, skipped)
	mirror.AssertExpectations(t)
}

func TestIndexCommit_InterruptedBeforeMarkStaysUnprocessed(t *testing.T) {
	ctx := t.Context()
	rs := &recordingStore{IndexStore: store.NewMemoryStore(2), failUpserts: 2}
	mirror := &mockMirror{}
	mirror.On("Commit", mock.Anything, "abc123").Return(testCommit, nil).Twice()
	mirror.On("Diff", mock.Anything, "abc123").Return(twoFileDiff, nil).Once()
	svc := newTestRAG(&fakeEmbedder{fallback: []float32{1, 0}}, &mockGenerator{}, rs, mirror, RAGConfig{})

	_, err := svc.IndexCommit(ctx, "abc123")
	require.ErrorIs(t, err, port.ErrIndexWrite)

	processed, err := rs.IsCommitProcessed(ctx, "abc123")
	require.NoError(t, err)
	assert.False(t, processed)

	// The retry reads the diff cached by the first attempt and overwrites
	// the partial rows by id.
	rs.failUpserts = 0
	skipped, err := svc.IndexCommit(ctx, "abc123")
	require.NoError(t, err)
	assert.False(t, skipped)

	stats, err := rs.Statistics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.TotalEmbeddings)
	assert.EqualValues(t, 1, stats.ProcessedCommits)
	mirror.AssertExpectations(t)
}

func TestIndexCommit_FullHashUsesCachedDiffWithoutMirror(t *testing.T) {
	ctx := t.Context()
	st := store.NewMemoryStore(2)
	full := testCommit
	full.Hash = "0123456789abcdef0123456789abcdef01234567"
	diff := twoFileDiff
	require.NoError(t, st.CacheCommitMetadata(ctx, full.Record(&diff)))

	mirror := &mockMirror{}
	svc := newTestRAG(&fakeEmbedder{fallback: []float32{1, 0}}, &mockGenerator{}, st, mirror, RAGConfig{})

	_, err := svc.IndexCommit(ctx, strings.ToUpper(full.Hash))
	require.NoError(t, err)
	mirror.AssertNotCalled(t, "Commit", mock.Anything, mock.Anything)
	mirror.AssertNotCalled(t, "Diff", mock.Anything, mock.Anything)

	results, err := st.NearestNeighbors(ctx, []float32{1, 0}, 10, full.Hash)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, commitHeader(full), results[0].Content)
	assert.Equal(t, full.Hash+"::0", results[0].ChunkID)
}

func TestIndexCommit_AbbreviatedHashKeysByFullHash(t *testing.T) {
	ctx := t.Context()
	st := store.NewMemoryStore(2)
	full := testCommit
	full.Hash = "0123456789abcdef0123456789abcdef01234567"
	mirror := &mockMirror{}
	mirror.On("Commit", mock.Anything, "0123456").Return(full, nil).Once()
	mirror.On("Diff", mock.Anything, full.Hash).Return(twoFileDiff, nil).Once()
	svc := newTestRAG(&fakeEmbedder{fallback: []float32{1, 0}}, &mockGenerator{}, st, mirror, RAGConfig{})

	skipped, err := svc.IndexCommit(ctx, "0123456")
	require.NoError(t, err)
	assert.False(t, skipped)

	skipped, err = svc.IndexCommit(ctx, full.Hash)
	require.NoError(t, err)
	assert.True(t, skipped)
	mirror.AssertExpectations(t)

	stats, err := svc.Statistics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalCommits)
	assert.EqualValues(t, 3, stats.TotalEmbeddings)

	_, ok, err := st.GetCachedDiff(ctx, full.Hash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIndexCommits_FailureDoesNotAbortSiblings(t *testing.T) {
	mirror := &mockMirror{}
	mirror.On("Commit", mock.Anything, "bad").Return(domain.CommitInfo{}, fmt.Errorf("%w: bad", port.ErrCommitNotFound))
	mirror.On("Commit", mock.Anything, "abc123").Return(testCommit, nil)
	mirror.On("Diff", mock.Anything, "abc123").Return(twoFileDiff, nil)
	svc := newTestRAG(&fakeEmbedder{fallback: []float32{1, 0}}, &mockGenerator{}, store.NewMemoryStore(2), mirror, RAGConfig{})

	var progress []string
	report := svc.IndexCommits(t.Context(), []string{"bad", "abc123", "bad"}, func(hash string, done, total int, err error) {
		progress = append(progress, fmt.Sprintf("%s %d/%d %t", hash, done, total, err != nil))
	})

	assert.Equal(t, 2, report.Requested)
	assert.Equal(t, []string{"abc123"}, report.Indexed)
	assert.Empty(t, report.Skipped)
	require.Contains(t, report.Failed, "bad")
	assert.Contains(t, report.Failed["bad"], "commit not found")
	assert.Equal(t, []string{"bad 1/2 true", "abc123 2/2 false"}, progress)

	again := svc.IndexCommits(t.Context(), []string{"abc123"}, nil)
	assert.Equal(t, []string{"abc123"}, again.Skipped)
}

func TestPurgeCommit_LeavesCommitProcessed(t *testing.T) {
	ctx := t.Context()
	c3 := testCommit
	c3.Hash = "c3"
	mirror := &mockMirror{}
	mirror.On("Commit", mock.Anything, "c3").Return(c3, nil).Times(4)
	mirror.On("Diff", mock.Anything, "c3").Return(twoFileDiff, nil).Once()
	svc := newTestRAG(&fakeEmbedder{fallback: []float32{1, 0}}, &mockGenerator{}, store.NewMemoryStore(2), mirror, RAGConfig{})

	_, err := svc.IndexCommit(ctx, "c3")
	require.NoError(t, err)
	before, err := svc.Statistics(ctx)
	require.NoError(t, err)
	require.Positive(t, before.TotalEmbeddings)

	n, err := svc.PurgeCommit(ctx, "c3")
	require.NoError(t, err)
	assert.Equal(t, before.TotalEmbeddings, n)

	after, err := svc.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.TotalEmbeddings-n, after.TotalEmbeddings)

	processed, err := svc.IsCommitProcessed(ctx, "c3")
	require.NoError(t, err)
	assert.True(t, processed)

	skipped, err := svc.IndexCommit(ctx, "c3")
	require.NoError(t, err)
	assert.True(t, skipped)
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, dedupe([]string{" a", "b", "", "a"}))
	assert.Empty(t, dedupe(nil))
}
