package store

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/go-git-rag/internal/domain"
	"github.com/arturoeanton/go-git-rag/internal/port"
)

func record(hash, path string, idx int, vec ...float32) domain.EmbeddingRecord {
	return domain.EmbeddingRecord{
		ID:         domain.ChunkID(hash, path, idx),
		CommitHash: hash,
		FilePath:   path,
		ChunkIndex: idx,
		Content:    fmt.Sprintf("%s/%s#%d", hash, path, idx),
		Vector:     vec,
	}
}

func TestMemoryStore_UpsertIsIdempotent(t *testing.T) {
	ctx := t.Context()
	s := NewMemoryStore(2)

	rec := record("c1", "a.go", 0, 1, 0)
	require.NoError(t, s.UpsertEmbedding(ctx, rec))
	rec.Content = "updated"
	require.NoError(t, s.UpsertEmbedding(ctx, rec))

	stats, err := s.Statistics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalEmbeddings)

	got, err := s.NearestNeighbors(ctx, []float32{1, 0}, 5, "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "updated", got[0].Content)
}

func TestMemoryStore_UpsertRejectsWrongDimension(t *testing.T) {
	s := NewMemoryStore(3)

	err := s.UpsertEmbedding(t.Context(), record("c1", "a.go", 0, 1, 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, port.ErrIndexWrite)
	assert.ErrorIs(t, err, port.ErrDimensionMismatch)

	err = s.UpsertEmbedding(t.Context(), domain.EmbeddingRecord{Vector: []float32{1, 2, 3}})
	assert.ErrorIs(t, err, port.ErrIndexWrite)
}

func TestMemoryStore_NearestNeighborsOrdering(t *testing.T) {
	ctx := t.Context()
	s := NewMemoryStore(0)

	require.NoError(t, s.UpsertEmbedding(ctx, record("c1", "far.go", 0, 0, 1)))
	require.NoError(t, s.UpsertEmbedding(ctx, record("c1", "near.go", 0, 1, 0.1)))
	require.NoError(t, s.UpsertEmbedding(ctx, record("c2", "exact.go", 0, 1, 0)))
	require.NoError(t, s.UpsertEmbedding(ctx, record("c2", "mid.go", 0, 1, 1)))

	got, err := s.NearestNeighbors(ctx, []float32{1, 0}, 10, "")
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, []string{"exact.go", "near.go", "mid.go", "far.go"},
		[]string{got[0].FilePath, got[1].FilePath, got[2].FilePath, got[3].FilePath})
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].Distance, got[i].Distance)
	}
	assert.InDelta(t, 1, got[0].Relevance(), 1e-6)

	limited, err := s.NearestNeighbors(ctx, []float32{1, 0}, 2, "")
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	scoped, err := s.NearestNeighbors(ctx, []float32{1, 0}, 10, "c1")
	require.NoError(t, err)
	require.Len(t, scoped, 2)
	for _, r := range scoped {
		assert.Equal(t, "c1", r.CommitHash)
	}

	none, err := s.NearestNeighbors(ctx, []float32{1, 0}, 10, "unknown")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore_TiesKeepInsertionOrder(t *testing.T) {
	ctx := t.Context()
	s := NewMemoryStore(0)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.UpsertEmbedding(ctx, record("c1", "same.go", i, 2, 2)))
	}
	// Overwriting the first record keeps its position.
	overwrite := record("c1", "same.go", 0, 2, 2)
	overwrite.Content = "rewritten"
	require.NoError(t, s.UpsertEmbedding(ctx, overwrite))

	got, err := s.NearestNeighbors(ctx, []float32{1, 1}, 5, "")
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, r := range got {
		assert.Equal(t, i, r.ChunkIndex)
	}
	assert.Equal(t, "rewritten", got[0].Content)
}

func TestMemoryStore_QueryDimensionMismatch(t *testing.T) {
	ctx := t.Context()
	s := NewMemoryStore(0)
	require.NoError(t, s.UpsertEmbedding(ctx, record("c1", "a.go", 0, 1, 2, 3, 4, 5, 6, 7)))

	_, err := s.NearestNeighbors(ctx, []float32{1, 2, 3, 4, 5}, 3, "")
	assert.ErrorIs(t, err, port.ErrDimensionMismatch)
}

func TestMemoryStore_CommitLedger(t *testing.T) {
	ctx := t.Context()
	s := NewMemoryStore(0)

	processed, err := s.IsCommitProcessed(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, processed)

	diff := "diff --git a/a.go b/a.go"
	require.NoError(t, s.CacheCommitMetadata(ctx, domain.CommitRecord{Hash: "c1", Message: "init", Author: "Ada", Diff: &diff}))

	got, ok, err := s.GetCachedDiff(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, diff, got)

	// Metadata refresh without a diff keeps the cached diff.
	require.NoError(t, s.CacheCommitMetadata(ctx, domain.CommitRecord{Hash: "c1", Message: "init (amended)"}))
	got, ok, err = s.GetCachedDiff(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, diff, got)

	processed, err = s.IsCommitProcessed(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, processed, "caching metadata never marks processed")

	require.NoError(t, s.MarkCommitProcessed(ctx, "c1"))
	rec, err := s.GetCommit(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Processed)
	assert.NotNil(t, rec.ProcessedAt)
	assert.Equal(t, "init (amended)", rec.Message)

	_, ok, err = s.GetCachedDiff(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	missing, err := s.GetCommit(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.ErrorIs(t, s.CacheCommitMetadata(ctx, domain.CommitRecord{}), port.ErrIndexWrite)
}

func TestMemoryStore_DeleteKeepsProcessedFlag(t *testing.T) {
	ctx := t.Context()
	s := NewMemoryStore(0)

	require.NoError(t, s.UpsertEmbedding(ctx, record("c3", "a.go", 0, 1, 0)))
	require.NoError(t, s.UpsertEmbedding(ctx, record("c3", "a.go", 1, 0, 1)))
	require.NoError(t, s.UpsertEmbedding(ctx, record("c4", "b.go", 0, 1, 1)))
	require.NoError(t, s.MarkCommitProcessed(ctx, "c3"))

	n, err := s.DeleteCommitEmbeddings(ctx, "c3")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	stats, err := s.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.IndexStats{TotalEmbeddings: 1, TotalCommits: 1, ProcessedCommits: 1}, stats)

	processed, err := s.IsCommitProcessed(ctx, "c3")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestMemoryStore_ConcurrentUpserts(t *testing.T) {
	ctx := t.Context()
	s := NewMemoryStore(2)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				assert.NoError(t, s.UpsertEmbedding(ctx, record("c1", "a.go", i, 1, float32(i))))
			}
		}()
	}
	wg.Wait()

	stats, err := s.Statistics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 50, stats.TotalEmbeddings)
}
