package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arturoeanton/go-git-rag/internal/domain"
	"github.com/arturoeanton/go-git-rag/internal/port"
	"github.com/arturoeanton/go-git-rag/internal/vector"
)

type memoryEntry struct {
	rec domain.EmbeddingRecord
	seq int64
}

// MemoryStore implements port.IndexStore with in-process maps and brute-force search.
type MemoryStore struct {
	mu         sync.RWMutex
	dimension  int
	nextSeq    int64
	embeddings map[string]*memoryEntry
	commits    map[string]*domain.CommitRecord
	now        func() time.Time
}

// NewMemoryStore returns an empty store. A positive dimension is enforced on upsert.
func NewMemoryStore(dimension int) *MemoryStore {
	return &MemoryStore{
		dimension:  dimension,
		embeddings: make(map[string]*memoryEntry),
		commits:    make(map[string]*domain.CommitRecord),
		now:        time.Now,
	}
}

// UpsertEmbedding inserts or overwrites a record by id. An overwrite keeps its
// original insertion order.
func (s *MemoryStore) UpsertEmbedding(_ context.Context, rec domain.EmbeddingRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: empty id", port.ErrIndexWrite)
	}
	if s.dimension > 0 && len(rec.Vector) != s.dimension {
		return fmt.Errorf("%w: %w: got %d, want %d", port.ErrIndexWrite, port.ErrDimensionMismatch, len(rec.Vector), s.dimension)
	}

	rec.Vector = append([]float32(nil), rec.Vector...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.embeddings[rec.ID]; ok {
		e.rec = rec
		return nil
	}
	s.nextSeq++
	s.embeddings[rec.ID] = &memoryEntry{rec: rec, seq: s.nextSeq}
	return nil
}

// NearestNeighbors scans every record and returns the closest ones.
func (s *MemoryStore) NearestNeighbors(_ context.Context, query []float32, limit int, commitHash string) ([]domain.SearchResult, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		entry    *memoryEntry
		distance float64
	}
	var all []scored
	for _, e := range s.embeddings {
		if commitHash != "" && e.rec.CommitHash != commitHash {
			continue
		}
		dist, err := vector.CosineDistance(query, e.rec.Vector)
		if err != nil {
			return nil, err
		}
		all = append(all, scored{entry: e, distance: dist})
	}

	// Ascending distance; equal distances keep insertion order.
	sort.Slice(all, func(i, j int) bool {
		if all[i].distance != all[j].distance {
			return all[i].distance < all[j].distance
		}
		return all[i].entry.seq < all[j].entry.seq
	})
	if len(all) > limit {
		all = all[:limit]
	}

	results := make([]domain.SearchResult, len(all))
	for i, sc := range all {
		rec := sc.entry.rec
		results[i] = domain.SearchResult{
			ChunkID:    rec.ID,
			CommitHash: rec.CommitHash,
			FilePath:   rec.FilePath,
			ChunkIndex: rec.ChunkIndex,
			Content:    rec.Content,
			Distance:   sc.distance,
			Metadata:   rec.Metadata,
		}
	}
	return results, nil
}

// IsCommitProcessed reports whether the commit was fully ingested.
func (s *MemoryStore) IsCommitProcessed(_ context.Context, hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.commits[hash]
	return ok && c.Processed, nil
}

// MarkCommitProcessed flags the commit as fully ingested.
func (s *MemoryStore) MarkCommitProcessed(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.commitLocked(hash)
	now := s.now()
	c.Processed = true
	c.ProcessedAt = &now
	return nil
}

// CacheCommitMetadata stores metadata and keeps an existing diff when rec has none.
func (s *MemoryStore) CacheCommitMetadata(_ context.Context, rec domain.CommitRecord) error {
	if rec.Hash == "" {
		return fmt.Errorf("%w: empty commit hash", port.ErrIndexWrite)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.commitLocked(rec.Hash)
	c.Message = rec.Message
	c.Author = rec.Author
	c.CommitTime = rec.CommitTime
	if rec.Diff != nil {
		d := *rec.Diff
		c.Diff = &d
	}
	return nil
}

// GetCachedDiff returns the stored diff of a commit, if any.
func (s *MemoryStore) GetCachedDiff(_ context.Context, hash string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.commits[hash]
	if !ok || c.Diff == nil {
		return "", false, nil
	}
	return *c.Diff, true, nil
}

// GetCommit returns a copy of the ledger entry or nil.
func (s *MemoryStore) GetCommit(_ context.Context, hash string) (*domain.CommitRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.commits[hash]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// DeleteCommitEmbeddings removes every chunk of the commit.
func (s *MemoryStore) DeleteCommitEmbeddings(_ context.Context, hash string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, e := range s.embeddings {
		if e.rec.CommitHash == hash {
			delete(s.embeddings, id)
			n++
		}
	}
	return n, nil
}

// Statistics counts embeddings and commits.
func (s *MemoryStore) Statistics(_ context.Context) (domain.IndexStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := domain.IndexStats{
		TotalEmbeddings: int64(len(s.embeddings)),
		TotalCommits:    int64(len(s.commits)),
	}
	for _, c := range s.commits {
		if c.Processed {
			stats.ProcessedCommits++
		}
	}
	return stats, nil
}

func (s *MemoryStore) commitLocked(hash string) *domain.CommitRecord {
	c, ok := s.commits[hash]
	if !ok {
		c = &domain.CommitRecord{Hash: hash}
		s.commits[hash] = c
	}
	return c
}
