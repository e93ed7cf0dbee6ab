package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arturoeanton/go-git-rag/internal/domain"
	"github.com/arturoeanton/go-git-rag/internal/metrics"
	"github.com/arturoeanton/go-git-rag/internal/port"
)

// RAGConfig bounds retrieval, chunking and generation.
type RAGConfig struct {
	PerCommitK        int
	OverallLimit      int
	ChunkMaxWords     int
	ChunkMaxPerCommit int
	Generation        port.GenerationConfig
}

func (c RAGConfig) withDefaults() RAGConfig {
	if c.PerCommitK <= 0 {
		c.PerCommitK = 5
	}
	if c.OverallLimit <= 0 {
		c.OverallLimit = 10
	}
	if c.ChunkMaxWords <= 0 {
		c.ChunkMaxWords = 512
	}
	if c.ChunkMaxPerCommit <= 0 {
		c.ChunkMaxPerCommit = 200
	}
	return c
}

// ProgressFunc is called after each commit of a batch has been handled.
type ProgressFunc func(hash string, done, total int, err error)

// RAGService indexes commits and answers questions over them.
// It holds no state between calls.
type RAGService struct {
	embedder  port.Embedder
	generator port.Generator
	store     port.IndexStore
	mirror    port.Mirror
	cfg       RAGConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewRAGService creates a new RAG service. A nil metrics or logger falls back to a no-op registry and slog.Default.
func NewRAGService(embedder port.Embedder, generator port.Generator, store port.IndexStore, mirror port.Mirror,
	cfg RAGConfig, m *metrics.Metrics, logger *slog.Logger) *RAGService {
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RAGService{
		embedder:  embedder,
		generator: generator,
		store:     store,
		mirror:    mirror,
		cfg:       cfg.withDefaults(),
		metrics:   m,
		logger:    logger,
	}
}

// IndexCommit embeds one commit unless it is already processed. rev may be any
// revision the mirror resolves; the index is keyed by the full hash. The commit
// is marked processed only after every chunk has been written.
func (s *RAGService) IndexCommit(ctx context.Context, rev string) (skipped bool, err error) {
	hash, resolved, err := resolveCommit(ctx, s.mirror, rev)
	if err != nil {
		return false, err
	}

	processed, err := s.store.IsCommitProcessed(ctx, hash)
	if err != nil {
		return false, fmt.Errorf("check processed %s: %w", hash, err)
	}
	if processed {
		s.metrics.CommitsSkipped.Inc()
		s.logger.Debug("commit already processed", "hash", hash)
		return true, nil
	}

	start := time.Now()
	info, diff, err := s.loadCommit(ctx, hash, resolved)
	if err != nil {
		return false, err
	}

	chunks := chunkCommit(info, diff, s.cfg.ChunkMaxWords, s.cfg.ChunkMaxPerCommit)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return false, fmt.Errorf("embed commit %s: %w", hash, err)
	}
	if len(vectors) != len(chunks) {
		return false, fmt.Errorf("%w: got %d vectors for %d chunks", port.ErrEmbeddingProvider, len(vectors), len(chunks))
	}

	for i, c := range chunks {
		metadata := map[string]any{
			"kind":        c.Kind,
			"author":      info.Author,
			"commit_time": info.Timestamp.Unix(),
		}
		if c.FilePath != "" {
			metadata["language"] = detectLanguage(c.FilePath)
		}
		rec := domain.EmbeddingRecord{
			ID:         domain.ChunkID(hash, c.FilePath, c.Index),
			CommitHash: hash,
			FilePath:   c.FilePath,
			ChunkIndex: c.Index,
			Content:    c.Content,
			Vector:     vectors[i],
			Metadata:   metadata,
		}
		if err := s.store.UpsertEmbedding(ctx, rec); err != nil {
			return false, err
		}
	}

	if err := s.store.MarkCommitProcessed(ctx, hash); err != nil {
		return false, err
	}

	s.metrics.ChunksEmbedded.Add(float64(len(chunks)))
	s.metrics.CommitsIndexed.Inc()
	s.metrics.IngestDuration.Observe(time.Since(start).Seconds())
	s.logger.Info("commit indexed", "hash", hash, "chunks", len(chunks), "duration", time.Since(start))
	return false, nil
}

// IndexCommits indexes each distinct hash in order. A failing commit is logged
// and reported but never stops the others.
func (s *RAGService) IndexCommits(ctx context.Context, hashes []string, progress ProgressFunc) domain.IndexReport {
	unique := dedupe(hashes)
	report := domain.IndexReport{
		Requested: len(unique),
		Indexed:   []string{},
		Skipped:   []string{},
		Failed:    map[string]string{},
	}

	for i, hash := range unique {
		skipped, err := s.IndexCommit(ctx, hash)
		switch {
		case err != nil:
			s.metrics.CommitFailures.Inc()
			s.logger.Error("commit ingestion failed", "hash", hash, "error", err)
			report.Failed[hash] = err.Error()
		case skipped:
			report.Skipped = append(report.Skipped, hash)
		default:
			report.Indexed = append(report.Indexed, hash)
		}
		if progress != nil {
			progress(hash, i+1, len(unique), err)
		}
	}
	return report
}

// loadCommit returns commit metadata and diff, preferring the ledger cache.
// A diff fetched from the mirror is cached back. known is the metadata already
// fetched while resolving hash, if any.
func (s *RAGService) loadCommit(ctx context.Context, hash string, known *domain.CommitInfo) (domain.CommitInfo, string, error) {
	rec, err := s.store.GetCommit(ctx, hash)
	if err != nil {
		return domain.CommitInfo{}, "", fmt.Errorf("load commit %s: %w", hash, err)
	}
	if rec != nil && rec.Diff != nil {
		return domain.CommitInfo{
			Hash:      rec.Hash,
			Author:    rec.Author,
			Message:   rec.Message,
			Timestamp: time.Unix(rec.CommitTime, 0).UTC(),
		}, *rec.Diff, nil
	}

	var info domain.CommitInfo
	if known != nil {
		info = *known
	} else if info, err = s.mirror.Commit(ctx, hash); err != nil {
		return domain.CommitInfo{}, "", err
	}
	diff, err := s.mirror.Diff(ctx, hash)
	if err != nil {
		return domain.CommitInfo{}, "", err
	}

	if err := s.store.CacheCommitMetadata(ctx, info.Record(&diff)); err != nil {
		s.logger.Warn("failed to cache commit diff", "hash", hash, "error", err)
	}
	return info, diff, nil
}

// QueryRepository answers a question from the indexed commits, optionally
// restricted to commitHashes.
func (s *RAGService) QueryRepository(ctx context.Context, question string, commitHashes []string) (*domain.Answer, error) {
	start := time.Now()
	outcome := "error"
	defer func() {
		s.metrics.Queries.WithLabelValues(outcome).Inc()
		s.metrics.QueryDuration.Observe(time.Since(start).Seconds())
	}()

	if strings.TrimSpace(question) == "" {
		outcome = "invalid"
		return nil, port.ErrEmptyQuestion
	}
	hashes, err := s.resolveScope(ctx, commitHashes)
	if err != nil {
		return nil, err
	}
	s.logger.Info("repository query", "commits", len(hashes))

	queryVector, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	results, err := s.retrieve(ctx, queryVector, hashes)
	if err != nil {
		return nil, err
	}
	s.metrics.QueryResultCount.Observe(float64(len(results)))

	if len(results) == 0 {
		outcome = "fallback"
		return &domain.Answer{Text: FallbackAnswer, Sources: []domain.SearchResult{}, Fallback: true}, nil
	}

	overviews := s.overviews(ctx, hashes)
	prompt := buildPrompt(renderContext(results, hashes, overviews), question)

	text, err := s.generator.Generate(ctx, prompt, s.cfg.Generation)
	if err != nil {
		if !errors.Is(err, port.ErrGenerationProvider) {
			err = fmt.Errorf("%w: %w", port.ErrGenerationProvider, err)
		}
		return nil, err
	}

	outcome = "answered"
	return &domain.Answer{Text: text, Sources: results}, nil
}

// retrieve runs one scoped lookup per commit in parallel, or a single unscoped
// lookup, and returns at most OverallLimit results by ascending distance.
func (s *RAGService) retrieve(ctx context.Context, query []float32, hashes []string) ([]domain.SearchResult, error) {
	if len(hashes) == 0 {
		results, err := s.store.NearestNeighbors(ctx, query, s.cfg.OverallLimit, "")
		if err != nil {
			return nil, fmt.Errorf("nearest neighbors: %w", err)
		}
		return results, nil
	}

	perCommit := make([][]domain.SearchResult, len(hashes))
	g, gctx := errgroup.WithContext(ctx)
	for i, hash := range hashes {
		g.Go(func() error {
			res, err := s.store.NearestNeighbors(gctx, query, s.cfg.PerCommitK, hash)
			if err != nil {
				return fmt.Errorf("nearest neighbors for %s: %w", hash, err)
			}
			perCommit[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := slices.Concat(perCommit...)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Distance < merged[j].Distance })
	if len(merged) > s.cfg.OverallLimit {
		merged = merged[:s.cfg.OverallLimit]
	}
	return merged, nil
}

// resolveScope turns the requested revisions into distinct full hashes.
func (s *RAGService) resolveScope(ctx context.Context, revs []string) ([]string, error) {
	revs = dedupe(revs)
	hashes := make([]string, 0, len(revs))
	for _, rev := range revs {
		hash, _, err := resolveCommit(ctx, s.mirror, rev)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, hash)
	}
	return dedupe(hashes), nil
}

// overviews fetches the one-line summary of each scoped commit, keyed by hash.
// A commit whose overview fails is left out.
func (s *RAGService) overviews(ctx context.Context, hashes []string) map[string]string {
	out := make(map[string]string, len(hashes))
	for _, hash := range hashes {
		overview, err := s.mirror.Overview(ctx, hash)
		if err != nil {
			s.metrics.OverviewFailures.Inc()
			s.logger.Warn("commit overview unavailable", "hash", hash, "error", err)
			continue
		}
		out[hash] = overview
	}
	return out
}

// Statistics returns index counters.
func (s *RAGService) Statistics(ctx context.Context) (domain.IndexStats, error) {
	return s.store.Statistics(ctx)
}

// PurgeCommit deletes every chunk of a commit. The commit stays marked as
// processed, so it is not re-indexed until its ledger entry is reset.
func (s *RAGService) PurgeCommit(ctx context.Context, rev string) (int64, error) {
	hash, _, err := resolveCommit(ctx, s.mirror, rev)
	if err != nil {
		return 0, err
	}
	n, err := s.store.DeleteCommitEmbeddings(ctx, hash)
	if err != nil {
		return 0, err
	}
	s.metrics.EmbeddingsPurged.Add(float64(n))
	s.logger.Info("commit embeddings purged", "hash", hash, "deleted", n)
	return n, nil
}

// IsCommitProcessed reports the ledger state of a commit.
func (s *RAGService) IsCommitProcessed(ctx context.Context, rev string) (bool, error) {
	hash, _, err := resolveCommit(ctx, s.mirror, rev)
	if err != nil {
		return false, err
	}
	return s.store.IsCommitProcessed(ctx, hash)
}

func dedupe(hashes []string) []string {
	seen := make(map[string]struct{}, len(hashes))
	out := make([]string, 0, len(hashes))
	for _, h := range hashes {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}
