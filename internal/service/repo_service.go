package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arturoeanton/go-git-rag/internal/domain"
	"github.com/arturoeanton/go-git-rag/internal/port"
)

const (
	defaultCommitPage = 20
	maxCommitPage     = 100
)

// RepoConfig controls what happens after a sync.
type RepoConfig struct {
	AutoIndexOnSync bool
	// AutoIndexLimit is how many of the newest commits are cached and, with
	// AutoIndexOnSync, queued for indexing after a sync.
	AutoIndexLimit int
}

// SyncOutcome is a sync result plus the auto-index job, if one was queued.
type SyncOutcome struct {
	domain.SyncResult
	JobID string `json:"job_id,omitempty"`
}

// RepoService manages the mirror lifecycle: syncing, listing and diffs.
type RepoService struct {
	mirror port.Mirror
	store  port.IndexStore
	queue  *IngestQueue
	cfg    RepoConfig
	logger *slog.Logger
}

// NewRepoService creates a new repository service. queue may be nil, which disables auto indexing.
func NewRepoService(mirror port.Mirror, store port.IndexStore, queue *IngestQueue, cfg RepoConfig, logger *slog.Logger) *RepoService {
	if cfg.AutoIndexLimit <= 0 {
		cfg.AutoIndexLimit = defaultCommitPage
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RepoService{mirror: mirror, store: store, queue: queue, cfg: cfg, logger: logger}
}

// Sync brings the mirror up to date, records metadata of the newest commits
// and optionally queues the unprocessed ones for indexing. Only the mirror
// sync itself can fail the call.
func (s *RepoService) Sync(ctx context.Context) (SyncOutcome, error) {
	res, err := s.mirror.Sync(ctx)
	if err != nil {
		return SyncOutcome{}, err
	}
	out := SyncOutcome{SyncResult: res}

	commits, err := s.mirror.RecentCommits(ctx, s.cfg.AutoIndexLimit, 0)
	if err != nil {
		s.logger.Warn("list commits after sync failed", "error", err)
		return out, nil
	}

	var pending []string
	for _, c := range commits {
		if err := s.store.CacheCommitMetadata(ctx, c.Record(nil)); err != nil {
			s.logger.Warn("cache commit metadata failed", "hash", c.Hash, "error", err)
		}
		processed, err := s.store.IsCommitProcessed(ctx, c.Hash)
		if err != nil {
			s.logger.Warn("check processed failed", "hash", c.Hash, "error", err)
			continue
		}
		if !processed {
			pending = append(pending, c.Hash)
		}
	}

	if !s.cfg.AutoIndexOnSync || s.queue == nil || len(pending) == 0 {
		return out, nil
	}
	jobID, err := s.queue.Submit(pending)
	if err != nil {
		s.logger.Warn("auto index not queued", "commits", len(pending), "error", err)
		return out, nil
	}
	out.JobID = jobID
	return out, nil
}

// RecentCommits lists commits newest first, annotated with their processed flag.
// limit is clamped to [1, 100] and defaults to 20.
func (s *RepoService) RecentCommits(ctx context.Context, limit, offset int) ([]domain.CommitListing, error) {
	switch {
	case limit <= 0:
		limit = defaultCommitPage
	case limit > maxCommitPage:
		limit = maxCommitPage
	}
	offset = max(offset, 0)

	commits, err := s.mirror.RecentCommits(ctx, limit, offset)
	if err != nil {
		return nil, err
	}

	listings := make([]domain.CommitListing, len(commits))
	for i, c := range commits {
		processed, err := s.store.IsCommitProcessed(ctx, c.Hash)
		if err != nil {
			return nil, fmt.Errorf("check processed %s: %w", c.Hash, err)
		}
		listings[i] = domain.CommitListing{CommitInfo: c, Processed: processed}
	}
	return listings, nil
}

// Diff returns the diff of a commit from the ledger cache, falling back to
// the mirror and caching the result.
func (s *RepoService) Diff(ctx context.Context, rev string) (string, error) {
	hash, info, err := resolveCommit(ctx, s.mirror, rev)
	if err != nil {
		return "", err
	}
	diff, ok, err := s.store.GetCachedDiff(ctx, hash)
	if err != nil {
		return "", err
	}
	if ok {
		return diff, nil
	}

	if info == nil {
		c, err := s.mirror.Commit(ctx, hash)
		if err != nil {
			return "", err
		}
		info = &c
	}
	diff, err = s.mirror.Diff(ctx, hash)
	if err != nil {
		return "", err
	}

	if err := s.store.CacheCommitMetadata(ctx, info.Record(&diff)); err != nil {
		s.logger.Warn("failed to cache commit diff", "hash", hash, "error", err)
	}
	return diff, nil
}

// Status returns the mirror state.
func (s *RepoService) Status() domain.MirrorStatus {
	return s.mirror.Status()
}
