package port

import (
	"context"

	"github.com/arturoeanton/go-git-rag/internal/domain"
)

// Mirror abstracts the local copy of the tracked remote repository.
type Mirror interface {
	// Sync clones the remote when no local copy exists, otherwise fast-forwards it.
	Sync(ctx context.Context) (domain.SyncResult, error)

	// RecentCommits returns commit metadata newest-first, skipping offset entries.
	RecentCommits(ctx context.Context, limit, offset int) ([]domain.CommitInfo, error)

	// Commit returns the metadata of a single commit.
	Commit(ctx context.Context, hash string) (domain.CommitInfo, error)

	// Diff returns the unified diff between a commit and its first parent.
	Diff(ctx context.Context, hash string) (string, error)

	// Overview returns a one-line human summary of a commit.
	Overview(ctx context.Context, hash string) (string, error)

	// Status reports the current mirror state.
	Status() domain.MirrorStatus
}
