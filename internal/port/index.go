package port

import (
	"context"

	"github.com/arturoeanton/go-git-rag/internal/domain"
)

// IndexStore persists chunk embeddings and the commit processing ledger.
type IndexStore interface {
	// UpsertEmbedding inserts or overwrites a record by its id.
	UpsertEmbedding(ctx context.Context, rec domain.EmbeddingRecord) error

	// NearestNeighbors returns up to limit results ascending by cosine distance.
	// An empty commitHash searches the whole index.
	NearestNeighbors(ctx context.Context, query []float32, limit int, commitHash string) ([]domain.SearchResult, error)

	IsCommitProcessed(ctx context.Context, hash string) (bool, error)
	MarkCommitProcessed(ctx context.Context, hash string) error

	// CacheCommitMetadata stores commit metadata and, when present, its diff.
	// It never changes the processed flag.
	CacheCommitMetadata(ctx context.Context, rec domain.CommitRecord) error
	GetCachedDiff(ctx context.Context, hash string) (string, bool, error)
	// GetCommit returns nil when the commit is unknown.
	GetCommit(ctx context.Context, hash string) (*domain.CommitRecord, error)

	// DeleteCommitEmbeddings removes every chunk of a commit and reports how
	// many were deleted. The processed flag is left untouched.
	DeleteCommitEmbeddings(ctx context.Context, hash string) (int64, error)

	Statistics(ctx context.Context) (domain.IndexStats, error)
}
