package domain

import "fmt"

// EmbeddingRecord is a vectorized chunk of a commit stored in the index.
// An empty FilePath means the chunk is not tied to a file (commit header).
type EmbeddingRecord struct {
	ID         string         `json:"id"          db:"id"`
	CommitHash string         `json:"commit_hash" db:"commit_hash"`
	FilePath   string         `json:"file_path"   db:"file_path"`
	ChunkIndex int            `json:"chunk_index" db:"chunk_index"`
	Content    string         `json:"content"     db:"content"`
	Vector     []float32      `json:"-"           db:"vector"`
	Metadata   map[string]any `json:"metadata"    db:"metadata"`
}

// ChunkID derives the stable id of a chunk.
func ChunkID(commitHash, filePath string, chunkIndex int) string {
	return fmt.Sprintf("%s:%s:%d", commitHash, filePath, chunkIndex)
}

// SearchResult is returned by nearest-neighbor search. Lower distance is more similar.
type SearchResult struct {
	ChunkID    string         `json:"chunk_id"`
	CommitHash string         `json:"commit_hash"`
	FilePath   string         `json:"file_path,omitempty"`
	ChunkIndex int            `json:"chunk_index"`
	Content    string         `json:"content"`
	Distance   float64        `json:"distance"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Relevance is the complement of the cosine distance.
func (r SearchResult) Relevance() float64 {
	return 1 - r.Distance
}

// IndexStats summarizes the index contents.
type IndexStats struct {
	TotalEmbeddings  int64 `json:"total_embeddings"  db:"total_embeddings"`
	TotalCommits     int64 `json:"total_commits"     db:"total_commits"`
	ProcessedCommits int64 `json:"processed_commits" db:"processed_commits"`
}
