package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/arturoeanton/go-git-rag/internal/domain"
	"github.com/arturoeanton/go-git-rag/internal/port"
)

// UpsertEmbedding inserts or overwrites a chunk by id in a single statement.
// The seq column is only assigned on first insert, so an overwrite keeps its
// tie-breaking position.
func (s *PostgresStore) UpsertEmbedding(ctx context.Context, rec domain.EmbeddingRecord) error {
	if s.dimension > 0 && len(rec.Vector) != s.dimension {
		return fmt.Errorf("%w: %w: got %d, want %d", port.ErrIndexWrite, port.ErrDimensionMismatch, len(rec.Vector), s.dimension)
	}

	metadata := rec.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("%w: marshal metadata: %w", port.ErrIndexWrite, err)
	}

	query := `
		INSERT INTO embeddings (id, commit_hash, file_path, chunk_index, content, vector, metadata)
		VALUES ($1, $2, $3, $4, $5, $6::vector, $7)
		ON CONFLICT (id) DO UPDATE SET
			commit_hash = EXCLUDED.commit_hash,
			file_path = EXCLUDED.file_path,
			chunk_index = EXCLUDED.chunk_index,
			content = EXCLUDED.content,
			vector = EXCLUDED.vector,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()`

	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.CommitHash, nullString(rec.FilePath), rec.ChunkIndex, rec.Content,
		vectorToString(rec.Vector), metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("%w: upsert embedding %s: %w", port.ErrIndexWrite, rec.ID, err)
	}
	return nil
}

type searchRow struct {
	ID         string         `db:"id"`
	CommitHash string         `db:"commit_hash"`
	FilePath   sql.NullString `db:"file_path"`
	ChunkIndex int            `db:"chunk_index"`
	Content    string         `db:"content"`
	Metadata   []byte         `db:"metadata"`
	Distance   float64        `db:"distance"`
}

// NearestNeighbors returns the chunks closest to query, ties ordered by
// insertion sequence. An unscoped search is served approximately by the HNSW
// index. A scoped search ranks every row of the commit exactly; the CTE is
// MATERIALIZED so the planner cannot turn it into an HNSW scan with a filter
// applied afterwards.
func (s *PostgresStore) NearestNeighbors(ctx context.Context, query []float32, limit int, commitHash string) ([]domain.SearchResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	if s.dimension > 0 && len(query) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d values, want %d", port.ErrDimensionMismatch, len(query), s.dimension)
	}

	sqlQuery := `
		SELECT id, commit_hash, file_path, chunk_index, content, metadata, distance
		FROM (
			SELECT id, seq, commit_hash, file_path, chunk_index, content, metadata,
			       vector <=> $1::vector AS distance
			FROM embeddings
			ORDER BY vector <=> $1::vector
			LIMIT $2
		) nn
		ORDER BY distance ASC, seq ASC`
	args := []any{vectorToString(query), limit}
	if commitHash != "" {
		sqlQuery = `
		WITH scoped AS MATERIALIZED (
			SELECT id, seq, commit_hash, file_path, chunk_index, content, metadata, vector
			FROM embeddings
			WHERE commit_hash = $3
		)
		SELECT id, commit_hash, file_path, chunk_index, content, metadata,
		       vector <=> $1::vector AS distance
		FROM scoped
		ORDER BY distance ASC, seq ASC
		LIMIT $2`
		args = append(args, commitHash)
	}

	var rows []searchRow
	if err := s.db.SelectContext(ctx, &rows, sqlQuery, args...); err != nil {
		return nil, fmt.Errorf("nearest neighbors: %w", err)
	}

	results := make([]domain.SearchResult, 0, len(rows))
	for _, r := range rows {
		res := domain.SearchResult{
			ChunkID:    r.ID,
			CommitHash: r.CommitHash,
			FilePath:   r.FilePath.String,
			ChunkIndex: r.ChunkIndex,
			Content:    r.Content,
			Distance:   r.Distance,
		}
		if len(r.Metadata) > 0 {
			if err := json.Unmarshal(r.Metadata, &res.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of %s: %w", r.ID, err)
			}
		}
		results = append(results, res)
	}
	return results, nil
}

// DeleteCommitEmbeddings deletes all chunks of a commit. The ledger row is untouched.
func (s *PostgresStore) DeleteCommitEmbeddings(ctx context.Context, hash string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE commit_hash = $1`, hash)
	if err != nil {
		return 0, fmt.Errorf("%w: delete commit embeddings: %w", port.ErrIndexWrite, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete commit embeddings: %w", err)
	}
	return n, nil
}

// vectorToString converts a float32 slice to pgvector string format: [0.1,0.2,0.3].
func vectorToString(v []float32) string {
	parts := make([]string, len(v))
	for i, val := range v {
		parts[i] = strconv.FormatFloat(float64(val), 'g', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
