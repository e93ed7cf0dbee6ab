package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/arturoeanton/go-git-rag/internal/domain"
	"github.com/arturoeanton/go-git-rag/internal/port"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SchemaDimension is the width of the embeddings.vector column created by the migrations.
const SchemaDimension = 768

// PostgresStore implements port.IndexStore on Postgres with pgvector.
type PostgresStore struct {
	db        *sqlx.DB
	dimension int
}

// NewPostgresStore opens a connection and returns a store instance.
// dimension must equal SchemaDimension.
func NewPostgresStore(ctx context.Context, databaseURL string, dimension int) (*PostgresStore, error) {
	if dimension != SchemaDimension {
		return nil, fmt.Errorf("%w: EMBEDDING_DIMENSION is %d but the embeddings.vector column is vector(%d)",
			port.ErrDimensionMismatch, dimension, SchemaDimension)
	}

	db, err := sqlx.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return NewPostgresStoreFromDB(db, dimension), nil
}

// NewPostgresStoreFromDB wraps an existing connection pool.
func NewPostgresStoreFromDB(db *sqlx.DB, dimension int) *PostgresStore {
	return &PostgresStore{db: db, dimension: dimension}
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema migrations.
func (s *PostgresStore) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := postgres.WithInstance(s.db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}
	// The migrator is not closed: its driver owns the shared pool.
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("schema up to date")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}
	slog.Info("schema migrated")
	return nil
}

// --- Commit ledger ---

type commitRow struct {
	Hash        string         `db:"hash"`
	Message     string         `db:"message"`
	Author      string         `db:"author"`
	CommitTime  int64          `db:"commit_time"`
	Processed   bool           `db:"processed"`
	ProcessedAt sql.NullTime   `db:"processed_at"`
	Diff        sql.NullString `db:"diff"`
}

// IsCommitProcessed reports whether the commit was fully ingested.
func (s *PostgresStore) IsCommitProcessed(ctx context.Context, hash string) (bool, error) {
	var processed bool
	err := s.db.GetContext(ctx, &processed, `SELECT processed FROM commits WHERE hash = $1`, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is commit processed: %w", err)
	}
	return processed, nil
}

// MarkCommitProcessed flags the commit as fully ingested, creating the row if needed.
func (s *PostgresStore) MarkCommitProcessed(ctx context.Context, hash string) error {
	query := `
		INSERT INTO commits (hash, processed, processed_at)
		VALUES ($1, TRUE, NOW())
		ON CONFLICT (hash) DO UPDATE SET
			processed = TRUE,
			processed_at = NOW(),
			updated_at = NOW()`

	if _, err := s.db.ExecContext(ctx, query, hash); err != nil {
		return fmt.Errorf("%w: mark commit processed: %w", port.ErrIndexWrite, err)
	}
	return nil
}

// CacheCommitMetadata upserts commit metadata. A nil diff keeps the stored one.
func (s *PostgresStore) CacheCommitMetadata(ctx context.Context, rec domain.CommitRecord) error {
	query := `
		INSERT INTO commits (hash, message, author, commit_time, diff)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (hash) DO UPDATE SET
			message = EXCLUDED.message,
			author = EXCLUDED.author,
			commit_time = EXCLUDED.commit_time,
			diff = COALESCE(EXCLUDED.diff, commits.diff),
			updated_at = NOW()`

	var diff sql.NullString
	if rec.Diff != nil {
		diff = sql.NullString{String: *rec.Diff, Valid: true}
	}

	if _, err := s.db.ExecContext(ctx, query, rec.Hash, rec.Message, rec.Author, rec.CommitTime, diff); err != nil {
		return fmt.Errorf("%w: cache commit metadata: %w", port.ErrIndexWrite, err)
	}
	return nil
}

// GetCachedDiff returns the stored diff of a commit, if any.
func (s *PostgresStore) GetCachedDiff(ctx context.Context, hash string) (string, bool, error) {
	var diff sql.NullString
	err := s.db.GetContext(ctx, &diff, `SELECT diff FROM commits WHERE hash = $1`, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get cached diff: %w", err)
	}
	if !diff.Valid {
		return "", false, nil
	}
	return diff.String, true, nil
}

// GetCommit returns the ledger entry of a commit or nil.
func (s *PostgresStore) GetCommit(ctx context.Context, hash string) (*domain.CommitRecord, error) {
	var row commitRow
	err := s.db.GetContext(ctx, &row,
		`SELECT hash, message, author, commit_time, processed, processed_at, diff FROM commits WHERE hash = $1`, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get commit: %w", err)
	}

	rec := &domain.CommitRecord{
		Hash:       row.Hash,
		Message:    row.Message,
		Author:     row.Author,
		CommitTime: row.CommitTime,
		Processed:  row.Processed,
	}
	if row.ProcessedAt.Valid {
		t := row.ProcessedAt.Time
		rec.ProcessedAt = &t
	}
	if row.Diff.Valid {
		d := row.Diff.String
		rec.Diff = &d
	}
	return rec, nil
}

// Statistics counts embeddings and commits.
func (s *PostgresStore) Statistics(ctx context.Context) (domain.IndexStats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM embeddings) AS total_embeddings,
			(SELECT COUNT(*) FROM commits) AS total_commits,
			(SELECT COUNT(*) FROM commits WHERE processed) AS processed_commits`

	var stats domain.IndexStats
	if err := s.db.GetContext(ctx, &stats, query); err != nil {
		return domain.IndexStats{}, fmt.Errorf("statistics: %w", err)
	}
	return stats, nil
}
