// Package app wires configuration, adapters and services into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/arturoeanton/go-git-rag/internal/adapter/ai"
	"github.com/arturoeanton/go-git-rag/internal/adapter/store"
	"github.com/arturoeanton/go-git-rag/internal/adapter/vcs"
	"github.com/arturoeanton/go-git-rag/internal/handler"
	"github.com/arturoeanton/go-git-rag/internal/mcp"
	"github.com/arturoeanton/go-git-rag/internal/metrics"
	"github.com/arturoeanton/go-git-rag/internal/middleware"
	"github.com/arturoeanton/go-git-rag/internal/port"
	"github.com/arturoeanton/go-git-rag/internal/service"
	"github.com/arturoeanton/go-git-rag/internal/session"
	"github.com/arturoeanton/go-git-rag/pkg/config"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// App holds the wired components of the service.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Store    port.IndexStore
	Mirror   *vcs.GitMirror
	RAG      *service.RAGService
	Repo     *service.RepoService
	Queue    *service.IngestQueue
	Sessions *session.Store

	closeStore func() error
}

// NewLogger builds a slog logger from a level name and a format (text or json).
func NewLogger(level, format string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// OpenStore returns the index store selected by STORE_BACKEND and a function releasing it.
func OpenStore(ctx context.Context, cfg *config.Config) (port.IndexStore, func() error, error) {
	switch cfg.StoreBackend {
	case "memory":
		return store.NewMemoryStore(cfg.EmbeddingDimension), func() error { return nil }, nil
	case "postgres", "":
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.EmbeddingDimension)
		if err != nil {
			return nil, nil, err
		}
		if cfg.RunMigrations {
			if err := pg.Migrate(); err != nil {
				_ = pg.Close()
				return nil, nil, err
			}
		}
		return pg, pg.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// Build connects the store, the mirror and the AI providers and starts the ingestion workers.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	st, closeStore, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	logger.Info("index store ready", "backend", cfg.StoreBackend, "dsn", cfg.DSN())

	embedder, generator, err := ai.NewProviders(ctx, cfg, m)
	if err != nil {
		_ = closeStore()
		return nil, fmt.Errorf("ai providers: %w", err)
	}

	mirror := vcs.NewGitMirror(vcs.MirrorConfig{
		URL:       cfg.RepoURL,
		Branch:    cfg.RepoBranch,
		LocalPath: cfg.MirrorPath,
		AuthToken: cfg.RepoAuthToken,
		Timeout:   cfg.MirrorTimeout,
	})

	rag := service.NewRAGService(embedder, generator, st, mirror, service.RAGConfig{
		PerCommitK:        cfg.PerCommitK,
		OverallLimit:      cfg.OverallLimit,
		ChunkMaxWords:     cfg.ChunkMaxWords,
		ChunkMaxPerCommit: cfg.ChunkMaxPerCommit,
		Generation: port.GenerationConfig{
			Temperature:     float32(cfg.Temperature),
			TopK:            cfg.TopK,
			TopP:            float32(cfg.TopP),
			MaxOutputTokens: cfg.MaxOutputTokens,
		},
	}, m, logger)

	queue := service.NewIngestQueue(rag, service.NewJobTracker(time.Hour), service.IngestConfig{
		Workers:    cfg.IngestWorkers,
		QueueSize:  cfg.IngestQueueSize,
		JobTimeout: cfg.IngestTimeout,
	}, m, logger)

	repo := service.NewRepoService(mirror, st, queue, service.RepoConfig{
		AutoIndexOnSync: cfg.AutoIndexOnSync,
		AutoIndexLimit:  cfg.AutoIndexLimit,
	}, logger)

	sessions := session.NewStore(cfg.SessionTTL, nil)
	metrics.RegisterSizeGauge(reg, "gitrag_conversations_active", "Conversations whose scope is still remembered", sessions.Len)
	if cached, ok := embedder.(*ai.CachedEmbedder); ok {
		metrics.RegisterSizeGauge(reg, "gitrag_embed_cache_entries", "Vectors held by the embedding cache", cached.Len)
	}

	return &App{
		Config:     cfg,
		Logger:     logger,
		Registry:   reg,
		Metrics:    m,
		Store:      st,
		Mirror:     mirror,
		RAG:        rag,
		Repo:       repo,
		Queue:      queue,
		Sessions:   sessions,
		closeStore: closeStore,
	}, nil
}

// HTTP returns the fiber application serving the REST API.
func (a *App) HTTP() *fiber.App {
	f := fiber.New(fiber.Config{
		AppName:      a.Config.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
	})

	f.Use(recover.New())
	f.Use(fiberlogger.New())
	f.Use(cors.New(cors.Config{
		AllowOrigins: []string{a.Config.FrontendURL},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
	}))
	f.Use(middleware.Metrics(a.Metrics))

	handler.RegisterMetrics(f, a.Registry)

	api := f.Group("/api/v1")
	handler.RegisterHealth(api, a.Config.AppName, Version, a.Mirror.Status)
	handler.NewRAGHandler(a.RAG, a.Sessions).Register(api)
	handler.NewRepoHandler(a.Repo).Register(api)
	handler.NewJobsHandler(a.Queue).Register(api)

	return f
}

// MCP returns the tool server bound to MCP_PORT.
func (a *App) MCP() *mcp.Server {
	return mcp.NewServer(a.RAG, a.Repo, a.Queue, a.Config.MCPPort)
}

// Close drains the ingestion queue and releases the store.
func (a *App) Close(ctx context.Context) error {
	return errors.Join(a.Queue.Close(ctx), a.closeStore())
}
