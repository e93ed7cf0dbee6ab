package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/arturoeanton/go-git-rag/internal/app"
	"github.com/arturoeanton/go-git-rag/internal/mcp"
	"github.com/arturoeanton/go-git-rag/pkg/config"
)

func main() {
	// ── Load .env file ───────────────────────────────────────────────────
	_ = godotenv.Load() // silently ignore if .env doesn't exist

	// ── Configuration ────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	slog.SetDefault(logger)

	for _, w := range cfg.Validate() {
		slog.Warn("configuration", "warning", w)
	}

	slog.Info("Starting Git RAG",
		"port", cfg.Port,
		"repo", cfg.RepoURL,
		"ai_provider", cfg.AIProvider,
		"store", cfg.StoreBackend,
		"mcp_enabled", cfg.MCPEnabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Wiring ───────────────────────────────────────────────────────────
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}

	httpApp := a.HTTP()

	// ── MCP Server (separate port) ───────────────────────────────────────
	var mcpServer *mcp.Server
	if cfg.MCPEnabled {
		mcpServer = a.MCP()
		go func() {
			if err := mcpServer.Start(); err != nil {
				slog.Error("MCP server failed", "error", err)
			}
		}()
	}

	// ── Start ────────────────────────────────────────────────────────────
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Fiber listening", "port", cfg.Port)
		errCh <- httpApp.Listen(":" + cfg.Port)
	}()

	exitCode := 0
	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("server failed", "error", err)
			exitCode = 1
		}
	case <-ctx.Done():
		slog.Info("shutting down")
	}

	// ── Shutdown ─────────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var errs []error
	errs = append(errs, httpApp.ShutdownWithContext(shutdownCtx))
	if mcpServer != nil {
		errs = append(errs, mcpServer.Shutdown(shutdownCtx))
	}
	errs = append(errs, a.Close(shutdownCtx))
	if err := errors.Join(errs...); err != nil {
		slog.Error("shutdown incomplete", "error", err)
		exitCode = 1
	}
	os.Exit(exitCode)
}
