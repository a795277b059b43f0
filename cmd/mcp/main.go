package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mcpadapter "github.com/kirillkom/bovicare-rag/internal/adapters/mcp"
	"github.com/kirillkom/bovicare-rag/internal/bootstrap"
	"github.com/kirillkom/bovicare-rag/internal/config"
	"github.com/kirillkom/bovicare-rag/internal/observability/logging"
)

var version = "dev"

func main() {
	cfg := config.Load()
	// stdout carries the MCP protocol.
	slog.SetDefault(logging.NewJSONLoggerTo(os.Stderr, "mcp", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap_failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer app.Close()

	if err := app.LoadIndexes(ctx); err != nil {
		slog.Error("index_load_failed", slog.Any("error", err))
		os.Exit(1)
	}
	app.WatchCorpus(ctx)

	srv := mcpadapter.New(app.RetrieveUC, cfg.RAGTopK, cfg.RAGMaxTopK)
	if err := srv.ServeStdio(version); err != nil {
		slog.Error("mcp_server_failed", slog.Any("error", err))
		os.Exit(1)
	}
}
