package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/bovicare-rag/internal/adapters/http"
	"github.com/kirillkom/bovicare-rag/internal/bootstrap"
	"github.com/kirillkom/bovicare-rag/internal/config"
	"github.com/kirillkom/bovicare-rag/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("api", cfg.LogLevel))

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

	checks := make([]httpadapter.BreakerCheck, 0, len(app.Executors))
	for _, op := range []string{bootstrap.OperationEmbed, bootstrap.OperationRerank, bootstrap.OperationGenerate} {
		checks = append(checks, httpadapter.BreakerCheck{Operation: op, Reporter: app.Executors[op]})
	}

	router := httpadapter.NewRouter(app.RetrieveUC, app.AnswerUC, app.Registry, httpadapter.Options{
		DefaultTopK:     cfg.RAGTopK,
		MaxInFlight:     cfg.APIMaxInFlight,
		BackpressureMax: cfg.APIBackpressureWait,
		Breakers:        checks,
		Metrics:         app.Metrics,
		Diagnoser:       app.DiagnoseUC,
	}).Handler()
	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("api_listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api_server_failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("api_shutdown_failed", slog.Any("error", err))
	}
}
