package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/bovicare-rag/internal/config"
	"github.com/kirillkom/bovicare-rag/internal/core/ports"
	"github.com/kirillkom/bovicare-rag/internal/core/usecase"
	"github.com/kirillkom/bovicare-rag/internal/infrastructure/chunking"
	"github.com/kirillkom/bovicare-rag/internal/infrastructure/index"
	"github.com/kirillkom/bovicare-rag/internal/infrastructure/index/dense"
	"github.com/kirillkom/bovicare-rag/internal/infrastructure/llm/cache"
	"github.com/kirillkom/bovicare-rag/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/bovicare-rag/internal/infrastructure/llm/stub"
	"github.com/kirillkom/bovicare-rag/internal/infrastructure/queue/nats"
	"github.com/kirillkom/bovicare-rag/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/bovicare-rag/internal/infrastructure/resilience"
	"github.com/kirillkom/bovicare-rag/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/bovicare-rag/internal/observability/metrics"
)

const (
	OperationEmbed    = "ollama_embed"
	OperationRerank   = "ollama_rerank"
	OperationGenerate = "ollama_generate"
)

type App struct {
	Config config.Config

	Metrics  *metrics.HTTPServerMetrics
	Queue    *nats.Queue
	Registry *index.Registry

	RetrieveUC *usecase.RetrieveUseCase
	AnswerUC   *usecase.AnswerUseCase
	DiagnoseUC *usecase.DiagnoseUseCase
	IngestUC   *usecase.IngestCorpusUseCase

	// Executors by outbound operation, for health reporting.
	Executors map[string]*resilience.Executor

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var appMetrics *metrics.HTTPServerMetrics
	if cfg.MetricsEnabled {
		appMetrics = metrics.NewHTTPServerMetrics("api")
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewPassageRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	newExecutor := func(rc resilience.Config) *resilience.Executor {
		exec := resilience.NewExecutor(rc)
		if appMetrics != nil {
			exec = exec.WithObserver(appMetrics)
		}
		return exec
	}
	embedExec := newExecutor(cfg.Resilience())
	rerankExec := newExecutor(cfg.Resilience().WithoutRetries())
	generateExec := newExecutor(cfg.Resilience())
	natsExec := newExecutor(cfg.Resilience())

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSCorpusSubject, nats.Options{
		ResilienceExecutor: natsExec,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init corpus events: %w", err)
	}

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, cfg.OllamaRerankModel)

	embedder, err := newEmbedder(cfg, ollamaClient, embedExec)
	if err != nil {
		queue.Close()
		_ = db.Close()
		return nil, err
	}
	reranker := newReranker(cfg, ollamaClient, rerankExec)
	generator := ollama.NewGenerator(ollamaClient, generateExec)
	diagnoser := ollama.NewDiagnoser(ollamaClient, generateExec)

	metric := cfg.Metric()
	var (
		denseFactory index.DenseFactory
		mirror       ports.VectorWriter
	)
	switch cfg.DenseBackend {
	case config.DenseBackendQdrant:
		client := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, qdrant.Options{Dimension: cfg.EmbeddingDim, Metric: metric})
		denseFactory = index.External(client)
		mirror = client
	case config.DenseBackendPgvector:
		denseFactory = index.External(postgres.NewVectorIndex(db, cfg.EmbeddingDim, metric))
	default:
		denseFactory = index.MemoryDense(dense.Options{
			Metric:        metric,
			Dimension:     cfg.EmbeddingDim,
			HNSWThreshold: cfg.DenseHNSWThreshold,
		})
	}

	registry := index.NewRegistry(repo, denseFactory)
	if appMetrics != nil {
		registry = registry.WithObserver(metrics.NewIndexMetrics(appMetrics.Registry(), "api"))
	}

	var observer ports.RetrievalObserver
	if appMetrics != nil {
		observer = appMetrics
	}
	retrieveUC := usecase.NewRetrieveUseCase(embedder, registry, reranker, observer, cfg.RetrievalOptions())
	answerUC := usecase.NewAnswerUseCase(retrieveUC, generator)
	diagnoseUC := usecase.NewDiagnoseUseCase(retrieveUC, diagnoser)
	ingestUC := usecase.NewIngestCorpusUseCase(
		repo,
		mirror,
		chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		embedder,
		queue,
		cfg.IngestOptions(cfg.EmbeddingDim),
	)

	slog.Info("bootstrap_complete",
		slog.String("embedding_provider", cfg.EmbeddingProvider),
		slog.String("rerank_provider", cfg.RerankProvider),
		slog.String("dense_backend", cfg.DenseBackend),
		slog.String("metric", string(metric)),
		slog.Int("dimension", cfg.EmbeddingDim),
	)

	return &App{
		Config:   cfg,
		Metrics:  appMetrics,
		Queue:    queue,
		Registry: registry,

		RetrieveUC: retrieveUC,
		AnswerUC:   answerUC,
		DiagnoseUC: diagnoseUC,
		IngestUC:   ingestUC,

		Executors: map[string]*resilience.Executor{
			OperationEmbed:    embedExec,
			OperationRerank:   rerankExec,
			OperationGenerate: generateExec,
		},

		closeFn: func() {
			queue.Close()
			registry.Close()
			_ = db.Close()
		},
	}, nil
}

func newEmbedder(cfg config.Config, client *ollama.Client, exec *resilience.Executor) (ports.Embedder, error) {
	var embedder ports.Embedder
	switch cfg.EmbeddingProvider {
	case config.ProviderStub:
		embedder = stub.NewEmbedder(cfg.EmbeddingDim)
	default:
		embedder = ollama.NewEmbedder(client, exec, ollama.EmbedderOptions{
			Dimension:     cfg.EmbeddingDim,
			MaxInputChars: cfg.EmbedMaxInputChars,
		})
	}
	if cfg.EmbedCacheSize <= 0 {
		return embedder, nil
	}
	cached, err := cache.NewEmbedder(embedder, cfg.EmbedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("init embedding cache: %w", err)
	}
	return cached, nil
}

func newReranker(cfg config.Config, client *ollama.Client, exec *resilience.Executor) ports.Reranker {
	if cfg.RerankProvider == config.ProviderStub {
		return stub.NewReranker()
	}
	return ollama.NewReranker(client, exec, ollama.RerankerOptions{MaxDocChars: cfg.RerankMaxDocChars})
}

// LoadIndexes performs the initial index build. An empty store is not an
// error: the service starts and answers ErrCorpusEmpty until ingestion.
func (a *App) LoadIndexes(ctx context.Context) error {
	if err := a.Registry.Reload(ctx); err != nil {
		return fmt.Errorf("initial index load: %w", err)
	}
	return nil
}

// WatchCorpus reloads indexes on every corpus update until ctx is done.
func (a *App) WatchCorpus(ctx context.Context) {
	go func() {
		if err := a.Queue.SubscribeCorpusUpdated(ctx, a.Registry.OnCorpusUpdated); err != nil {
			slog.Error("corpus_watch_stopped", slog.Any("error", err))
		}
	}()
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
