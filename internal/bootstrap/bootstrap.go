package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/kirillkom/arxiv-rag/internal/config"
	"github.com/kirillkom/arxiv-rag/internal/core/ports"
	"github.com/kirillkom/arxiv-rag/internal/core/usecase"
	"github.com/kirillkom/arxiv-rag/internal/infrastructure/chunking"
	"github.com/kirillkom/arxiv-rag/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/arxiv-rag/internal/infrastructure/queue/nats"
	"github.com/kirillkom/arxiv-rag/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/arxiv-rag/internal/infrastructure/resilience"
)

type App struct {
	Config config.Config

	// Queue is nil when the app was built WithoutQueue.
	Queue ports.MessageQueue
	Repo  *postgres.PaperRepository

	SearchUC *usecase.SearchService
	AnswerUC *usecase.AnswerUseCase
	IngestUC *usecase.IngestPapersUseCase
	IndexUC  *usecase.IndexPapersUseCase

	closeFn func()
}

type options struct {
	withoutQueue bool
	observer     resilience.Observer
	onQueueLag   func(time.Duration)
}

type Option func(*options)

// WithoutQueue skips the NATS connection; ingestion then stores papers without indexing events.
func WithoutQueue() Option {
	return func(o *options) { o.withoutQueue = true }
}

// WithQueueLagObserver receives the publish-to-delivery delay of consumed indexing events.
func WithQueueLagObserver(observe func(time.Duration)) Option {
	return func(o *options) { o.onQueueLag = observe }
}

// WithObserver reports retries and breaker transitions of outbound calls, e.g. to metrics.
func WithObserver(observer resilience.Observer) Option {
	return func(o *options) { o.observer = observer }
}

func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewPaperRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	executor := resilience.NewExecutor(ResilienceConfig(cfg))
	if o.observer != nil {
		executor = executor.WithObserver(o.observer)
	}

	var queue *nats.Queue
	if !o.withoutQueue {
		queue, err = nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: executor,
			LagObserver:        o.onQueueLag,
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init message queue: %w", err)
		}
	}

	app := wire(cfg, repo, executor)
	app.Repo = repo
	if queue != nil {
		app.Queue = queue
		app.IngestUC = usecase.NewIngestPapersUseCase(repo, queue)
	}
	app.closeFn = func() {
		if queue != nil {
			queue.Close()
		}
		_ = db.Close()
	}
	return app, nil
}

// wire builds the use cases over a paper store. The ingest use case starts without a queue.
func wire(cfg config.Config, store ports.PaperStore, executor *resilience.Executor) *App {
	client := ollama.NewWithOptions(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{
		Timeout:  time.Duration(cfg.LLMTimeoutSeconds) * time.Second,
		Executor: executor,
	})
	embeddings := usecase.NewEmbeddingGateway(ollama.NewEmbedder(client), usecase.EmbeddingOptions{
		BatchSize: cfg.EmbedBatchSize,
		CacheSize: cfg.EmbedCacheSize,
	})

	scoring, err := usecase.ParseKeywordScoring(cfg.RAGKeywordScoring)
	if err != nil {
		scoring = usecase.KeywordScoringTF
	}
	keyword := usecase.NewKeywordSearch(store, scoring)
	semantic := usecase.NewSemanticSearch(embeddings, store)
	hybrid := usecase.NewHybridSearch(keyword, semantic, usecase.HybridOptions{
		RRFK:          cfg.RAGFusionRRFK,
		MinSimilarity: cfg.RAGMinSimilarity,
	})
	search := usecase.NewSearchService(keyword, semantic, hybrid, usecase.SearchDefaults{
		TopK:           cfg.RAGTopK,
		KeywordLimit:   cfg.RAGKeywordLimit,
		KeywordWeight:  cfg.RAGKeywordWeight,
		SemanticWeight: cfg.RAGSemanticWeight,
		MinSimilarity:  cfg.RAGMinSimilarity,
	})

	answers := usecase.NewAnswerUseCase(search, ollama.NewChatModel(client), usecase.AnswerOptions{
		MaxTokens:        cfg.RAGMaxTokens,
		Temperature:      cfg.RAGTemperature,
		LLMTimeout:       time.Duration(cfg.LLMTimeoutSeconds) * time.Second,
		RetrievalTimeout: time.Duration(cfg.RAGRequestTimeoutSeconds) * time.Second,
	})

	return &App{
		Config:   cfg,
		SearchUC: search,
		AnswerUC: answers,
		IngestUC: usecase.NewIngestPapersUseCase(store, nil),
		IndexUC: usecase.NewIndexPapersUseCase(
			store,
			chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
			embeddings,
			cfg.IndexWorkers,
		),
	}
}

func ResilienceConfig(cfg config.Config) resilience.Config {
	return resilience.Config{
		RetryMaxAttempts:        cfg.RetryMaxAttempts,
		RetryInitialBackoff:     time.Duration(cfg.RetryInitialBackoffMS) * time.Millisecond,
		RetryMaxBackoff:         time.Duration(cfg.RetryMaxBackoffMS) * time.Millisecond,
		BreakerEnabled:          cfg.BreakerEnabled,
		BreakerMinRequests:      uint32(max(cfg.BreakerMinRequests, 0)),
		BreakerFailureRatio:     cfg.BreakerFailureRatio,
		BreakerOpenTimeout:      time.Duration(cfg.BreakerOpenTimeoutSecs) * time.Second,
		BreakerHalfOpenMaxCalls: uint32(max(cfg.BreakerHalfOpenMaxCalls, 0)),
	}
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
