package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docuflow-ai/docuflow/internal/config"
	db "github.com/docuflow-ai/docuflow/internal/core/database"
	"github.com/docuflow-ai/docuflow/internal/core/llm"
	objectclient "github.com/docuflow-ai/docuflow/internal/core/object-client"
	"github.com/docuflow-ai/docuflow/internal/core/ocr"
	"github.com/docuflow-ai/docuflow/internal/logging"
	"github.com/docuflow-ai/docuflow/internal/pipeline"
	"github.com/docuflow-ai/docuflow/internal/services"
)

// App owns every long-lived component: storage clients, the processing
// queue, the chat service and the HTTP server.
type App struct {
	Config   *config.Config
	Log      *slog.Logger
	Ring     *logging.Ring
	DBClient *db.DatabaseClient
	Queue    *pipeline.Queue
	Server   *Server
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	log, ring := logging.New(cfg.LogRingSize)

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbClient, err := db.NewDatabaseClient(initCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("database init: %w", err)
	}
	log.Info("database initialized and ready")

	objClient, err := objectclient.NewS3Client(initCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("object storage init: %w", err)
	}
	log.Info("object storage ready", "bucket", cfg.BucketName)

	embedder, err := llm.NewGeminiEmbedder(initCtx, cfg.AIAPIKey, cfg.EmbedModel)
	if err != nil {
		return nil, fmt.Errorf("embedder init: %w", err)
	}
	llmProvider, err := llm.NewGeminiLLM(initCtx, cfg.AIAPIKey, cfg.GenModel)
	if err != nil {
		return nil, fmt.Errorf("llm init: %w", err)
	}
	vision, err := llm.NewGeminiVision(initCtx, cfg.AIAPIKey, cfg.VisionModel)
	if err != nil {
		return nil, fmt.Errorf("vision init: %w", err)
	}

	extractor := ocr.NewDocconvExtractor(false)

	extraction := pipeline.NewExtractionStage(dbClient, objClient, extractor, vision, pipeline.ExtractionConfig{
		PerformOCR:      cfg.PerformOCR,
		DownloadTimeout: cfg.DownloadTimeout,
		ExtractTimeout:  cfg.ExtractTimeout,
	}, log)

	embedding := pipeline.NewEmbeddingStage(dbClient, embedder, pipeline.EmbeddingConfig{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		BatchSize:    cfg.EmbedBatchSize,
		EmbedTimeout: cfg.EmbedTimeout,
		BatchRetry:   retryPolicy(cfg),
	}, log)

	queue := pipeline.NewQueue(extraction, embedding, retryPolicy(cfg), pipeline.NewTracker(), log)

	chat := services.NewChatService(dbClient, embedder, llmProvider, services.ChatConfig{
		MaxContextChunks:  cfg.MaxContextChunks,
		SimilarityFloor:   cfg.SimilarityFloor,
		HistoryWindow:     cfg.HistoryWindow,
		EmbedTimeout:      cfg.EmbedTimeout,
		CompletionTimeout: cfg.CompletionTimeout,
	}, log)

	server := NewServer(cfg, dbClient, objClient, queue, chat, ring, log)

	return &App{
		Config:   cfg,
		Log:      log,
		Ring:     ring,
		DBClient: dbClient,
		Queue:    queue,
		Server:   server,
	}, nil
}

// Start launches the queue workers and blocks serving HTTP until the
// context is cancelled or the listener fails.
func (a *App) Start(ctx context.Context) error {
	a.Queue.Start(ctx, a.Config.NumWorkers)
	return a.Server.Start(ctx)
}

func (a *App) Close() {
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}

func retryPolicy(cfg *config.Config) pipeline.RetryPolicy {
	p := pipeline.DefaultRetryPolicy()
	if cfg.RetryMaxAttempts > 0 {
		p.MaxAttempts = cfg.RetryMaxAttempts
	}
	if cfg.RetryBaseBackoff > 0 {
		p.BaseBackoff = cfg.RetryBaseBackoff
	}
	return p
}
