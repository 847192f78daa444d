package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/docuflow-ai/docuflow/internal/core"
	"github.com/docuflow-ai/docuflow/internal/models"
)

// EmbeddingConfig tunes the embedding stage.
type EmbeddingConfig struct {
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
	EmbedTimeout time.Duration
	BatchRetry   RetryPolicy
}

// EmbeddingResult reports chunk statistics for a completed run.
type EmbeddingResult struct {
	ChunkCount int
	TotalChars int
}

// EmbeddingStage chunks a document's extracted text, embeds the chunks in
// batches and replaces the document's stored chunk set. Re-runs are
// idempotent: the prior set is always fully replaced, never mixed with.
type EmbeddingStage struct {
	db       core.DbClient
	embedder core.EmbeddingProvider
	cfg      EmbeddingConfig
	log      *slog.Logger
}

// NewEmbeddingStage wires the stage with its collaborators.
func NewEmbeddingStage(db core.DbClient, embedder core.EmbeddingProvider, cfg EmbeddingConfig, log *slog.Logger) *EmbeddingStage {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = DefaultChunkOverlap
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = time.Minute
	}
	return &EmbeddingStage{db: db, embedder: embedder, cfg: cfg, log: log}
}

// Run executes the embedding stage for one document.
func (s *EmbeddingStage) Run(ctx context.Context, documentID, orgID string, report func(int)) (*EmbeddingResult, error) {
	if report == nil {
		report = func(int) {}
	}
	log := s.log.With("document_id", documentID, "org_id", orgID)

	doc, err := s.db.GetDocument(ctx, documentID, orgID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, core.NotFoundf("document %s in org %s", documentID, orgID)
	}
	if doc.OCRText == nil {
		return nil, core.PreconditionFailedf("document %s has no extracted text; run extraction first", documentID)
	}
	report(10)

	texts, err := Chunk(*doc.OCRText, s.cfg.ChunkSize, s.cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	report(30)

	if len(texts) == 0 {
		// Nothing to embed; clear any stale set so readers never see
		// leftovers from a previous text version.
		if err := s.db.ReplaceDocumentChunks(ctx, documentID, orgID, nil); err != nil {
			return nil, err
		}
		report(100)
		return &EmbeddingResult{}, nil
	}

	vectors, err := s.embedAll(ctx, texts)
	if err != nil {
		return nil, err
	}
	report(80)

	now := time.Now()
	rows := make([]models.EmbeddingChunk, len(texts))
	totalChars := 0
	for i, text := range texts {
		rows[i] = models.EmbeddingChunk{
			ID:         uuid.NewString(),
			DocumentID: documentID,
			OrgID:      orgID,
			ChunkIndex: i,
			Content:    text,
			Embedding:  vectors[i],
			CreatedAt:  now,
		}
		totalChars += len(text)
	}

	if err := s.db.ReplaceDocumentChunks(ctx, documentID, orgID, rows); err != nil {
		return nil, err
	}
	report(100)
	log.Info("embedding complete", "chunks", len(rows), "chars", totalChars)

	return &EmbeddingResult{ChunkCount: len(rows), TotalChars: totalChars}, nil
}

// embedAll requests embeddings in batches of BatchSize. Batches run a few
// at a time; a batch failure retries under the policy, and an exhausted
// batch fails the whole run so readers never see a partial vector set.
func (s *EmbeddingStage) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(2)

	for start := 0; start < len(texts); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end

		g.Go(func() error {
			batch := texts[start:end]
			return s.cfg.BatchRetry.Do(gctx, func(ctx context.Context) error {
				ectx, cancel := context.WithTimeout(ctx, s.cfg.EmbedTimeout)
				defer cancel()

				vecs, err := s.embedder.EmbedTexts(ectx, batch)
				if err != nil {
					return err
				}
				if len(vecs) != len(batch) {
					return fmt.Errorf("embed size mismatch: got %d want %d", len(vecs), len(batch))
				}
				copy(vectors[start:end], vecs)
				return nil
			})
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}
