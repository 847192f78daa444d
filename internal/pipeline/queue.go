package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Job is one unit of pipeline work: a stage to run over one document.
// Delivery is at-least-once and jobs are idempotent: re-running extraction
// re-extracts, re-running embedding fully replaces the chunk set.
type Job struct {
	ID         string
	Kind       JobKind
	DocumentID string
	OrgID      string
	Attempt    int
}

// Queue sequences pipeline stages per document over a bounded worker pool.
// Extraction and embedding for one document are causally ordered (embedding
// is enqueued only after extraction succeeds with usable text); there is no
// ordering across documents. Transient failures are re-enqueued with
// exponential backoff; after exhaustion the job stays visibly failed.
type Queue struct {
	jobs       chan Job
	extraction *ExtractionStage
	embedding  *EmbeddingStage
	retry      RetryPolicy
	tracker    *Tracker
	log        *slog.Logger
}

// NewQueue constructs the queue with a bounded job buffer (64).
func NewQueue(extraction *ExtractionStage, embedding *EmbeddingStage, retry RetryPolicy, tracker *Tracker, log *slog.Logger) *Queue {
	return &Queue{
		jobs:       make(chan Job, 64),
		extraction: extraction,
		embedding:  embedding,
		retry:      retry,
		tracker:    tracker,
		log:        log,
	}
}

// Tracker exposes job status lookups and progress subscriptions.
func (q *Queue) Tracker() *Tracker {
	return q.tracker
}

// Start launches numWorkers goroutines pulling jobs until ctx is done.
func (q *Queue) Start(ctx context.Context, numWorkers int) {
	for w := 1; w <= numWorkers; w++ {
		go func(w int) {
			for {
				select {
				case <-ctx.Done():
					q.log.Debug("pipeline worker shutting down", "worker", w)
					return
				case job := <-q.jobs:
					q.runJob(ctx, job, w)
				}
			}
		}(w)
	}
}

// EnqueueExtraction schedules the extraction stage for a document and
// returns the job ID.
func (q *Queue) EnqueueExtraction(documentID, orgID string) (string, error) {
	return q.enqueue(Job{Kind: KindExtraction, DocumentID: documentID, OrgID: orgID})
}

// EnqueueEmbedding schedules the embedding stage for a document and returns
// the job ID.
func (q *Queue) EnqueueEmbedding(documentID, orgID string) (string, error) {
	return q.enqueue(Job{Kind: KindEmbedding, DocumentID: documentID, OrgID: orgID})
}

func (q *Queue) enqueue(job Job) (string, error) {
	job.ID = uuid.NewString()
	job.Attempt = 1
	q.tracker.Create(job.ID, job.Kind, job.DocumentID, job.OrgID)

	select {
	case q.jobs <- job:
		return job.ID, nil
	default:
		err := fmt.Errorf("pipeline queue full, dropping %s job for document %s", job.Kind, job.DocumentID)
		q.tracker.Finished(job.ID, err)
		return "", err
	}
}

func (q *Queue) runJob(ctx context.Context, job Job, worker int) {
	log := q.log.With("job_id", job.ID, "kind", string(job.Kind), "document_id", job.DocumentID, "org_id", job.OrgID, "attempt", job.Attempt, "worker", worker)
	q.tracker.Started(job.ID, job.Attempt)
	report := func(pct int) { q.tracker.SetProgress(job.ID, pct) }

	var (
		err       error
		extracted *ExtractionResult
	)
	switch job.Kind {
	case KindExtraction:
		extracted, err = q.extraction.Run(ctx, job.DocumentID, job.OrgID, report)
	case KindEmbedding:
		_, err = q.embedding.Run(ctx, job.DocumentID, job.OrgID, report)
	default:
		err = fmt.Errorf("unknown job kind %q", job.Kind)
	}

	if err == nil {
		q.tracker.Finished(job.ID, nil)
		if job.Kind == KindExtraction && extracted != nil && extracted.TextChars > 0 {
			// Enqueue failure must not revert the completed document;
			// embedding can be re-triggered independently.
			if _, enqErr := q.EnqueueEmbedding(job.DocumentID, job.OrgID); enqErr != nil {
				log.Error("could not enqueue embedding after extraction", "error", enqErr)
			}
		}
		return
	}

	if q.retry.ShouldRetry(err, job.Attempt) {
		delay := q.retry.Backoff(job.Attempt)
		log.Warn("job failed, scheduling retry", "error", err, "backoff", delay)
		q.tracker.Requeued(job.ID, err.Error())
		q.requeueAfter(ctx, job, delay)
		return
	}

	log.Error("job failed terminally", "error", err)
	q.tracker.Finished(job.ID, err)
}

// requeueAfter re-enqueues the job with an incremented attempt once the
// backoff elapses, unless the queue is shutting down.
func (q *Queue) requeueAfter(ctx context.Context, job Job, delay time.Duration) {
	job.Attempt++
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			q.tracker.Finished(job.ID, ctx.Err())
		case <-timer.C:
			select {
			case q.jobs <- job:
			case <-ctx.Done():
				q.tracker.Finished(job.ID, ctx.Err())
			}
		}
	}()
}
