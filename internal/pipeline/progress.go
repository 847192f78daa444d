package pipeline

import (
	"sync"
	"time"
)

// JobKind identifies the pipeline stage a job runs.
type JobKind string

const (
	KindExtraction JobKind = "extraction"
	KindEmbedding  JobKind = "embedding"
)

// Job states: queued -> running -> (succeeded | failed). A failed job stays
// visible after retry exhaustion; it never silently disappears.
const (
	StateQueued    = "queued"
	StateRunning   = "running"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
)

// JobStatus is the observable state of one pipeline job. Progress is a
// coarse 0-100 checkpoint stream any polling UI can consume.
type JobStatus struct {
	ID          string    `json:"id"`
	Kind        JobKind   `json:"kind"`
	DocumentID  string    `json:"document_id"`
	OrgID       string    `json:"org_id"`
	State       string    `json:"state"`
	Progress    int       `json:"progress"`
	Attempt     int       `json:"attempt"`
	Error       string    `json:"error,omitempty"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Tracker manages pipeline jobs in memory and notifies subscribers on every
// update.
type Tracker struct {
	mu   sync.RWMutex
	jobs map[string]*JobStatus
	subs map[string][]chan JobStatus
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		jobs: make(map[string]*JobStatus),
		subs: make(map[string][]chan JobStatus),
	}
}

// Create registers a queued job.
func (t *Tracker) Create(id string, kind JobKind, documentID, orgID string) {
	t.mu.Lock()
	t.jobs[id] = &JobStatus{
		ID:         id,
		Kind:       kind,
		DocumentID: documentID,
		OrgID:      orgID,
		State:      StateQueued,
		EnqueuedAt: time.Now(),
	}
	t.mu.Unlock()
	t.notify(id)
}

// Started marks the job running on the given attempt.
func (t *Tracker) Started(id string, attempt int) {
	t.mu.Lock()
	if job, ok := t.jobs[id]; ok {
		job.State = StateRunning
		job.Attempt = attempt
		job.StartedAt = time.Now()
		job.Error = ""
	}
	t.mu.Unlock()
	t.notify(id)
}

// SetProgress records a checkpoint in [0,100].
func (t *Tracker) SetProgress(id string, pct int) {
	t.mu.Lock()
	if job, ok := t.jobs[id]; ok {
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		job.Progress = pct
	}
	t.mu.Unlock()
	t.notify(id)
}

// Requeued moves a failed attempt back into the queued state for a retry.
func (t *Tracker) Requeued(id string, errMsg string) {
	t.mu.Lock()
	if job, ok := t.jobs[id]; ok {
		job.State = StateQueued
		job.Error = errMsg
	}
	t.mu.Unlock()
	t.notify(id)
}

// Finished marks the job's terminal state. err may be nil.
func (t *Tracker) Finished(id string, err error) {
	t.mu.Lock()
	if job, ok := t.jobs[id]; ok {
		job.CompletedAt = time.Now()
		if err != nil {
			job.State = StateFailed
			job.Error = err.Error()
		} else {
			job.State = StateSucceeded
			job.Progress = 100
		}
	}
	t.mu.Unlock()
	t.notify(id)
}

// Get returns a snapshot of the job status.
func (t *Tracker) Get(id string) (JobStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.jobs[id]
	if !ok {
		return JobStatus{}, false
	}
	return *job, true
}

// Subscribe returns a channel receiving status snapshots for the job.
func (t *Tracker) Subscribe(id string) chan JobStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan JobStatus, 16)
	t.subs[id] = append(t.subs[id], ch)
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (t *Tracker) Unsubscribe(id string, ch chan JobStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	subs := t.subs[id]
	for i, s := range subs {
		if s == ch {
			t.subs[id] = append(subs[:i], subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (t *Tracker) notify(id string) {
	t.mu.RLock()
	job, ok := t.jobs[id]
	if !ok {
		t.mu.RUnlock()
		return
	}
	snapshot := *job
	subs := append([]chan JobStatus(nil), t.subs[id]...)
	t.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- snapshot:
		default: // slow subscriber drops updates rather than blocking workers
		}
	}
}
