package service

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/arturoeanton/go-git-rag/internal/domain"
)

// Job states.
const (
	JobQueued   = "queued"
	JobRunning  = "running"
	JobComplete = "complete"
	JobError    = "error"
)

// Job is a snapshot of an ingest job.
type Job struct {
	ID          string              `json:"id"`
	Status      string              `json:"status"`
	Commits     []string            `json:"commits"`
	Progress    int                 `json:"progress"`
	Total       int                 `json:"total"`
	Current     string              `json:"current_commit,omitempty"`
	Report      *domain.IndexReport `json:"report,omitempty"`
	Error       string              `json:"error,omitempty"`
	QueuedAt    time.Time           `json:"queued_at"`
	CompletedAt time.Time           `json:"completed_at,omitzero"`
}

// Done reports whether the job reached a terminal state.
func (j Job) Done() bool {
	return j.Status == JobComplete || j.Status == JobError
}

// JobTracker keeps ingest jobs in memory and fans updates out to subscribers.
// Finished jobs are forgotten after the retention period.
type JobTracker struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	subs      map[string][]chan Job // subscribers per job
	retention time.Duration
	now       func() time.Time
}

// NewJobTracker creates a new job tracker. A zero retention keeps jobs for an hour.
func NewJobTracker(retention time.Duration) *JobTracker {
	if retention <= 0 {
		retention = time.Hour
	}
	return &JobTracker{
		jobs:      make(map[string]*Job),
		subs:      make(map[string][]chan Job),
		retention: retention,
		now:       time.Now,
	}
}

// Create registers a queued job.
func (t *JobTracker) Create(id string, commits []string) Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked()

	job := &Job{
		ID:       id,
		Status:   JobQueued,
		Commits:  slices.Clone(commits),
		Total:    len(commits),
		QueuedAt: t.now(),
	}
	t.jobs[id] = job
	return *job
}

// Start marks a job as running.
func (t *JobTracker) Start(id string) {
	t.update(id, func(j *Job) { j.Status = JobRunning })
}

// Progress records that done commits of the job have been handled.
func (t *JobTracker) Progress(id, hash string, done int) {
	t.update(id, func(j *Job) {
		j.Progress = done
		j.Current = hash
	})
}

// Finish stores the final report. A job with failed commits ends in the error state.
func (t *JobTracker) Finish(id string, report domain.IndexReport) {
	t.update(id, func(j *Job) {
		j.Report = &report
		j.Progress = j.Total
		j.Current = ""
		j.Status = JobComplete
		if len(report.Failed) > 0 {
			j.Status = JobError
			j.Error = failedSummary(len(report.Failed), report.Requested)
		}
		j.CompletedAt = t.now()
	})
}

// Fail ends a job with an error message.
func (t *JobTracker) Fail(id, msg string) {
	t.update(id, func(j *Job) {
		j.Status = JobError
		j.Error = msg
		j.CompletedAt = t.now()
	})
}

// Remove forgets a job.
func (t *JobTracker) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, id)
	for _, ch := range t.subs[id] {
		close(ch)
	}
	delete(t.subs, id)
}

// update applies fn and notifies subscribers. Sends happen under the lock and
// never block; on a terminal state every subscriber channel is closed.
func (t *JobTracker) update(id string, fn func(*Job)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[id]
	if !ok {
		return
	}
	fn(job)
	snapshot := *job

	for _, ch := range t.subs[id] {
		select {
		case ch <- snapshot:
		default:
		}
		if snapshot.Done() {
			close(ch)
		}
	}
	if snapshot.Done() {
		delete(t.subs, id)
	}
}

// Get returns a job snapshot.
func (t *JobTracker) Get(id string) (Job, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Subscribe returns a channel that receives job updates. The channel is closed
// once the job finishes.
func (t *JobTracker) Subscribe(id string) chan Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan Job, 10)
	if job, ok := t.jobs[id]; !ok || job.Done() {
		close(ch)
		return ch
	}
	t.subs[id] = append(t.subs[id], ch)
	return ch
}

// Unsubscribe removes a channel from subscribers.
func (t *JobTracker) Unsubscribe(id string, ch chan Job) {
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

func (t *JobTracker) pruneLocked() {
	cutoff := t.now().Add(-t.retention)
	for id, job := range t.jobs {
		if job.Done() && job.CompletedAt.Before(cutoff) {
			delete(t.jobs, id)
		}
	}
}

func failedSummary(failed, total int) string {
	return fmt.Sprintf("%d of %d commits failed", failed, total)
}
