package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arturoeanton/go-git-rag/internal/domain"
	"github.com/arturoeanton/go-git-rag/internal/metrics"
	"github.com/arturoeanton/go-git-rag/internal/port"
)

// Indexer ingests a batch of commits.
type Indexer interface {
	IndexCommits(ctx context.Context, hashes []string, progress ProgressFunc) domain.IndexReport
}

// IngestConfig sizes the worker pool.
type IngestConfig struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration

	// OnFailure is called for every commit that fails. Defaults to an error log.
	OnFailure func(jobID, hash string, err error)
}

type ingestJob struct {
	id     string
	hashes []string
}

// IngestQueue runs ingestion in the background on a fixed pool of workers.
// Submit only enqueues; progress and failures are visible through the tracker,
// metrics and logs.
type IngestQueue struct {
	indexer Indexer
	tracker *JobTracker
	cfg     IngestConfig
	metrics *metrics.Metrics
	logger  *slog.Logger

	jobs chan ingestJob
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewIngestQueue starts cfg.Workers workers.
func NewIngestQueue(indexer Indexer, tracker *JobTracker, cfg IngestConfig, m *metrics.Metrics, logger *slog.Logger) *IngestQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OnFailure == nil {
		cfg.OnFailure = func(jobID, hash string, err error) {
			logger.Error("ingest failed", "job_id", jobID, "hash", hash, "error", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &IngestQueue{
		indexer: indexer,
		tracker: tracker,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		jobs:    make(chan ingestJob, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Submit enqueues a batch and returns its job id without waiting for it.
func (q *IngestQueue) Submit(hashes []string) (string, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return "", port.ErrQueueClosed
	}

	unique := dedupe(hashes)
	id := uuid.NewString()
	q.tracker.Create(id, unique)

	select {
	case q.jobs <- ingestJob{id: id, hashes: unique}:
		q.metrics.JobsQueued.Inc()
		q.logger.Info("ingest job queued", "job_id", id, "commits", len(unique))
		return id, nil
	default:
		q.tracker.Remove(id)
		return "", port.ErrQueueFull
	}
}

// Tracker exposes the job tracker backing the queue.
func (q *IngestQueue) Tracker() *JobTracker {
	return q.tracker
}

// Close stops accepting jobs and waits for queued ones to finish. If ctx
// expires first, running jobs are cancelled and Close returns ctx.Err().
func (q *IngestQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func (q *IngestQueue) worker() {
	defer q.wg.Done()
	for job := range q.jobs {
		q.metrics.JobsQueued.Dec()
		q.run(job)
	}
}

func (q *IngestQueue) run(job ingestJob) {
	ctx := q.ctx
	if q.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.cfg.JobTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("ingest job panicked", "job_id", job.id, "panic", r)
			q.tracker.Fail(job.id, fmt.Sprintf("panic: %v", r))
		}
	}()

	q.tracker.Start(job.id)
	start := time.Now()
	report := q.indexer.IndexCommits(ctx, job.hashes, func(hash string, done, total int, err error) {
		q.tracker.Progress(job.id, hash, done)
		if err != nil {
			q.cfg.OnFailure(job.id, hash, err)
		}
	})
	q.tracker.Finish(job.id, report)

	q.logger.Info("ingest job finished",
		"job_id", job.id,
		"indexed", len(report.Indexed),
		"skipped", len(report.Skipped),
		"failed", len(report.Failed),
		"duration", time.Since(start),
	)
}
