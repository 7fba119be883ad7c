// Package jobqueue is the durable work queue backing the Raw
// Collector: bounded concurrency, exponential backoff retries, and a
// rate limit shared by all workers. Jobs are held
// in-process behind an interface so a Redis-backed implementation can
// swap in without touching callers.
package jobqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hoppy/ingest/internal/apperrors"
	"github.com/hoppy/ingest/internal/config"
	"github.com/hoppy/ingest/internal/metrics"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusRetrying  Status = "retrying"
)

const backoffBase = 2 * time.Second

// Job is a single unit of queued work.
type Job struct {
	ID          uuid.UUID
	Kind        string
	Payload     interface{}
	Status      Status
	Attempts    int
	MaxAttempts int
	NextRunAt   time.Time
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Handler executes one job. A returned error with
// apperrors.UpstreamError{Permanent: true} skips further retries.
type Handler func(ctx context.Context, job Job) error

// Store persists jobs. MemStore is the default; a Redis-backed store
// satisfies the same interface for multi-instance deployments.
type Store interface {
	Enqueue(job Job) error
	Dequeue(now time.Time, kinds []string) (Job, bool, error)
	Update(job Job) error
	Stats() map[Status]int
}

// Queue runs a fixed worker pool pulling from Store, dispatching to
// per-kind Handlers, and retrying failures with exponential backoff.
type Queue struct {
	store   Store
	logger  zerolog.Logger
	metrics *metrics.Registry

	concurrency int
	maxAttempts int
	rateLimit   *rateLimiter

	mu       sync.RWMutex
	handlers map[string]Handler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Queue with cfg's concurrency/attempt limits and a
// single 10/sec rate limit shared by all workers.
func New(cfg *config.Config, store Store, logger zerolog.Logger, reg *metrics.Registry) *Queue {
	return &Queue{
		store:       store,
		logger:      logger.With().Str("component", "jobqueue").Logger(),
		metrics:     reg,
		concurrency: cfg.JobQueueConcurrency,
		maxAttempts: cfg.JobQueueMaxAttempts,
		rateLimit:   newRateLimiter(10, time.Second),
		handlers:    make(map[string]Handler),
	}
}

// RegisterHandler wires kind to h. Must be called before Start.
func (q *Queue) RegisterHandler(kind string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
}

// Enqueue adds a new job in the pending state.
func (q *Queue) Enqueue(kind string, payload interface{}) (Job, error) {
	now := time.Now()
	job := Job{
		ID:          uuid.New(),
		Kind:        kind,
		Payload:     payload,
		Status:      StatusPending,
		MaxAttempts: q.maxAttempts,
		NextRunAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := q.store.Enqueue(job); err != nil {
		return Job{}, apperrors.NewPersistence("enqueue", err)
	}
	return job, nil
}

// EnqueueBulk stages many jobs of the same kind, staggering each
// NextRunAt by 1 second so a large bulk import doesn't slam the
// upstream source all at once.
func (q *Queue) EnqueueBulk(kind string, payloads []interface{}) ([]Job, error) {
	now := time.Now()
	jobs := make([]Job, 0, len(payloads))
	for i, p := range payloads {
		job := Job{
			ID:          uuid.New(),
			Kind:        kind,
			Payload:     p,
			Status:      StatusPending,
			MaxAttempts: q.maxAttempts,
			NextRunAt:   now.Add(time.Duration(i) * time.Second),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := q.store.Enqueue(job); err != nil {
			return jobs, apperrors.NewPersistence("enqueue_bulk", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Start launches the fixed worker pool. Call Stop to shut it down.
func (q *Queue) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel

	q.logger.Info().Int("concurrency", q.concurrency).Msg("starting job queue workers")

	for i := 0; i < q.concurrency; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

// Stop cancels all workers and waits for in-flight jobs to return.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
	q.logger.Info().Msg("job queue workers stopped")
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.rateLimit.Wait(ctx)
			q.tryRunOne(ctx)
		}
	}
}

func (q *Queue) kinds() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	kinds := make([]string, 0, len(q.handlers))
	for k := range q.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}

func (q *Queue) tryRunOne(ctx context.Context) {
	job, ok, err := q.store.Dequeue(time.Now(), q.kinds())
	if err != nil {
		q.logger.Error().Err(err).Msg("dequeue failed")
		return
	}
	if !ok {
		return
	}

	q.mu.RLock()
	handler, registered := q.handlers[job.Kind]
	q.mu.RUnlock()
	if !registered {
		q.logger.Error().Str("kind", job.Kind).Msg("no handler registered for job kind")
		return
	}

	job.Status = StatusRunning
	job.Attempts++
	job.UpdatedAt = time.Now()
	_ = q.store.Update(job)

	runErr := handler(ctx, job)
	if runErr == nil {
		job.Status = StatusSucceeded
		job.UpdatedAt = time.Now()
		_ = q.store.Update(job)
		if q.metrics != nil {
			q.metrics.TrackJob(job.Kind, string(StatusSucceeded))
		}
		return
	}

	job.LastError = runErr.Error()

	var upstream *apperrors.UpstreamError
	permanent := errors.As(runErr, &upstream) && upstream.Permanent

	if permanent || job.Attempts >= job.MaxAttempts {
		job.Status = StatusFailed
		job.UpdatedAt = time.Now()
		_ = q.store.Update(job)
		q.logger.Error().Str("kind", job.Kind).Str("jobId", job.ID.String()).Err(runErr).Msg("job failed permanently")
		if q.metrics != nil {
			q.metrics.TrackJob(job.Kind, string(StatusFailed))
		}
		return
	}

	job.Status = StatusRetrying
	job.NextRunAt = time.Now().Add(backoffDuration(job.Attempts))
	job.UpdatedAt = time.Now()
	_ = q.store.Update(job)
	if q.metrics != nil {
		q.metrics.TrackJob(job.Kind, string(StatusRetrying))
	}
}

func backoffDuration(attempt int) time.Duration {
	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Stats returns a count of jobs per status, for the queue-stats API.
func (q *Queue) Stats() map[Status]int {
	return q.store.Stats()
}
