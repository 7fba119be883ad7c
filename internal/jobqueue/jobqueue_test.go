package jobqueue_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hoppy/ingest/internal/apperrors"
	"github.com/hoppy/ingest/internal/config"
	"github.com/hoppy/ingest/internal/jobqueue"
	"github.com/hoppy/ingest/internal/metrics"
)

func testQueue(t *testing.T, maxAttempts int) *jobqueue.Queue {
	t.Helper()
	log := zerolog.New(io.Discard)
	cfg := &config.Config{JobQueueConcurrency: 2, JobQueueMaxAttempts: maxAttempts}
	return jobqueue.New(cfg, jobqueue.NewMemStore(), log, metrics.New(log))
}

func waitForStatus(t *testing.T, q *jobqueue.Queue, status jobqueue.Status, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if q.Stats()[status] > 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for a job in status %s, stats: %v", status, q.Stats())
}

func TestEnqueueAndSuccessfulRun(t *testing.T) {
	q := testQueue(t, 3)

	ran := make(chan struct{}, 1)
	q.RegisterHandler("noop", func(ctx context.Context, job jobqueue.Job) error {
		ran <- struct{}{}
		return nil
	})

	q.Start()
	defer q.Stop()

	if _, err := q.Enqueue("noop", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("handler was not invoked in time")
	}

	waitForStatus(t, q, jobqueue.StatusSucceeded, time.Second)
}

func TestPermanentUpstreamErrorSkipsRetry(t *testing.T) {
	q := testQueue(t, 5)

	var attempts int
	q.RegisterHandler("flaky", func(ctx context.Context, job jobqueue.Job) error {
		attempts++
		return apperrors.NewUpstream("google", "permanent failure", true)
	})

	q.Start()
	defer q.Stop()

	if _, err := q.Enqueue("flaky", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitForStatus(t, q, jobqueue.StatusFailed, 2*time.Second)
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a permanent error, got %d", attempts)
	}
}

func TestEnqueueBulkStaggersJobs(t *testing.T) {
	q := testQueue(t, 3)
	jobs, err := q.EnqueueBulk("noop", []interface{}{1, 2, 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(jobs))
	}
	if !jobs[1].NextRunAt.After(jobs[0].NextRunAt) {
		t.Fatalf("expected staggered NextRunAt across bulk-enqueued jobs")
	}
}

func TestStatsReflectsPendingJobs(t *testing.T) {
	q := testQueue(t, 3)
	if _, err := q.Enqueue("noop", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stats := q.Stats()
	if stats[jobqueue.StatusPending] != 1 {
		t.Fatalf("expected 1 pending job, got %d", stats[jobqueue.StatusPending])
	}
}
