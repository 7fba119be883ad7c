package jobqueue_test

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hoppy/ingest/internal/jobqueue"
)

func mustUUID(t *testing.T) uuid.UUID {
	t.Helper()
	return uuid.New()
}

type samplePayload struct {
	BusinessID string
	Attempt    int
}

func testRedisStore(t *testing.T) *jobqueue.RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	decode := func(kind string, raw []byte) (interface{}, error) {
		switch kind {
		case "sample":
			var p samplePayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, err
			}
			return p, nil
		default:
			return nil, fmt.Errorf("unknown kind %q", kind)
		}
	}

	return jobqueue.NewRedisStore(client, decode)
}

func TestRedisStoreEnqueueDequeueRoundTrip(t *testing.T) {
	store := testRedisStore(t)

	job := jobqueue.Job{
		ID:          mustUUID(t),
		Kind:        "sample",
		Payload:     samplePayload{BusinessID: "abc", Attempt: 1},
		Status:      jobqueue.StatusPending,
		MaxAttempts: 3,
		NextRunAt:   time.Now().Add(-time.Second),
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := store.Enqueue(job); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	dequeued, ok, err := store.Dequeue(time.Now(), []string{"sample"})
	if err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}
	if !ok {
		t.Fatal("expected a job to be ready for dequeue")
	}
	payload, ok := dequeued.Payload.(samplePayload)
	if !ok {
		t.Fatalf("expected payload to round-trip as samplePayload, got %T", dequeued.Payload)
	}
	if payload.BusinessID != "abc" || payload.Attempt != 1 {
		t.Fatalf("payload fields did not round-trip: %+v", payload)
	}
}

func TestRedisStoreDequeueFiltersByKindAndSchedule(t *testing.T) {
	store := testRedisStore(t)

	future := jobqueue.Job{
		ID:        mustUUID(t),
		Kind:      "sample",
		Payload:   samplePayload{BusinessID: "future"},
		Status:    jobqueue.StatusPending,
		NextRunAt: time.Now().Add(time.Hour),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	ready := jobqueue.Job{
		ID:        mustUUID(t),
		Kind:      "sample",
		Payload:   samplePayload{BusinessID: "ready"},
		Status:    jobqueue.StatusPending,
		NextRunAt: time.Now().Add(-time.Hour),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := store.Enqueue(future); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := store.Enqueue(ready); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	dequeued, ok, err := store.Dequeue(time.Now(), []string{"sample"})
	if err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}
	if !ok {
		t.Fatal("expected the ready job to be dequeued")
	}
	payload := dequeued.Payload.(samplePayload)
	if payload.BusinessID != "ready" {
		t.Fatalf("expected the past-due job, got %+v", payload)
	}

	if _, ok, err := store.Dequeue(time.Now(), []string{"other-kind"}); err != nil || ok {
		t.Fatalf("expected no match for an unrelated kind, got ok=%v err=%v", ok, err)
	}
}

func TestRedisStoreUpdateThenStats(t *testing.T) {
	store := testRedisStore(t)

	job := jobqueue.Job{
		ID:        mustUUID(t),
		Kind:      "sample",
		Payload:   samplePayload{BusinessID: "x"},
		Status:    jobqueue.StatusPending,
		NextRunAt: time.Now(),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := store.Enqueue(job); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	job.Status = jobqueue.StatusSucceeded
	if err := store.Update(job); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	stats := store.Stats()
	if stats[jobqueue.StatusSucceeded] != 1 {
		t.Fatalf("expected one succeeded job in stats, got %+v", stats)
	}
}
