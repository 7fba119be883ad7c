package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisJobsKey     = "ingest:jobqueue:jobs"     // hash: job id -> jobRecord JSON
	redisScheduleKey = "ingest:jobqueue:schedule" // zset: job id, score NextRunAt unix
)

// PayloadCodec rebuilds a job's concrete Payload type from its raw
// JSON bytes given the job's Kind. A Job crossing Redis loses its Go
// type the way any process boundary does; RegisterHandler's type
// assertions on job.Payload only hold up if the caller supplies a
// codec that knows how to reconstruct each Kind's payload struct.
type PayloadCodec func(kind string, raw []byte) (interface{}, error)

// jobRecord is Job's wire shape: Payload kept as raw JSON until a
// PayloadCodec can restore its concrete type.
type jobRecord struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Status      Status          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	NextRunAt   time.Time       `json:"nextRunAt"`
	LastError   string          `json:"lastError"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// RedisStore is a Store backed by Redis: a hash of job records plus a
// sorted set scheduling them by NextRunAt, so the queue survives a
// restart and multiple ingestd instances can share one backlog.
type RedisStore struct {
	client *redis.Client
	decode PayloadCodec
}

// NewRedisStore builds a RedisStore. decode must know how to turn the
// raw JSON for every Kind ever enqueued back into its concrete Go
// type; an unrecognized Kind is a programmer error in the caller's
// codec, not a runtime condition this store can recover from.
func NewRedisStore(client *redis.Client, decode PayloadCodec) *RedisStore {
	return &RedisStore{client: client, decode: decode}
}

func toRecord(job Job) (jobRecord, error) {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return jobRecord{}, fmt.Errorf("marshal job payload: %w", err)
	}
	return jobRecord{
		ID:          job.ID.String(),
		Kind:        job.Kind,
		Payload:     payload,
		Status:      job.Status,
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		NextRunAt:   job.NextRunAt,
		LastError:   job.LastError,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}, nil
}

func (s *RedisStore) fromRecord(rec jobRecord) (Job, error) {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return Job{}, fmt.Errorf("parse job id: %w", err)
	}
	payload, err := s.decode(rec.Kind, rec.Payload)
	if err != nil {
		return Job{}, fmt.Errorf("decode payload for kind %q: %w", rec.Kind, err)
	}
	return Job{
		ID:          id,
		Kind:        rec.Kind,
		Payload:     payload,
		Status:      rec.Status,
		Attempts:    rec.Attempts,
		MaxAttempts: rec.MaxAttempts,
		NextRunAt:   rec.NextRunAt,
		LastError:   rec.LastError,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}, nil
}

func (s *RedisStore) save(ctx context.Context, job Job) error {
	rec, err := toRecord(job)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, redisJobsKey, rec.ID, data)
	pipe.ZAdd(ctx, redisScheduleKey, redis.Z{Score: float64(job.NextRunAt.Unix()), Member: rec.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Enqueue(job Job) error {
	return s.save(context.Background(), job)
}

func (s *RedisStore) Update(job Job) error {
	return s.save(context.Background(), job)
}

// Dequeue scans the schedule up to now for the first job matching one
// of kinds and still pending/retrying. It does not claim the job
// itself — callers call Update once they start running it, the same
// contract MemStore follows.
func (s *RedisStore) Dequeue(now time.Time, kinds []string) (Job, bool, error) {
	ctx := context.Background()
	wanted := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		wanted[k] = true
	}

	ids, err := s.client.ZRangeByScore(ctx, redisScheduleKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.Unix()),
		Count: 50,
	}).Result()
	if err != nil {
		return Job{}, false, fmt.Errorf("scan schedule: %w", err)
	}

	for _, id := range ids {
		raw, err := s.client.HGet(ctx, redisJobsKey, id).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return Job{}, false, fmt.Errorf("load job record: %w", err)
		}

		var rec jobRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return Job{}, false, fmt.Errorf("unmarshal job record: %w", err)
		}
		if rec.Status != StatusPending && rec.Status != StatusRetrying {
			continue
		}
		if len(wanted) > 0 && !wanted[rec.Kind] {
			continue
		}

		job, err := s.fromRecord(rec)
		if err != nil {
			return Job{}, false, err
		}
		return job, true, nil
	}
	return Job{}, false, nil
}

// Stats counts jobs per status across the whole hash. Fine for the
// moderate job volumes this pipeline deals with; a busier deployment
// would keep running counters instead of scanning on every call.
func (s *RedisStore) Stats() map[Status]int {
	ctx := context.Background()
	out := make(map[Status]int)

	raws, err := s.client.HGetAll(ctx, redisJobsKey).Result()
	if err != nil {
		return out
	}
	for _, raw := range raws {
		var rec jobRecord
		if json.Unmarshal([]byte(raw), &rec) != nil {
			continue
		}
		out[rec.Status]++
	}
	return out
}
