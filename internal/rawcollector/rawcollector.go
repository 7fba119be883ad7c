// Package rawcollector is the Raw Collector: per-source connectors
// registered the way provider.Registry registers LLM providers,
// driven by jobqueue jobs instead of inbound HTTP requests.
package rawcollector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hoppy/ingest/internal/apperrors"
	"github.com/hoppy/ingest/internal/eventbus"
	"github.com/hoppy/ingest/internal/jobqueue"
	"github.com/hoppy/ingest/internal/model"
)

// SearchNearbyArgs parameterizes a city-level sweep job.
type SearchNearbyArgs struct {
	Latitude  float64
	Longitude float64
	RadiusM   int
	Category  string
}

// Source is the interface every upstream connector implements.
type Source interface {
	Name() model.Source
	SearchNearby(ctx context.Context, args SearchNearbyArgs) ([]string, error) // returns source IDs
	PlaceDetails(ctx context.Context, sourceID string) (model.RawBusiness, error)
	HealthCheck(ctx context.Context) HealthStatus
}

// HealthStatus mirrors the provider package's health contract.
type HealthStatus struct {
	Healthy   bool
	Latency   time.Duration
	LastCheck time.Time
	Error     string
}

// Registry holds every registered Source, keyed by model.Source.
type Registry struct {
	mu      sync.RWMutex
	sources map[model.Source]Source
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[model.Source]Source)}
}

// Register adds a Source.
func (r *Registry) Register(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[s.Name()] = s
}

// Get returns the Source registered for name.
func (r *Registry) Get(name model.Source) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[name]
	return s, ok
}

// List returns every registered source name.
func (r *Registry) List() []model.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Source, 0, len(r.sources))
	for name := range r.sources {
		out = append(out, name)
	}
	return out
}

// HealthCheckAll runs HealthCheck on every registered source
// concurrently.
func (r *Registry) HealthCheckAll(ctx context.Context) map[model.Source]HealthStatus {
	r.mu.RLock()
	sources := make(map[model.Source]Source, len(r.sources))
	for k, v := range r.sources {
		sources[k] = v
	}
	r.mu.RUnlock()

	results := make(map[model.Source]HealthStatus, len(sources))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, s := range sources {
		wg.Add(1)
		go func(n model.Source, src Source) {
			defer wg.Done()
			status := src.HealthCheck(ctx)
			mu.Lock()
			results[n] = status
			mu.Unlock()
		}(name, s)
	}
	wg.Wait()
	return results
}

// Job kinds dispatched through the job queue.
const (
	JobSearchNearby = "rawcollector.search_nearby"
	JobPlaceDetails = "rawcollector.place_details"
)

// Collector wires the Registry to the job queue and publishes
// raw.collected once a record is fetched and upserted.
type Collector struct {
	registry *Registry
	bus      *eventbus.Bus
	logger   zerolog.Logger
	upsert   func(ctx context.Context, raw model.RawBusiness) error
	queue    *jobqueue.Queue
}

// New builds a Collector. upsert persists the RawBusiness (typically
// the Repository's raw-document table).
func New(registry *Registry, bus *eventbus.Bus, logger zerolog.Logger, upsert func(ctx context.Context, raw model.RawBusiness) error) *Collector {
	return &Collector{
		registry: registry,
		bus:      bus,
		logger:   logger.With().Str("component", "rawcollector").Logger(),
		upsert:   upsert,
	}
}

// RegisterJobHandlers wires the collector's job kinds into q. Each
// search_nearby job that discovers candidate source IDs enqueues a
// place_details follow-up job per ID on the same queue.
func (c *Collector) RegisterJobHandlers(q *jobqueue.Queue) {
	c.queue = q
	q.RegisterHandler(JobSearchNearby, c.handleSearchNearby)
	q.RegisterHandler(JobPlaceDetails, c.handlePlaceDetails)
}

// SearchNearbyJob is the payload enqueued for a city sweep.
type SearchNearbyJob struct {
	Source model.Source
	Args   SearchNearbyArgs
}

// PlaceDetailsJob is the payload enqueued for a single source ID
// fetch, typically follow-up work from a SearchNearbyJob.
type PlaceDetailsJob struct {
	Source   model.Source
	SourceID string
}

func (c *Collector) handleSearchNearby(ctx context.Context, job jobqueue.Job) error {
	payload, ok := job.Payload.(SearchNearbyJob)
	if !ok {
		return apperrors.NewValidation("payload", "unexpected payload for search_nearby job")
	}

	src, ok := c.registry.Get(payload.Source)
	if !ok {
		return apperrors.NewUpstream(string(payload.Source), "source not registered", true)
	}

	ids, err := src.SearchNearby(ctx, payload.Args)
	if err != nil {
		return wrapUpstream(payload.Source, err)
	}

	c.logger.Info().Str("source", string(payload.Source)).Int("count", len(ids)).Msg("search_nearby discovered candidates")

	if c.queue != nil {
		payloads := make([]interface{}, len(ids))
		for i, id := range ids {
			payloads[i] = PlaceDetailsJob{Source: payload.Source, SourceID: id}
		}
		if _, err := c.queue.EnqueueBulk(JobPlaceDetails, payloads); err != nil {
			return apperrors.NewPersistence("enqueue_place_details", err)
		}
	}
	return nil
}

func (c *Collector) handlePlaceDetails(ctx context.Context, job jobqueue.Job) error {
	payload, ok := job.Payload.(PlaceDetailsJob)
	if !ok {
		return apperrors.NewValidation("payload", "unexpected payload for place_details job")
	}

	src, ok := c.registry.Get(payload.Source)
	if !ok {
		return apperrors.NewUpstream(string(payload.Source), "source not registered", true)
	}

	raw, err := src.PlaceDetails(ctx, payload.SourceID)
	if err != nil {
		return wrapUpstream(payload.Source, err)
	}

	if err := c.upsert(ctx, raw); err != nil {
		return apperrors.NewPersistence("upsert_raw_business", err)
	}

	c.bus.Publish(ctx, eventbus.Event{Name: eventbus.EventRawCollected, Payload: raw})
	return nil
}

func wrapUpstream(source model.Source, err error) error {
	var upstream *apperrors.UpstreamError
	if errors.As(err, &upstream) {
		return upstream
	}
	return apperrors.NewUpstream(string(source), fmt.Sprintf("%v", err), false)
}
