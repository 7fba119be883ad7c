// Package eventbus is an explicit, in-process publish/subscribe value
// held by the composition root and passed into each service — the
// re-expression of a global event emitter described in SPEC_FULL.md.
// Handler errors are swallowed to a metric, never propagated to other
// subscribers or back to the publisher.
package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hoppy/ingest/internal/metrics"
)

// Names of the pipeline's four event edges.
const (
	EventRawCollected   = "raw.collected"
	EventStandardized   = "standardized"
	EventDeduplicated   = "deduplicated"
	EventPhotosProcessed = "photos.processed"
)

// Event is a single published message: a name plus an opaque payload.
// Consumers type-assert Payload to the shape they expect.
type Event struct {
	Name    string
	Payload interface{}
}

// Handler processes one event. A returned error is logged and counted
// but never re-raised to the bus or to other handlers.
type Handler func(ctx context.Context, ev Event) error

// Bus is a single-producer-per-event, multi-consumer dispatcher.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   zerolog.Logger
	metrics  *metrics.Registry
}

// New creates an empty Bus.
func New(logger zerolog.Logger, reg *metrics.Registry) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger.With().Str("component", "eventbus").Logger(),
		metrics:  reg,
	}
}

// Subscribe registers a handler for the named event. Order of
// registration is the order of invocation.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// Publish dispatches ev to every handler registered for ev.Name. Each
// handler runs synchronously in registration order; a panicking or
// erroring handler is isolated — it cannot block or fail its
// siblings. Returns the count of handlers that failed (informational
// only; callers should not branch on this to re-run work).
func (b *Bus) Publish(ctx context.Context, ev Event) int {
	b.mu.RLock()
	hs := make([]Handler, len(b.handlers[ev.Name]))
	copy(hs, b.handlers[ev.Name])
	b.mu.RUnlock()

	failures := 0
	for _, h := range hs {
		if b.invoke(ctx, ev, h) != nil {
			failures++
		}
	}
	if b.metrics != nil {
		b.metrics.TrackEvent(ev.Name, failures > 0)
	}
	return failures
}

func (b *Bus) invoke(ctx context.Context, ev Event, h Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			b.logger.Error().Str("event", ev.Name).Err(err).Msg("event handler failed")
		}
	}()
	err = h(ctx, ev)
	return err
}
