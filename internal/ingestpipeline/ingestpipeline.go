// Package ingestpipeline is the composition root's event wiring: it
// subscribes the Standardizer, the Deduplicator, and the Photo
// Processor onto the Bus so that one raw.collected publication drives
// the whole Raw Collection -> Standardization -> Deduplication ->
// Photo Materialization chain, the same way the gateway's main.go
// wires providers into the registry instead of calling them directly.
package ingestpipeline

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/hoppy/ingest/internal/apperrors"
	"github.com/hoppy/ingest/internal/dedup"
	"github.com/hoppy/ingest/internal/eventbus"
	"github.com/hoppy/ingest/internal/model"
	"github.com/hoppy/ingest/internal/photos"
	"github.com/hoppy/ingest/internal/standardize"
)

// DeduplicatedPayload is published on eventbus.EventDeduplicated,
// carrying the same (businessId, action, confidence) shape the
// Deduplicator records the decision with.
type DeduplicatedPayload struct {
	Business   model.Business
	Action     dedup.Decision
	Confidence float64
}

// Pipeline holds the stages driven off the bus. Nothing outside this
// package calls Standardizer/Deduplicator/Processor directly once
// Wire has run — the bus is the only path a raw record takes to
// becoming a photographed, deduplicated Business.
type Pipeline struct {
	bus          *eventbus.Bus
	standardizer *standardize.Standardizer
	deduplicator *dedup.Deduplicator
	photos       *photos.Processor
	logger       zerolog.Logger
}

// New builds a Pipeline. Wire must be called once to subscribe it to bus.
func New(bus *eventbus.Bus, standardizer *standardize.Standardizer, deduplicator *dedup.Deduplicator, photoProcessor *photos.Processor, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		bus:          bus,
		standardizer: standardizer,
		deduplicator: deduplicator,
		photos:       photoProcessor,
		logger:       logger.With().Str("component", "ingestpipeline").Logger(),
	}
}

// Wire subscribes every stage onto the bus. Call once during startup.
func (p *Pipeline) Wire() {
	p.bus.Subscribe(eventbus.EventRawCollected, p.handleRawCollected)
	p.bus.Subscribe(eventbus.EventDeduplicated, p.handleDeduplicated)
}

func (p *Pipeline) handleRawCollected(ctx context.Context, ev eventbus.Event) error {
	raw, ok := ev.Payload.(model.RawBusiness)
	if !ok {
		return apperrors.NewValidation("payload", "raw.collected event payload was not a model.RawBusiness")
	}

	sb, err := p.standardizer.Standardize(raw)
	if err != nil {
		return err
	}
	p.bus.Publish(ctx, eventbus.Event{Name: eventbus.EventStandardized, Payload: sb})

	result, err := p.deduplicator.Evaluate(ctx, sb)
	if err != nil {
		return err
	}

	business, _, err := p.deduplicator.Apply(ctx, sb, result)
	if err != nil {
		return err
	}

	p.bus.Publish(ctx, eventbus.Event{
		Name:    eventbus.EventDeduplicated,
		Payload: DeduplicatedPayload{Business: business, Action: result.Decision, Confidence: result.Confidence},
	})

	candidates := PhotoCandidates(raw)
	if len(candidates) > 0 {
		if _, err := p.photos.ProcessBusiness(ctx, business.ID, candidates); err != nil {
			p.logger.Warn().Err(err).Str("businessId", business.ID.String()).Msg("photo processing failed")
		}
	}
	return nil
}

func (p *Pipeline) handleDeduplicated(ctx context.Context, ev eventbus.Event) error {
	payload, ok := ev.Payload.(DeduplicatedPayload)
	if !ok {
		return apperrors.NewValidation("payload", "deduplicated event payload was not a DeduplicatedPayload")
	}
	p.logger.Debug().Str("businessId", payload.Business.ID.String()).Str("action", string(payload.Action)).Float64("confidence", payload.Confidence).Msg("business deduplicated")
	return nil
}
