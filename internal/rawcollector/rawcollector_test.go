package rawcollector_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/ioutil"
	"net/http"
	"testing"

	"github.com/rs/zerolog"

	"github.com/hoppy/ingest/internal/apperrors"
	"github.com/hoppy/ingest/internal/eventbus"
	"github.com/hoppy/ingest/internal/jobqueue"
	"github.com/hoppy/ingest/internal/metrics"
	"github.com/hoppy/ingest/internal/model"
	"github.com/hoppy/ingest/internal/rawcollector"
)

type fakeDoer struct {
	respBody   string
	statusCode int
}

func (f fakeDoer) Do(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: f.statusCode,
		Body:       ioutil.NopCloser(bytes.NewBufferString(f.respBody)),
	}, nil
}

func TestResolveCityKnownCity(t *testing.T) {
	lat, lng, err := rawcollector.ResolveCity("New York")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lat == 0 || lng == 0 {
		t.Fatalf("expected non-zero coordinates for a known city")
	}
}

func TestResolveCityUnknownCity(t *testing.T) {
	if _, _, err := rawcollector.ResolveCity("Nowhereville"); err == nil {
		t.Fatalf("expected an error for an unregistered city")
	}
}

func TestGoogleSourceSearchNearbyParsesResults(t *testing.T) {
	body, _ := json.Marshal(map[string]interface{}{
		"results": []map[string]interface{}{
			{"place_id": "abc123"},
			{"place_id": "def456"},
		},
	})
	src := &rawcollector.GoogleSource{APIKey: "test-key", Client: fakeDoer{respBody: string(body), statusCode: 200}}

	ids, err := src.SearchNearby(context.Background(), rawcollector.SearchNearbyArgs{Latitude: 40.7, Longitude: -74.0, RadiusM: 1000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 place IDs, got %d", len(ids))
	}
}

func TestGoogleSourceMissingAPIKeyIsPermanent(t *testing.T) {
	src := &rawcollector.GoogleSource{APIKey: "", Client: fakeDoer{}}
	_, err := src.SearchNearby(context.Background(), rawcollector.SearchNearbyArgs{})
	if err == nil {
		t.Fatalf("expected an error for a missing API key")
	}
	var upstream *apperrors.UpstreamError
	if !errors.As(err, &upstream) || !upstream.Permanent {
		t.Fatalf("expected a permanent UpstreamError, got %T: %v", err, err)
	}
}

func TestYelpSourceRateLimitMapsToRateLimitError(t *testing.T) {
	src := &rawcollector.YelpSource{APIKey: "test-key", Client: fakeDoer{statusCode: http.StatusTooManyRequests, respBody: "{}"}}
	_, err := src.SearchNearby(context.Background(), rawcollector.SearchNearbyArgs{})
	if err == nil {
		t.Fatalf("expected a rate limit error")
	}
	var rateLimited *apperrors.RateLimitError
	if !errors.As(err, &rateLimited) {
		t.Fatalf("expected a RateLimitError, got %T: %v", err, err)
	}
}

func TestCollectorPublishesRawCollectedOnPlaceDetails(t *testing.T) {
	log := zerolog.New(io.Discard)
	bus := eventbus.New(log, metrics.New(log))

	received := make(chan model.RawBusiness, 1)
	bus.Subscribe(eventbus.EventRawCollected, func(ctx context.Context, ev eventbus.Event) error {
		received <- ev.Payload.(model.RawBusiness)
		return nil
	})

	registry := rawcollector.NewRegistry()
	body, _ := json.Marshal(map[string]interface{}{"result": map[string]interface{}{"name": "Test Bar"}})
	registry.Register(&rawcollector.GoogleSource{APIKey: "test-key", Client: fakeDoer{respBody: string(body), statusCode: 200}})

	var upserted model.RawBusiness
	collector := rawcollector.New(registry, bus, log, func(ctx context.Context, raw model.RawBusiness) error {
		upserted = raw
		return nil
	})

	q := jobqueue.New(testConfig(), jobqueue.NewMemStore(), log, metrics.New(log))
	collector.RegisterJobHandlers(q)

	job := jobqueue.Job{
		Kind:        rawcollector.JobPlaceDetails,
		Payload:     rawcollector.PlaceDetailsJob{Source: model.SourceGoogle, SourceID: "abc123"},
		MaxAttempts: 1,
	}

	// Directly invoke the handler registration path is internal; use
	// the queue to exercise it end-to-end instead.
	q.Start()
	if _, err := q.Enqueue(job.Kind, job.Payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case raw := <-received:
		if raw.SourceID != "abc123" {
			t.Fatalf("expected SourceID abc123, got %q", raw.SourceID)
		}
	case <-timeoutCh():
		t.Fatalf("timed out waiting for raw.collected event")
	}
	q.Stop()

	if upserted.SourceID != "abc123" {
		t.Fatalf("expected upsert callback to receive the raw business")
	}
}
