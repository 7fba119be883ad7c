package eventbus_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"github.com/hoppy/ingest/internal/eventbus"
	"github.com/hoppy/ingest/internal/metrics"
)

func newTestBus() *eventbus.Bus {
	log := zerolog.New(io.Discard)
	return eventbus.New(log, metrics.New(log))
}

func TestPublishInvokesAllSubscribersInOrder(t *testing.T) {
	bus := newTestBus()

	var order []int
	bus.Subscribe("x", func(ctx context.Context, ev eventbus.Event) error {
		order = append(order, 1)
		return nil
	})
	bus.Subscribe("x", func(ctx context.Context, ev eventbus.Event) error {
		order = append(order, 2)
		return nil
	})

	bus.Publish(context.Background(), eventbus.Event{Name: "x"})

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected handlers invoked in registration order, got %v", order)
	}
}

func TestHandlerErrorDoesNotBlockSiblings(t *testing.T) {
	bus := newTestBus()

	secondRan := false
	bus.Subscribe("x", func(ctx context.Context, ev eventbus.Event) error {
		return errors.New("boom")
	})
	bus.Subscribe("x", func(ctx context.Context, ev eventbus.Event) error {
		secondRan = true
		return nil
	})

	failures := bus.Publish(context.Background(), eventbus.Event{Name: "x"})

	if !secondRan {
		t.Fatalf("second handler should still run after first handler errors")
	}
	if failures != 1 {
		t.Fatalf("expected 1 reported failure, got %d", failures)
	}
}

func TestHandlerPanicIsIsolated(t *testing.T) {
	bus := newTestBus()

	secondRan := false
	bus.Subscribe("x", func(ctx context.Context, ev eventbus.Event) error {
		panic("kaboom")
	})
	bus.Subscribe("x", func(ctx context.Context, ev eventbus.Event) error {
		secondRan = true
		return nil
	})

	failures := bus.Publish(context.Background(), eventbus.Event{Name: "x"})

	if !secondRan {
		t.Fatalf("sibling handler must run even if an earlier handler panics")
	}
	if failures != 1 {
		t.Fatalf("expected panic to count as a failure, got %d", failures)
	}
}

func TestPublishToUnknownEventIsNoop(t *testing.T) {
	bus := newTestBus()
	failures := bus.Publish(context.Background(), eventbus.Event{Name: "nobody-listens"})
	if failures != 0 {
		t.Fatalf("expected 0 failures for an event with no subscribers, got %d", failures)
	}
}
