package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewEventBus(t *testing.T) {
	bus := NewEventBus(100)
	if bus == nil {
		t.Fatal("NewEventBus returned nil")
	}

	bus2 := NewEventBus(0)
	if bus2.bufferSize != 100 {
		t.Errorf("Expected default buffer size 100, got %d", bus2.bufferSize)
	}
}

func TestEventBus_Subscribe(t *testing.T) {
	bus := NewEventBus(10)

	ch := bus.Subscribe(EventTypeStreamAvailable)

	bus.Publish(Event{
		Type:   EventTypeStreamAvailable,
		Source: "stream-manager",
		Data:   map[string]interface{}{"camera_id": "owner1.dev2"},
	})

	select {
	case received := <-ch:
		if received.Type != EventTypeStreamAvailable {
			t.Errorf("Expected event type %s, got %s", EventTypeStreamAvailable, received.Type)
		}
		if received.Timestamp.IsZero() {
			t.Error("Timestamp should be set on publish")
		}
	case <-time.After(time.Second):
		t.Fatal("Event not received within timeout")
	}
}

func TestEventBus_SubscribeAllReceivesLaterTypes(t *testing.T) {
	bus := NewEventBus(10)
	ch := bus.SubscribeAll()

	bus.Publish(Event{Type: EventTypeLPRMatched, Source: "lpr"})
	bus.Publish(Event{Type: EventTypeStreamUnavailable, Source: "stream-manager"})

	got := map[EventType]bool{}
	timeout := time.After(time.Second)
	for len(got) < 2 {
		select {
		case ev := <-ch:
			got[ev.Type] = true
		case <-timeout:
			t.Fatalf("Expected 2 events, got %d", len(got))
		}
	}
}

func TestEventBus_PublishDoesNotBlockWhenFull(t *testing.T) {
	bus := NewEventBus(1)
	bus.Subscribe(EventTypeThumbnailUpdated)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(Event{Type: EventTypeThumbnailUpdated})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	if got := bus.Dropped(); got != 9 {
		t.Errorf("Expected 9 dropped deliveries, got %d", got)
	}
}

func TestEventBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewEventBus(10)
	ch := bus.Subscribe(EventTypeStreamAvailable)
	all := bus.SubscribeAll()

	bus.Unsubscribe(EventTypeStreamAvailable, ch)
	bus.Unsubscribe("", all)

	if _, ok := <-ch; ok {
		t.Error("Typed channel should be closed")
	}
	if _, ok := <-all; ok {
		t.Error("Wildcard channel should be closed")
	}
}

func TestEventBus_CloseIsIdempotent(t *testing.T) {
	bus := NewEventBus(10)
	ch := bus.Subscribe(EventTypeStreamAvailable)

	bus.Close()
	bus.Close()
	bus.Publish(Event{Type: EventTypeStreamAvailable})

	if _, ok := <-ch; ok {
		t.Error("Channel should be closed after Close")
	}
}

func TestEventBus_SubscribeWithHandler(t *testing.T) {
	bus := NewEventBus(10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handled := make(chan Event, 1)
	failed := make(chan error, 1)
	bus.SubscribeWithHandler(ctx, EventTypeLPRMatched, func(ctx context.Context, event Event) error {
		handled <- event
		return errors.New("publish failed")
	}, func(event Event, err error) {
		failed <- err
	})

	bus.Publish(Event{Type: EventTypeLPRMatched, Data: map[string]interface{}{"license_plate": "ab12cde"}})

	select {
	case ev := <-handled:
		if ev.Data["license_plate"] != "ab12cde" {
			t.Errorf("Unexpected event data: %v", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("Handler not called")
	}

	select {
	case err := <-failed:
		if err.Error() != "publish failed" {
			t.Errorf("Unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Error callback not called")
	}
}
