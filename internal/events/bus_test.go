package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestEventBus_EmitReachesSubscribers(t *testing.T) {
	bus := NewEventBus()
	var calls atomic.Int32
	bus.SubscribeMany([]EventType{EventConnectionAccepted, EventConnectionClosed}, "counter",
		func(ctx context.Context, e Event) error {
			calls.Add(1)
			return nil
		})

	bus.Emit(context.Background(), Event{Type: EventConnectionAccepted})
	bus.Emit(context.Background(), Event{Type: EventConnectionClosed})
	bus.Emit(context.Background(), Event{Type: EventChatMessage})
	bus.Wait()

	if got := calls.Load(); got != 2 {
		t.Errorf("handler called %d times, want 2", got)
	}
}

func TestEventBus_EmitSyncReturnsFirstError(t *testing.T) {
	bus := NewEventBus()
	boom := errors.New("boom")
	bus.Subscribe(EventShutdown, "fails", func(ctx context.Context, e Event) error { return boom })
	bus.Subscribe(EventShutdown, "panics", func(ctx context.Context, e Event) error { panic("bad handler") })

	if err := bus.EmitSync(context.Background(), Event{Type: EventShutdown}); !errors.Is(err, boom) {
		t.Errorf("EmitSync() = %v, want boom", err)
	}
}

func TestEventBus_UnsubscribeAndStop(t *testing.T) {
	bus := NewEventBus()
	var calls atomic.Int32
	handler := func(ctx context.Context, e Event) error {
		calls.Add(1)
		return nil
	}
	bus.Subscribe(EventChatMessage, "a", handler)
	bus.Subscribe(EventChatMessage, "b", handler)
	bus.Unsubscribe(EventChatMessage, "a")
	if bus.HandlerCount(EventChatMessage) != 1 {
		t.Fatalf("HandlerCount() = %d, want 1", bus.HandlerCount(EventChatMessage))
	}

	bus.Stop()
	bus.Emit(context.Background(), Event{Type: EventChatMessage})
	bus.Wait()
	if calls.Load() != 0 {
		t.Errorf("handler ran after Stop")
	}
}
