package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/wormnet-project/wormnet/internal/config"
	"github.com/wormnet-project/wormnet/internal/events"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (doneToken) Error() error { return nil }

type message struct {
	topic string
	body  map[string]interface{}
}

type fakeBroker struct {
	mu        sync.Mutex
	connected bool
	msgs      []message
}

func (b *fakeBroker) IsConnected() bool { return b.connected }

func (b *fakeBroker) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	var body map[string]interface{}
	json.Unmarshal(payload.([]byte), &body)
	b.mu.Lock()
	b.msgs = append(b.msgs, message{topic: topic, body: body})
	b.mu.Unlock()
	return doneToken{}
}

func newTestHandler(connected bool) (*MQTTHandler, *fakeBroker, *events.EventBus) {
	broker := &fakeBroker{connected: connected}
	bus := events.NewEventBus()
	cfg := config.MQTTConfig{Enabled: true, TopicPrefix: "wormnet"}
	h := newHandler(cfg, bus, broker, map[string]interface{}{"server": "arena"})
	h.subscribeEvents()
	return h, broker, bus
}

func TestNewMQTTHandler_Disabled(t *testing.T) {
	if _, err := NewMQTTHandler(config.MQTTConfig{}, "arena", events.NewEventBus()); !errors.Is(err, ErrDisabled) {
		t.Errorf("NewMQTTHandler() = %v, want ErrDisabled", err)
	}
}

func TestPublishesEventsToTopics(t *testing.T) {
	_, broker, bus := newTestHandler(true)
	ctx := context.Background()

	bus.Emit(ctx, events.Event{Type: events.EventConnectionClosed, Payload: events.ConnectionPayload{Slot: 2, Reason: events.ReasonKicked}})
	bus.Emit(ctx, events.Event{Type: events.EventChatMessage, Payload: events.ChatPayload{Slot: 1, Text: "gg"}})
	bus.Emit(ctx, events.Event{Type: events.EventHeartbeat, Payload: events.HeartbeatPayload{Connections: 3}})
	bus.Wait()

	broker.mu.Lock()
	defer broker.mu.Unlock()
	byTopic := make(map[string]map[string]interface{})
	for _, m := range broker.msgs {
		byTopic[m.topic] = m.body
	}
	if len(byTopic) != 3 {
		t.Fatalf("published to %v", byTopic)
	}

	conn := byTopic["wormnet/connections"]
	if conn["server"] != "arena" || conn["timestamp"] == nil {
		t.Errorf("metadata missing: %v", conn)
	}
	inner := conn["payload"].(map[string]interface{})
	if inner["event"] != "connection_closed" {
		t.Errorf("connection event = %v", inner["event"])
	}
	if reason := inner["connection"].(map[string]interface{})["reason"]; reason != "kicked" {
		t.Errorf("reason = %v", reason)
	}

	chat := byTopic["wormnet/chat"]["payload"].(map[string]interface{})
	if chat["text"] != "gg" {
		t.Errorf("chat payload = %v", chat)
	}
	status := byTopic["wormnet/status"]["payload"].(map[string]interface{})
	if status["connections"] != float64(3) {
		t.Errorf("status payload = %v", status)
	}
}

func TestPublish_SkipsWhenDisconnected(t *testing.T) {
	h, broker, _ := newTestHandler(false)
	h.PublishShutdown()
	if len(broker.msgs) != 0 {
		t.Errorf("published %d messages while disconnected", len(broker.msgs))
	}
}

func TestTopic_NoPrefix(t *testing.T) {
	h := newHandler(config.MQTTConfig{}, nil, nil, nil)
	if got := h.topic(TopicChat); got != "chat" {
		t.Errorf("topic() = %q, want chat", got)
	}
}
