package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/gsemu-project/gsemu/internal/events"
)

type published struct {
	topic   string
	payload map[string]interface{}
}

type fakePublisher struct {
	mu        sync.Mutex
	connected bool
	messages  []published
}

func (f *fakePublisher) Publish(topic string, payload []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(payload, &m); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, published{topic: topic, payload: m})
	return nil
}

func (f *fakePublisher) IsConnected() bool {
	return f.connected
}

func TestTopic(t *testing.T) {
	tests := []struct {
		prefix string
		source string
		typ    events.EventType
		want   string
	}{
		{"gsemu", events.ServiceRouter, events.EventClientConnected, "gsemu/router/client_connected"},
		{"gsemu", events.ServiceWaitModule, events.EventClientLogin, "gsemu/router/client_login"},
		{"gsemu", events.ServiceCDKey, events.EventCDKeyRequest, "gsemu/cdkey/cdkey_request"},
		{"gsemu", events.ServiceCDKey, events.EventProtocolError, "gsemu/cdkey/protocol_error"},
		{"gsemu", events.ServiceNAT, events.EventNATRequest, "gsemu/gsnat/nat_request"},
		{"gsemu", events.ServiceIRC, events.EventClientConnected, "gsemu/lobby/client_connected"},
		{"gsemu", events.ServiceProxy, events.EventClientDisconnected, "gsemu/lobby/client_disconnected"},
		{"gsemu", events.ServiceSystem, events.EventShutdown, "gsemu/system/shutdown"},
		{"gsemu", "", events.EventShutdown, "gsemu/system/shutdown"},
		{"site/a/", events.ServiceRouter, events.EventHandshakeProgress, "site/a/router/handshake_progress"},
		{"", events.ServiceRouter, events.EventClientDisconnected, "router/client_disconnected"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := Topic(tt.prefix, events.Event{Type: tt.typ, Source: tt.source})
			if got != tt.want {
				t.Fatalf("Topic = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPublishesBusEvents(t *testing.T) {
	pub := &fakePublisher{connected: true}
	bus := events.NewEventBus()
	h := newHandler("gsemu", bus, pub, map[string]interface{}{"hostname": "test-host"})
	h.Subscribe()

	payload := events.LoginPayload{
		ConnectionPayload: events.ConnectionPayload{ConnID: "c-1", Remote: "10.0.0.2:1", Listener: events.ServiceRouter},
		Username:          "sam",
	}
	if err := bus.EmitSync(context.Background(), events.New(events.EventClientLogin, events.ServiceRouter, payload)); err != nil {
		t.Fatalf("EmitSync: %v", err)
	}

	if len(pub.messages) != 1 {
		t.Fatalf("published %d messages", len(pub.messages))
	}
	msg := pub.messages[0]
	if msg.topic != "gsemu/router/client_login" {
		t.Fatalf("topic %s", msg.topic)
	}
	if msg.payload["event"] != "client_login" || msg.payload["source"] != "router" || msg.payload["hostname"] != "test-host" {
		t.Fatalf("message %v", msg.payload)
	}
	inner, ok := msg.payload["payload"].(map[string]interface{})
	if !ok || inner["username"] != "sam" || inner["conn_id"] != "c-1" {
		t.Fatalf("payload %v", msg.payload["payload"])
	}
}

func TestDisconnectedDropsMessages(t *testing.T) {
	pub := &fakePublisher{}
	h := newHandler("gsemu", events.NewEventBus(), pub, nil)

	if err := h.PublishHeartbeat(map[string]interface{}{"connections": 3}); err != nil {
		t.Fatalf("PublishHeartbeat: %v", err)
	}
	if len(pub.messages) != 0 {
		t.Fatalf("published while disconnected")
	}

	pub.connected = true
	if err := h.PublishHeartbeat(map[string]interface{}{"connections": 3}); err != nil {
		t.Fatalf("PublishHeartbeat: %v", err)
	}
	if len(pub.messages) != 1 || pub.messages[0].topic != "gsemu/system/heartbeat" {
		t.Fatalf("messages %+v", pub.messages)
	}
	if n, _ := pub.messages[0].payload["connections"].(float64); n != 3 {
		t.Fatalf("heartbeat %v", pub.messages[0].payload)
	}
}
