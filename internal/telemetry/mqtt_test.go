package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/micromayhem/mayhem/internal/config"
	"github.com/micromayhem/mayhem/internal/events"
)

func newTestHandler(t *testing.T) *MQTTHandler {
	t.Helper()
	cfg := config.DefaultConfig().MQTT
	cfg.Enabled = true
	h, err := NewMQTTHandler(cfg, events.NewEventBus(), "test")
	if err != nil {
		t.Fatalf("NewMQTTHandler: %v", err)
	}
	return h
}

func TestNewMQTTHandlerDisabled(t *testing.T) {
	if _, err := NewMQTTHandler(config.DefaultConfig().MQTT, events.NewEventBus(), "test"); err == nil {
		t.Fatal("expected error for disabled MQTT")
	}
}

func TestMQTTTopics(t *testing.T) {
	h := newTestHandler(t)
	if got := h.Topic(TopicSessions); got != "mayhem/sessions" {
		t.Fatalf("Topic = %q", got)
	}

	tests := []struct {
		event events.EventType
		want  string
		ok    bool
	}{
		{events.EventPlayerJoined, TopicSessions, true},
		{events.EventPlayerLeft, TopicSessions, true},
		{events.EventConnectRejected, TopicSessions, true},
		{events.EventLongTick, TopicLag, true},
		{events.EventShutdown, TopicAdmin, true},
		{events.EventSessionState, "", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.event), func(t *testing.T) {
			got, ok := topicFor(tt.event)
			if got != tt.want || ok != tt.ok {
				t.Fatalf("topicFor(%s) = %q, %v", tt.event, got, ok)
			}
		})
	}
}

func TestMQTTBuildMessage(t *testing.T) {
	h := newTestHandler(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	data, err := h.buildMessage("player_left", events.PlayerLeftPayload{
		ID:     3,
		Name:   "Alice",
		Reason: events.LeaveTimeout,
	}, at)
	if err != nil {
		t.Fatalf("buildMessage: %v", err)
	}

	var msg struct {
		Event      string `json:"event"`
		Timestamp  string `json:"timestamp"`
		AppVersion string `json:"app_version"`
		Payload    struct {
			ID     uint8
			Name   string
			Reason string
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Event != "player_left" || msg.AppVersion != "test" || msg.Timestamp != "2026-03-01T12:00:00Z" {
		t.Fatalf("envelope = %+v", msg)
	}
	if msg.Payload.ID != 3 || msg.Payload.Name != "Alice" || msg.Payload.Reason != "timeout" {
		t.Fatalf("payload = %+v", msg.Payload)
	}
}

func TestMQTTPublishWhileDisconnectedIsNoop(t *testing.T) {
	h := newTestHandler(t)
	// Never connected: must return without blocking.
	h.onEvent(nil, events.Event{Type: events.EventPlayerJoined, Payload: events.PlayerJoinedPayload{ID: 1}})
	h.PublishShutdown()
}
