package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/micromayhem/mayhem/internal/config"
	"github.com/micromayhem/mayhem/internal/events"
	"github.com/micromayhem/mayhem/internal/util"
)

// Topic suffixes appended to the configured topic prefix.
const (
	TopicSessions = "sessions"
	TopicLag      = "lag"
	TopicAdmin    = "admin"
)

// MQTTHandler publishes session and lag events to an MQTT broker.
type MQTTHandler struct {
	mu sync.Mutex

	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	logger   zerolog.Logger

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler. It does not
// connect; Start does.
func NewMQTTHandler(cfg config.MQTTConfig, eventBus *events.EventBus, version string) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	handler := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		logger:   log.With().Str("component", "mqtt").Logger(),
		metadata: map[string]interface{}{
			"hostname":    sysInfo.Hostname,
			"os":          sysInfo.OS,
			"cpu_model":   sysInfo.CPUModel,
			"cpu_cores":   sysInfo.CPUCores,
			"memory_mb":   sysInfo.TotalMemory,
			"app_version": version,
		},
	}

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("mayhem-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if cfg.UseTLS {
		tlsConfig, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		handler.logger.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		handler.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)
	return handler, nil
}

func buildTLSConfig(cfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	// mTLS: load client certificate
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

// Start connects to the broker, subscribes to the event bus and blocks until
// ctx is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()

	<-ctx.Done()

	h.unsubscribeEvents()
	h.PublishShutdown()
	h.client.Disconnect(5000)
	h.logger.Info().Msg("MQTT disconnected")

	return nil
}

func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.Subscribe(events.EventPlayerJoined, "mqtt.playerJoined", h.onEvent)
	h.eventBus.Subscribe(events.EventPlayerLeft, "mqtt.playerLeft", h.onEvent)
	h.eventBus.Subscribe(events.EventConnectRejected, "mqtt.connectRejected", h.onEvent)
	h.eventBus.Subscribe(events.EventLongTick, "mqtt.longTick", h.onEvent)
}

func (h *MQTTHandler) unsubscribeEvents() {
	h.eventBus.Unsubscribe(events.EventPlayerJoined, "mqtt.playerJoined")
	h.eventBus.Unsubscribe(events.EventPlayerLeft, "mqtt.playerLeft")
	h.eventBus.Unsubscribe(events.EventConnectRejected, "mqtt.connectRejected")
	h.eventBus.Unsubscribe(events.EventLongTick, "mqtt.longTick")
}

// Topic returns the full topic for a suffix, e.g. "mayhem/sessions".
func (h *MQTTHandler) Topic(suffix string) string {
	if h.cfg.Topic == "" {
		return suffix
	}
	return h.cfg.Topic + "/" + suffix
}

// topicFor maps an event to its topic suffix. Events with no topic are not
// published.
func topicFor(t events.EventType) (string, bool) {
	switch t {
	case events.EventPlayerJoined, events.EventPlayerLeft, events.EventConnectRejected:
		return TopicSessions, true
	case events.EventLongTick:
		return TopicLag, true
	case events.EventShutdown:
		return TopicAdmin, true
	}
	return "", false
}

func (h *MQTTHandler) onEvent(ctx context.Context, event events.Event) error {
	suffix, ok := topicFor(event.Type)
	if !ok {
		return nil
	}
	h.publish(h.Topic(suffix), string(event.Type), event.Payload)
	return nil
}

// publish sends a JSON message. Messages are dropped while disconnected.
func (h *MQTTHandler) publish(topic, kind string, payload interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.client.IsConnected() {
		return
	}

	data, err := h.buildMessage(kind, payload, time.Now())
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(kind string, payload interface{}, at time.Time) ([]byte, error) {
	msg := make(map[string]interface{}, len(h.metadata)+3)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["event"] = kind
	msg["payload"] = payload
	msg["timestamp"] = at.UTC().Format(time.RFC3339)

	return json.Marshal(msg)
}

// PublishShutdown sends a shutdown message to the broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(h.Topic(TopicAdmin), string(events.EventShutdown), nil)
}
