// Package telemetry publishes bus events to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/gsemu-project/gsemu/internal/config"
	"github.com/gsemu-project/gsemu/internal/events"
	"github.com/gsemu-project/gsemu/internal/util"
)

// Topic segments below the configured prefix.
const (
	SegmentRouter  = "router"
	SegmentCDKey   = "cdkey"
	SegmentNAT     = "gsnat"
	SegmentLobby   = "lobby"
	SegmentSystem  = "system"
	TopicHeartbeat = "heartbeat"
)

const (
	publishQoS = 1
	// quiesceMS is how long Disconnect waits for in-flight publishes.
	quiesceMS = 5000
)

// Publisher sends one message. mqttPublisher adapts a paho client.
type Publisher interface {
	Publish(topic string, payload []byte) error
	IsConnected() bool
}

type mqttPublisher struct {
	client mqtt.Client
	logger zerolog.Logger
}

func (p mqttPublisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, publishQoS, false, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			p.logger.Warn().Err(err).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
	return nil
}

func (p mqttPublisher) IsConnected() bool {
	return p.client.IsConnected()
}

// Topic returns the topic e is published under: prefix, the service
// segment derived from the event source, then the event type. Both router
// listeners publish under the router segment, IRC and proxy under lobby.
func Topic(prefix string, e events.Event) string {
	segment := SegmentSystem
	switch e.Source {
	case events.ServiceRouter, events.ServiceWaitModule:
		segment = SegmentRouter
	case events.ServiceCDKey:
		segment = SegmentCDKey
	case events.ServiceNAT:
		segment = SegmentNAT
	case events.ServiceIRC, events.ServiceProxy:
		segment = SegmentLobby
	}
	return joinTopic(prefix, segment, string(e.Type))
}

func joinTopic(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}

// MQTTHandler publishes every bus event as JSON.
type MQTTHandler struct {
	mu sync.Mutex

	prefix   string
	eventBus *events.EventBus
	client   mqtt.Client
	pub      Publisher
	logger   zerolog.Logger

	// Included in every message.
	metadata map[string]interface{}
}

// NewMQTTHandler creates a handler for the configured broker. It does not
// connect until Start.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus, version string) (*MQTTHandler, error) {
	mqttCfg := cfg.GetMQTT()
	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("gsemu-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	if mqttCfg.UseTLS {
		tlsConfig, err := buildTLSConfig(mqttCfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	logger := util.ComponentLogger("mqtt")
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	h := newHandler(mqttCfg.TopicPrefix, eventBus, mqttPublisher{client: client, logger: logger}, map[string]interface{}{
		"hostname":    sysInfo.Hostname,
		"os":          sysInfo.OS,
		"app_version": version,
	})
	h.client = client
	return h, nil
}

func newHandler(prefix string, eventBus *events.EventBus, pub Publisher, metadata map[string]interface{}) *MQTTHandler {
	return &MQTTHandler{
		prefix:   prefix,
		eventBus: eventBus,
		pub:      pub,
		metadata: metadata,
		logger:   util.ComponentLogger("mqtt"),
	}
}

func buildTLSConfig(cfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in MQTT CA file %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	// mTLS
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// Start connects to the broker, publishes bus events until ctx is
// cancelled, then disconnects.
func (h *MQTTHandler) Start(ctx context.Context) error {
	h.logger.Info().Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.Subscribe()

	<-ctx.Done()

	h.client.Disconnect(quiesceMS)
	h.logger.Info().Msg("MQTT disconnected")
	return nil
}

// Subscribe registers the handler for every event type.
func (h *MQTTHandler) Subscribe() {
	h.eventBus.SubscribeAll("mqtt", h.onEvent)
}

func (h *MQTTHandler) onEvent(_ context.Context, e events.Event) error {
	return h.publish(Topic(h.prefix, e), map[string]interface{}{
		"event":   string(e.Type),
		"source":  e.Source,
		"time":    e.Time.UTC().Format(time.RFC3339Nano),
		"payload": e.Payload,
	})
}

// PublishHeartbeat publishes a periodic liveness message with the given
// status fields.
func (h *MQTTHandler) PublishHeartbeat(status map[string]interface{}) error {
	return h.publish(joinTopic(h.prefix, SegmentSystem, TopicHeartbeat), status)
}

// publish merges the metadata into fields and sends them. Messages are
// dropped while disconnected.
func (h *MQTTHandler) publish(topic string, fields map[string]interface{}) error {
	if !h.pub.IsConnected() {
		return nil
	}

	data, err := json.Marshal(h.buildMessage(fields))
	if err != nil {
		return fmt.Errorf("failed to marshal MQTT message for %s: %w", topic, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pub.Publish(topic, data)
}

func (h *MQTTHandler) buildMessage(fields map[string]interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+len(fields)+1)
	for k, v := range h.metadata {
		msg[k] = v
	}
	for k, v := range fields {
		msg[k] = v
	}
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}
