package sensor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/gac1u21/harcapture/internal/config"
)

// MQTTSource reads samples published by a device-side producer.
// Each sensor has its own topic carrying JSON payloads such as
// {"x":0.1,"y":9.8,"z":0.2,"ts":1718000000123}. The requested
// sampling interval is published, retained, on the rate topic.
type MQTTSource struct {
	cfg    config.MQTTConfig
	client mqtt.Client
	subs   *fanout

	mu         sync.Mutex
	subscribed bool
}

type mqttPayload struct {
	X           float32 `json:"x"`
	Y           float32 `json:"y"`
	Z           float32 `json:"z"`
	TimestampMs int64   `json:"ts,omitempty"`
}

type rateRequest struct {
	IntervalMicros uint32 `json:"interval_us"`
}

// NewMQTTSource connects to the configured broker
func NewMQTTSource(cfg config.MQTTConfig) (*MQTTSource, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.Broker, token.Error())
	}
	slog.Info("Connected to MQTT broker", "broker", cfg.Broker, "client_id", cfg.ClientID)

	return &MQTTSource{
		cfg:    cfg,
		client: client,
		subs:   newFanout(),
	}, nil
}

func (m *MQTTSource) Name() string {
	return string(SourceTypeMQTT)
}

func (m *MQTTSource) Subscribe(kinds []Kind, intervalMicros uint32, handler Handler) (Subscription, error) {
	if err := validateSubscribe(kinds, handler); err != nil {
		return nil, err
	}
	if intervalMicros == 0 {
		intervalMicros = DefaultIntervalMicros
	}

	id, _ := m.subs.add(kinds, handler)

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.subscribed {
		if err := m.subscribeTopics(); err != nil {
			m.subs.remove(id)
			return nil, err
		}
		m.subscribed = true
	}

	if m.cfg.RateTopic != "" {
		payload, _ := json.Marshal(rateRequest{IntervalMicros: intervalMicros})
		token := m.client.Publish(m.cfg.RateTopic, 1, true, payload)
		if token.Wait() && token.Error() != nil {
			slog.Warn("Failed to publish sampling rate request", "topic", m.cfg.RateTopic, "error", token.Error())
		}
	}

	return &fanoutSubscription{release: func() error { return m.release(id) }}, nil
}

func (m *MQTTSource) subscribeTopics() error {
	topics := map[string]Kind{
		m.cfg.AccelTopic: KindAccelerometer,
		m.cfg.GyroTopic:  KindGyroscope,
	}

	for topic, kind := range topics {
		kind := kind
		token := m.client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			sample, err := decodeMQTTPayload(kind, msg.Payload())
			if err != nil {
				slog.Debug("Dropping malformed sample", "topic", msg.Topic(), "error", err)
				return
			}
			m.subs.publish(sample)
		})
		token.Wait()
		if token.Error() != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, token.Error())
		}
		slog.Debug("Subscribed to sensor topic", "topic", topic, "kind", kind)
	}
	return nil
}

func (m *MQTTSource) release(id uint64) error {
	if !m.subs.remove(id) {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.subscribed || m.subs.len() > 0 {
		return nil
	}

	token := m.client.Unsubscribe(m.cfg.AccelTopic, m.cfg.GyroTopic)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to unsubscribe from sensor topics: %w", token.Error())
	}
	m.subscribed = false
	return nil
}

func (m *MQTTSource) Close() error {
	m.client.Disconnect(250)
	return nil
}

func decodeMQTTPayload(kind Kind, payload []byte) (Sample, error) {
	var p mqttPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Sample{}, fmt.Errorf("failed to decode sample payload: %w", err)
	}

	ts := time.Now()
	if p.TimestampMs > 0 {
		ts = time.UnixMilli(p.TimestampMs)
	}

	return Sample{
		Values:    [3]float32{p.X, p.Y, p.Z},
		Kind:      kind,
		Timestamp: ts,
	}, nil
}
