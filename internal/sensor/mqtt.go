package sensor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/emotion"
)

// #region connect

// Connect opens an auto-reconnecting session to cfg.Broker.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (mqtt.Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("mqtt connected", zap.String("broker", broker), zap.String("client_id", cfg.ClientID))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost, reconnecting", zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	select {
	case <-token.Done():
	case <-time.After(timeout):
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect %s: timeout after %s", broker, timeout)
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, err)
	}
	return client, nil
}

// #endregion connect

// #region posture

type reading struct {
	posture emotion.Posture
	at      time.Time
}

// MQTTSensor keeps the latest posture published on the posture topic. Until
// a fresh reading arrives it defers to the fallback sensor.
type MQTTSensor struct {
	client   mqtt.Client
	topic    string
	qos      byte
	maxAge   time.Duration
	fallback Sensor
	logger   *zap.Logger
	now      func() time.Time

	mu     sync.RWMutex
	latest *reading
}

// NewMQTTSensor creates a sensor bound to cfg.PostureTopic(). Call Start to subscribe.
func NewMQTTSensor(client mqtt.Client, cfg Config, fallback Sensor, logger *zap.Logger) *MQTTSensor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTTSensor{
		client:   client,
		topic:    cfg.PostureTopic(),
		qos:      cfg.QoS,
		maxAge:   cfg.MaxAge,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

// Start subscribes to the posture topic.
func (s *MQTTSensor) Start() error {
	token := s.client.Subscribe(s.topic, s.qos, s.onMessage)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe %s: timeout", s.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.topic, err)
	}
	s.logger.Info("posture subscription active", zap.String("topic", s.topic))
	return nil
}

// Stop unsubscribes when the session is still up.
func (s *MQTTSensor) Stop() {
	if s.client.IsConnected() {
		s.client.Unsubscribe(s.topic).WaitTimeout(time.Second)
	}
}

func (s *MQTTSensor) onMessage(_ mqtt.Client, msg mqtt.Message) {
	p, err := parsePosture(msg.Payload())
	if err != nil {
		s.logger.Warn("ignoring posture message", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}
	s.mu.Lock()
	s.latest = &reading{posture: p, at: s.now()}
	s.mu.Unlock()
}

// Posture returns the latest fresh reading, or asks the fallback.
func (s *MQTTSensor) Posture(ctx context.Context) (emotion.Posture, error) {
	s.mu.RLock()
	r := s.latest
	s.mu.RUnlock()

	if r != nil && (s.maxAge <= 0 || s.now().Sub(r.at) <= s.maxAge) {
		return r.posture, nil
	}
	if s.fallback == nil {
		return "", fmt.Errorf("posture: no reading on %s", s.topic)
	}
	return s.fallback.Posture(ctx)
}

// parsePosture accepts a bare "safe"/"risky" payload or {"posture": "..."}.
func parsePosture(payload []byte) (emotion.Posture, error) {
	raw := strings.TrimSpace(string(payload))
	if strings.HasPrefix(raw, "{") {
		var body struct {
			Posture string `json:"posture"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return "", fmt.Errorf("decode posture: %w", err)
		}
		raw = body.Posture
	}
	p := emotion.Posture(strings.ToLower(strings.Trim(raw, `"`)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown posture %q", raw)
	}
	return p, nil
}

// #endregion posture

// #region mirror

// Mirror republishes each observation to the broker so other consumers can
// follow the cradle without a websocket.
type Mirror struct {
	client mqtt.Client
	topic  string
	qos    byte
}

// NewMirror publishes to cfg.ObservationTopic().
func NewMirror(client mqtt.Client, cfg Config) *Mirror {
	return &Mirror{client: client, topic: cfg.ObservationTopic(), qos: cfg.QoS}
}

// Publish encodes payload as JSON and waits briefly for the broker ack.
func (m *Mirror) Publish(payload any) error {
	if !m.client.IsConnected() {
		return ErrNotConnected
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode observation: %w", err)
	}
	token := m.client.Publish(m.topic, m.qos, false, data)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish %s: timeout", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}

// #endregion mirror
