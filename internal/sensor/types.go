package sensor

import (
	"context"
	"errors"
	"time"

	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/emotion"
)

// ErrNotConnected is returned when publishing without a broker session.
var ErrNotConnected = errors.New("sensor: mqtt not connected")

// Sensor reports the infant's current sleeping posture.
type Sensor interface {
	Posture(ctx context.Context) (emotion.Posture, error)
}

// Config selects the MQTT broker and topic layout. An empty Broker disables
// MQTT and the controller falls back to the simulated sensor.
type Config struct {
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	QoS            byte          `yaml:"qos"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// MaxAge discards posture readings older than this. Zero keeps the last reading forever.
	MaxAge time.Duration `yaml:"max_age"`
	Mirror bool          `yaml:"mirror"`
}

// DefaultConfig leaves MQTT disabled.
func DefaultConfig() Config {
	return Config{
		ClientID:       "smart-cradle",
		TopicPrefix:    "cradle",
		QoS:            1,
		ConnectTimeout: 5 * time.Second,
		MaxAge:         2 * time.Minute,
	}
}

// Enabled reports whether a broker is configured.
func (c Config) Enabled() bool { return c.Broker != "" }

// PostureTopic is where the cradle's posture sensor publishes.
func (c Config) PostureTopic() string { return c.TopicPrefix + "/posture" }

// ObservationTopic is where each cycle's observation is mirrored.
func (c Config) ObservationTopic() string { return c.TopicPrefix + "/observations" }
