package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/audio"
	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/hub"
	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/music"
	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/policy"
	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/sensor"
)

// #region types

// Config is the complete controller configuration.
type Config struct {
	Audio   audio.CaptureConfig `yaml:"audio"`
	Loop    LoopConfig          `yaml:"loop"`
	Policy  PolicyConfig        `yaml:"policy"`
	Redis   RedisConfig         `yaml:"redis"`
	Hub     hub.Config          `yaml:"hub"`
	Codec   CodecConfig         `yaml:"codec"`
	Music   music.Config        `yaml:"music"`
	MQTT    sensor.Config       `yaml:"mqtt"`
	Journal JournalConfig       `yaml:"journal"`
}

// LoopConfig holds the control-loop sleep intervals.
type LoopConfig struct {
	Initial time.Duration `yaml:"initial"`
	Idle    time.Duration `yaml:"idle"`
	Active  time.Duration `yaml:"active"`
}

// PolicyConfig selects where the two Q-tables live and how they learn.
type PolicyConfig struct {
	Backend     string        `yaml:"backend"` // "sqlite" | "redis"
	ChannelPath string        `yaml:"channel_path"`
	MusicPath   string        `yaml:"music_path"`
	Channel     policy.Config `yaml:"channel"`
	Music       policy.Config `yaml:"music"`
}

// RedisConfig is used when policy.backend is "redis".
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// CodecConfig locates the inference sidecar.
type CodecConfig struct {
	Addr         string        `yaml:"addr"`
	Timeout      time.Duration `yaml:"timeout"`
	ParentName   string        `yaml:"parent_name"`
	ReadyRetries uint64        `yaml:"ready_retries"`
	ReadyBackoff time.Duration `yaml:"ready_backoff"`
}

// JournalConfig locates the cycle journal. An empty path disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// Tunables are the settings that can change while the controller runs.
type Tunables struct {
	Loop           LoopConfig
	ChannelEpsilon float64
	MusicEpsilon   float64
}

// #endregion types

// #region defaults

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Audio: audio.DefaultCaptureConfig(),
		Loop: LoopConfig{
			Initial: 5 * time.Second,
			Idle:    60 * time.Second,
			Active:  10 * time.Second,
		},
		Policy: PolicyConfig{
			Backend:     "sqlite",
			ChannelPath: "data/q_table/channel.db",
			MusicPath:   "data/q_table/music.db",
			Channel:     policy.DefaultConfig(),
			Music:       policy.DefaultConfig(),
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "soothe",
		},
		Hub: hub.DefaultConfig(),
		Codec: CodecConfig{
			Addr:         "localhost:50051",
			Timeout:      30 * time.Second,
			ParentName:   "Mommy",
			ReadyRetries: 5,
			ReadyBackoff: time.Second,
		},
		Music:   music.DefaultConfig(),
		MQTT:    sensor.DefaultConfig(),
		Journal: JournalConfig{Path: "data/journal.db"},
	}
}

// #endregion defaults

// #region load

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path means defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.Codec.Addr = envOr("SOOTHE_CODEC_ADDR", cfg.Codec.Addr)
	cfg.Codec.ParentName = envOr("SOOTHE_PARENT_NAME", cfg.Codec.ParentName)
	cfg.Hub.Addr = envOr("SOOTHE_WS_ADDR", cfg.Hub.Addr)
	cfg.Policy.Backend = envOr("SOOTHE_POLICY_BACKEND", cfg.Policy.Backend)
	cfg.Policy.ChannelPath = envOr("SOOTHE_CHANNEL_DB", cfg.Policy.ChannelPath)
	cfg.Policy.MusicPath = envOr("SOOTHE_MUSIC_DB", cfg.Policy.MusicPath)
	cfg.Redis.Addr = envOr("SOOTHE_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = envOr("SOOTHE_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Music.Dir = envOr("SOOTHE_MUSIC_DIR", cfg.Music.Dir)
	cfg.MQTT.Broker = envOr("SOOTHE_MQTT_BROKER", cfg.MQTT.Broker)
	cfg.Journal.Path = envOr("SOOTHE_JOURNAL", cfg.Journal.Path)

	eps, err := envFloat("SOOTHE_EPSILON", cfg.Policy.Channel.Epsilon)
	if err != nil {
		return err
	}
	cfg.Policy.Channel.Epsilon = eps
	return nil
}

// #endregion load

// #region validate

// Validate reports the first setting the controller cannot run with.
func (c Config) Validate() error {
	if c.Audio.SampleRate == 0 || c.Audio.Channels == 0 || c.Audio.SegmentSeconds <= 0 {
		return errors.New("audio: sample_rate, channels and segment_seconds must be positive")
	}
	if c.Loop.Initial <= 0 || c.Loop.Idle <= 0 || c.Loop.Active <= 0 {
		return errors.New("loop: intervals must be positive")
	}
	for name, p := range map[string]policy.Config{"channel": c.Policy.Channel, "music": c.Policy.Music} {
		if err := validatePolicy(p); err != nil {
			return fmt.Errorf("policy.%s: %w", name, err)
		}
	}
	switch c.Policy.Backend {
	case "sqlite":
		if c.Policy.ChannelPath == "" || c.Policy.MusicPath == "" {
			return errors.New("policy: channel_path and music_path are required for sqlite")
		}
		if c.Policy.ChannelPath == c.Policy.MusicPath {
			return errors.New("policy: channel and music stores must not share a file")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("redis: addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("policy: unknown backend %q", c.Policy.Backend)
	}
	if c.Hub.Addr == "" {
		return errors.New("hub: addr is required")
	}
	if c.Codec.Addr == "" {
		return errors.New("codec: addr is required")
	}
	if len(c.Music.Command) == 0 {
		return errors.New("music: command is required")
	}
	return nil
}

func validatePolicy(p policy.Config) error {
	if p.Alpha <= 0 || p.Alpha > 1 {
		return fmt.Errorf("alpha %v out of (0,1]", p.Alpha)
	}
	if p.Gamma < 0 || p.Gamma > 1 {
		return fmt.Errorf("gamma %v out of [0,1]", p.Gamma)
	}
	if p.Epsilon < 0 || p.Epsilon > 1 {
		return fmt.Errorf("epsilon %v out of [0,1]", p.Epsilon)
	}
	return nil
}

// #endregion validate

// Tunables extracts the settings that can be hot-reloaded.
func (c Config) Tunables() Tunables {
	return Tunables{
		Loop:           c.Loop,
		ChannelEpsilon: c.Policy.Channel.Epsilon,
		MusicEpsilon:   c.Policy.Music.Epsilon,
	}
}

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}
// #endregion helpers
