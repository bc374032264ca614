package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/audio"
	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/codec"
	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/config"
	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/emotion"
	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/hub"
	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/logging"
	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/music"
	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/orchestrator"
	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/policy"
	"github.com/ravindusiriwardana/SMART-Soothing-System/internal/sensor"
)

var (
	verbose    bool
	configPath string

	logger *zap.Logger
)

// #region commands

var rootCmd = &cobra.Command{
	Use:   "controller",
	Short: "Smart cradle soothing controller",
	Long: `Listens to the cradle microphone, classifies each ten-second segment,
picks a soothing action with a learned policy and streams every observation
to connected apps over websocket.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runController,
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config (hot-reloaded)")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// #endregion commands

// #region run

func runController(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Policies.
	channelBackend, musicBackend, closeBackends, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackends()

	channel := policy.New("channel", emotion.Categories, orchestrator.Actions, cfg.Policy.Channel, channelBackend,
		policy.WithLogger(logger.Named("policy.channel")))
	channel.Load(ctx)
	defer channel.Close()
	category := policy.New("music_category", emotion.Categories, emotion.MusicCategories(), cfg.Policy.Music, musicBackend,
		policy.WithLogger(logger.Named("policy.music")))
	category.Load(ctx)
	defer category.Close()

	// Inference sidecar: classifier and voice.
	client, err := codec.NewClient(cfg.Codec.Addr,
		codec.WithTimeout(cfg.Codec.Timeout),
		codec.WithParentName(cfg.Codec.ParentName))
	if err != nil {
		return err
	}
	defer client.Close()
	if err := client.WaitReady(ctx, cfg.Codec.ReadyRetries, cfg.Codec.ReadyBackoff); err != nil {
		return fmt.Errorf("classifier sidecar at %s: %w", cfg.Codec.Addr, err)
	}
	logger.Info("classifier sidecar ready", zap.String("addr", cfg.Codec.Addr))

	// Music.
	player, err := music.NewCommandPlayer(cfg.Music.Command)
	if err != nil {
		return err
	}
	musicActuator := music.NewActuator(music.NewCatalog(cfg.Music.Dir), player, category, nil, logger.Named("music"))

	// Observers.
	h := hub.New(cfg.Hub, logger.Named("hub"))
	ln, err := net.Listen("tcp", cfg.Hub.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Hub.Addr, err)
	}
	publishers := []orchestrator.Publisher{h}

	// Posture.
	var posture orchestrator.PostureSensor = sensor.NewSimulated(nil)
	if cfg.MQTT.Enabled() {
		mq, err := sensor.Connect(ctx, cfg.MQTT, logger.Named("mqtt"))
		if err != nil {
			ln.Close()
			return err
		}
		defer mq.Disconnect(250)

		ms := sensor.NewMQTTSensor(mq, cfg.MQTT, posture, logger.Named("posture"))
		if err := ms.Start(); err != nil {
			ln.Close()
			return err
		}
		defer ms.Stop()
		posture = ms
		if cfg.MQTT.Mirror {
			publishers = append(publishers, sensor.NewMirror(mq, cfg.MQTT))
		}
	} else {
		logger.Warn("no posture broker configured, using simulated posture")
	}

	// Journal.
	var recorder orchestrator.Recorder
	if cfg.Journal.Path != "" {
		journal, err := logging.OpenJournal(cfg.Journal.Path)
		if err != nil {
			ln.Close()
			return err
		}
		defer journal.Close()
		recorder = journal
	}

	// Audio.
	ring := audio.NewRingBuffer(cfg.Audio.SegmentSize())
	capture, err := audio.NewCapture(cfg.Audio, ring)
	if err != nil {
		ln.Close()
		return fmt.Errorf("open capture device: %w", err)
	}
	defer capture.Close()

	orch, err := orchestrator.New(orchestrator.Deps{
		Segments:    ring,
		SegmentSize: cfg.Audio.SegmentSize(),
		Classifier:  client,
		Posture:     posture,
		Publishers:  publishers,
		Voice:       client,
		Music:       musicActuator,
		Channel:     channel,
		MusicPolicy: category,
		Recorder:    recorder,
		Intervals:   intervals(cfg.Loop),
		Logger:      logger.Named("orchestrator"),
	})
	if err != nil {
		ln.Close()
		return err
	}

	// Start order: hub, capture, loop. Shutdown runs in reverse once ctx is cancelled.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.Run(gctx) })
	g.Go(func() error { return h.Serve(gctx, ln) })

	if err := capture.Start(); err != nil {
		stop()
		_ = g.Wait()
		return fmt.Errorf("start capture: %w", err)
	}
	logger.Info("audio capture started",
		zap.Uint32("sample_rate", cfg.Audio.SampleRate),
		zap.Int("segment_samples", cfg.Audio.SegmentSize()))

	g.Go(func() error {
		defer func() {
			if err := capture.Stop(); err != nil {
				logger.Warn("stop capture", zap.Error(err))
			}
		}()
		return orch.Run(gctx)
	})
	if configPath != "" {
		g.Go(func() error {
			return config.Watch(gctx, configPath, logger.Named("config"), func(t config.Tunables) {
				orch.Tune(orchestrator.Tuning{
					Intervals:      intervals(t.Loop),
					ChannelEpsilon: t.ChannelEpsilon,
					MusicEpsilon:   t.MusicEpsilon,
				})
			})
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("controller stopped")
	return nil
}

// #endregion run

// #region helpers

func intervals(l config.LoopConfig) orchestrator.Intervals {
	return orchestrator.Intervals{Initial: l.Initial, Idle: l.Idle, Active: l.Active}
}

// openBackends returns the channel and music-category backends. A configured
// but unreachable Redis aborts startup.
func openBackends(ctx context.Context, cfg config.Config) (policy.Backend, policy.Backend, func(), error) {
	if cfg.Policy.Backend != "redis" {
		return policy.NewSQLiteBackend(cfg.Policy.ChannelPath), policy.NewSQLiteBackend(cfg.Policy.MusicPath), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
	}
	channel := policy.NewRedisBackendWithClient(rdb, cfg.Redis.KeyPrefix+":channel")
	category := policy.NewRedisBackendWithClient(rdb, cfg.Redis.KeyPrefix+":music")
	return channel, category, func() { rdb.Close() }, nil
}

// #endregion helpers
