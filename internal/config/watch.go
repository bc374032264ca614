package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 250 * time.Millisecond

// Watch re-reads path whenever it changes and hands the new tunables to fn.
// It watches the parent directory so editors that replace the file are seen.
// A file that fails to load or validate is logged and ignored. Watch blocks
// until ctx is cancelled.
func Watch(ctx context.Context, path string, logger *zap.Logger, fn func(Tunables)) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	logger.Info("watching config", zap.String("path", abs))

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			timerCh = timer.C

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", zap.Error(err))

		case <-timerCh:
			timerCh = nil
			cfg, err := Load(abs)
			if err != nil {
				logger.Warn("config reload rejected", zap.Error(err))
				continue
			}
			t := cfg.Tunables()
			logger.Info("config reloaded",
				zap.Duration("idle", t.Loop.Idle),
				zap.Duration("active", t.Loop.Active),
				zap.Float64("channel_epsilon", t.ChannelEpsilon))
			fn(t)
		}
	}
}
