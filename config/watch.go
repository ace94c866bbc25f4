package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 100 * time.Millisecond

// Watch reloads the YAML file at path whenever it changes and passes the
// decoded Update to apply. The parent directory is watched so editors that
// replace the file by rename are picked up. Decode and apply failures are
// logged and the watch continues. Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, apply func(context.Context, Update) error) error {
	return watch(ctx, path, defaultDebounce, apply)
}

func watch(ctx context.Context, path string, debounce time.Duration, apply func(context.Context, Update) error) error {
	logger := slog.Default().With("component", "config.watch")

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %q: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %q: %w", filepath.Dir(abs), err)
	}
	logger.Info("watching configuration file", "path", abs)

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		u, err := LoadFile(abs)
		if err != nil {
			logger.Error("configuration reload failed", "error", err)
			return
		}
		if err := apply(ctx, u); err != nil {
			logger.Error("configuration update rejected", "error", err)
			return
		}
		logger.Info("configuration reloaded", "path", abs)
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			logger.Debug("configuration file event", "op", event.Op.String())

			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, reload)
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			logger.Error("file watcher error", "error", err)
		}
	}
}
