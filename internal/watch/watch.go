package watch

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"rescuelink/internal/config"
)

const settle = 150 * time.Millisecond

// Start reloads the config at path whenever it changes on disk and hands the
// result to onReload. A file that fails to load is logged and skipped, so
// the previous config stays in effect.
func Start(ctx context.Context, path string, onReload func(config.Config), logger *zap.Logger) (func() error, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	if onReload == nil {
		return nil, errors.New("reload callback is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("watch")

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Editors often replace the file, so watch its directory.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				time.Sleep(settle)
				drain(watcher.Events, abs)
				cfg, err := config.Load(abs)
				if err != nil {
					logger.Warn("config reload failed, keeping previous", zap.String("path", abs), zap.Error(err))
					continue
				}
				logger.Info("config reloaded", zap.String("path", abs))
				onReload(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if err != nil {
					logger.Warn("watcher error", zap.Error(err))
				}
			}
		}
	}()

	stop := func() error {
		err := watcher.Close()
		<-done
		return err
	}
	return stop, nil
}

// drain drops queued events for path so one save triggers one reload.
func drain(events <-chan fsnotify.Event, path string) {
	for {
		select {
		case ev, ok := <-events:
			if !ok || filepath.Clean(ev.Name) != path {
				return
			}
		default:
			return
		}
	}
}
