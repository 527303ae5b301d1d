// File: internal/config/watcher.go
package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
)

// watchDebounce collapses the bursts of events editors produce on save.
const watchDebounce = 150 * time.Millisecond

// WatchServices watches a selectors file and emits the merged descriptor set every
// time the file changes and still parses. Invalid edits are logged and skipped so the
// previous descriptors stay in effect. The channel is closed when ctx is done.
func WatchServices(ctx context.Context, path string, logger *zap.Logger) (<-chan []ServiceDescriptor, error) {
	resolved, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand selectors file path: %w", err)
	}
	resolved, err = filepath.Abs(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve selectors file path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Watch the directory, editors often replace the file through a rename.
	if err := watcher.Add(filepath.Dir(resolved)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(resolved), err)
	}

	log := logger.Named("selectors_watcher").With(zap.String("path", resolved))
	out := make(chan []ServiceDescriptor, 1)

	go func() {
		defer close(out)
		defer watcher.Close()

		var debounce *time.Timer
		var fire <-chan time.Time
		defer func() {
			if debounce != nil {
				debounce.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != resolved {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if debounce == nil {
					debounce = time.NewTimer(watchDebounce)
				} else {
					debounce.Reset(watchDebounce)
				}
				fire = debounce.C

			case <-fire:
				fire = nil
				services, err := LoadServicesFile(resolved)
				if err != nil {
					log.Warn("Ignoring invalid selectors file update.", zap.Error(err))
					continue
				}
				log.Info("Selectors file reloaded.", zap.Int("services", len(services)))
				select {
				case out <- services:
				case <-ctx.Done():
					return
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("File watcher error.", zap.Error(err))
			}
		}
	}()

	return out, nil
}
