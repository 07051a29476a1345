// Package watcher reports document files changed on disk by other processes.
package watcher

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/agencydesk/internal/storage"
)

// DefaultDebounce coalesces the burst of events a single atomic write produces.
const DefaultDebounce = 100 * time.Millisecond

// Callback is called once per changed key after the debounce window.
type Callback func(key string)

// Watch starts an fsnotify watcher on the FS provider root and reports changed
// document keys until ctx is cancelled. Create, write, remove and rename events
// all map to the affected key; the callback decides what actually changed.
func Watch(ctx context.Context, store *storage.FS, debounce time.Duration, logger *slog.Logger, cb Callback) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(store.Root()); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", store.Root()))

	pending := make(map[string]struct{})
	var flushTimer *time.Timer
	var flushCh <-chan time.Time

	schedule := func() {
		if flushTimer == nil {
			flushTimer = time.NewTimer(debounce)
			flushCh = flushTimer.C
		} else {
			flushTimer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if flushTimer != nil {
				flushTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-flushCh:
			keys := make([]string, 0, len(pending))
			for k := range pending {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			clear(pending)
			for _, k := range keys {
				logger.Debug("watcher: changed", slog.String("key", k))
				cb(k)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			key, ok := store.KeyFromPath(ev.Name)
			if !ok {
				continue
			}
			pending[key] = struct{}{}
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
