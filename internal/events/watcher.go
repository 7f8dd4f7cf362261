package events

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/nolan-sh/nolan/internal/common/logger"
	v1 "github.com/nolan-sh/nolan/pkg/api/v1"
)

// Watcher publishes file-changed events onto the bus for a set of watched
// roots. It is optional; the bus works without it.
type Watcher struct {
	bus     *Bus
	watcher *fsnotify.Watcher
	logger  *logger.Logger
}

// NewWatcher creates a watcher over the given roots.
func NewWatcher(bus *Bus, roots []string, log *logger.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		bus:     bus,
		watcher: fw,
		logger:  log.WithFields(zap.String("component", "file-watcher")),
	}

	for _, root := range roots {
		if err := fw.Add(root); err != nil {
			w.logger.Warn("failed to watch root",
				zap.String("root", root),
				zap.Error(err))
			continue
		}
		w.logger.Info("watching root", zap.String("root", root))
	}

	return w, nil
}

// Start consumes filesystem notifications until context cancellation.
func (w *Watcher) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				w.bus.Emit(v1.EventFileChanged, map[string]string{
					"file": ev.Name,
					"op":   ev.Op.String(),
				}, "file-watcher")
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("watcher error", zap.Error(err))
			}
		}
	}()
}

// Close stops the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
