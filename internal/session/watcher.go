package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher signals when the session file is created or rewritten out of band, which is
// how the manual login tool hands a fresh session to a blocked worker.
type Watcher struct {
	path    string
	fs      *fsnotify.Watcher
	changes chan struct{}
	logger  *zap.Logger
}

// NewWatcher watches the directory holding path. The directory is created if absent.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve session path: %w", err)
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Watcher{
		path:    abs,
		fs:      fsw,
		changes: make(chan struct{}, 1),
		logger:  logger,
	}, nil
}

// Changes delivers at most one pending notification; bursts of writes coalesce.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Run forwards relevant filesystem events until ctx ends or the watcher closes.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			w.logger.Info("session file changed", zap.String("op", ev.Op.String()))
			select {
			case w.changes <- struct{}{}:
			default:
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("session watcher error", zap.Error(err))
		}
	}
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	if err := w.fs.Close(); err != nil {
		return fmt.Errorf("close session watcher: %w", err)
	}
	return nil
}
