package source

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce collapses bursts of writes into one signal.
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches session roots recursively and signals, debounced, when a
// .jsonl file is created or written.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	logger   *zap.Logger
	out      chan struct{}
}

// NewWatcher watches every existing directory under roots. Missing roots are
// skipped.
func NewWatcher(roots []string, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:      fsw,
		debounce: debounce,
		logger:   logger,
		out:      make(chan struct{}, 1),
	}
	for _, root := range roots {
		if root == "" {
			continue
		}
		if err := w.addRecursive(root); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Events delivers one value per debounced burst of changes. It is never closed.
func (w *Watcher) Events() <-chan struct{} { return w.out }

// Run processes filesystem events until ctx is done, then releases the
// underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fsw.Close() }()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(ev.Name); err != nil {
						w.logger.Debug("watch new directory failed", zap.String("path", ev.Name), zap.Error(err))
					}
					timer.Reset(w.debounce)
					continue
				}
			}
			if filepath.Ext(ev.Name) == ".jsonl" && (ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write)) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("session watcher error", zap.Error(err))

		case <-timer.C:
			select {
			case w.out <- struct{}{}:
			default:
			}
		}
	}
}

func (w *Watcher) addRecursive(root string) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // skip unreadable entries
		}
		if !d.IsDir() {
			return nil
		}
		return w.fsw.Add(path)
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
