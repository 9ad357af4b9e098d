package watcher

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/xhad/gamescout/pkg/corpus"
)

type WatcherConfig struct {
	Dir      string
	Debounce time.Duration
	Logger   *slog.Logger
	// OnChange runs once per burst of corpus edits.
	OnChange func(ctx context.Context) error
}

// Watcher triggers a rebuild when documents in the corpus directory change.
type Watcher struct {
	config WatcherConfig
	fsw    *fsnotify.Watcher
	log    *slog.Logger
}

func NewWithConfig(config WatcherConfig) (*Watcher, error) {
	if config.OnChange == nil {
		return nil, fmt.Errorf("watcher: OnChange is required")
	}
	if config.Debounce == 0 {
		config.Debounce = 2 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	w := &Watcher{config: config, fsw: fsw, log: logger}
	if err := w.addTree(config.Dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && hidden(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

// Run blocks until ctx is done. OnChange errors are logged; the watcher
// keeps going and the previous generation keeps serving.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	var (
		timer *time.Timer
		fire  <-chan time.Time
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

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !hidden(event.Name) {
					if err := w.addTree(event.Name); err != nil {
						w.log.Warn("failed to watch new directory", "path", event.Name, "error", err)
					}
				}
			}
			if !relevant(event) {
				continue
			}
			w.log.Debug("corpus changed", "path", event.Name, "op", event.Op.String())
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.config.Debounce)
			fire = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", "error", err)

		case <-fire:
			timer, fire = nil, nil
			w.log.Info("corpus changed, rebuilding")
			if err := w.config.OnChange(ctx); err != nil {
				w.log.Error("rebuild after corpus change failed", "error", err)
			}
		}
	}
}

// relevant reports whether an event touches a corpus document. Chmod alone
// never does.
func relevant(event fsnotify.Event) bool {
	if hidden(event.Name) || !corpus.Supported(event.Name) {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}

func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
