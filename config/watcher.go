package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Watcher reloads the server configuration when the config file changes and
// hands the validated result to a callback. Invalid files are logged and
// skipped; the running configuration stays untouched.
type Watcher struct {
	path     string
	onReload func(*Server)
	logger   zerolog.Logger
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewWatcher creates a watcher for the given config path. onReload runs on
// the watcher goroutine for every successfully loaded change.
func NewWatcher(path string, onReload func(*Server)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		path:     path,
		onReload: onReload,
		logger:   log.With().Str("com", "config-watcher").Logger(),
		watcher:  fw,
		// Editors tend to fire several events per save.
		debounce: time.Second,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. The watch is on the directory because many editors
// replace files by rename, which drops a watch on the file itself.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}

	w.logger.Info().Str("config", w.path).Msg("watching configuration for changes")
	go w.watchLoop(ctx)
	return nil
}

// Stop stops the watcher. Safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	return w.watcher.Close()
}

func (w *Watcher) watchLoop(ctx context.Context) {
	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerCh = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerCh:
			timer = nil
			timerCh = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("config watch error")

		case <-w.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return

		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadServerConfig(w.path)
	if err != nil {
		w.logger.Warn().Err(err).Msg("ignoring config change, reload failed")
		return
	}
	w.logger.Info().Msg("configuration reloaded")
	w.onReload(cfg)
}
