// Package watcher reloads the configuration file when it changes on disk and
// hands the parsed result to a callback.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/nghyane/gameday-net/internal/config"
	log "github.com/nghyane/gameday-net/internal/logging"
)

const defaultDebounce = 150 * time.Millisecond

// Watcher follows one config file. The parent directory is watched so
// editors that replace the file by rename are still seen.
type Watcher struct {
	configPath string
	debounce   time.Duration
	onReload   func(old, updated *config.Config)
	watcher    *fsnotify.Watcher

	mu         sync.Mutex
	current    *config.Config
	lastHash   string
	timer      *time.Timer
	reloadMu   sync.Mutex
	stopOnce   sync.Once
	done       chan struct{}
	eventsDone chan struct{}
}

// NewWatcher prepares a watcher for configPath. onReload runs on a background
// goroutine after each successful reload whose content hash changed.
func NewWatcher(configPath string, onReload func(old, updated *config.Config)) (*Watcher, error) {
	if configPath == "" {
		return nil, errors.New("watcher: config path is required")
	}
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		configPath: abs,
		debounce:   defaultDebounce,
		onReload:   onReload,
		watcher:    fw,
		done:       make(chan struct{}),
		eventsDone: make(chan struct{}),
	}, nil
}

// SetDebounce overrides the delay between the last write and the reload.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	w.debounce = d
	w.mu.Unlock()
}

// SetConfig records the configuration currently in effect and the hash of
// the file it came from, so an unchanged rewrite does not trigger a reload.
func (w *Watcher) SetConfig(cfg *config.Config) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = cfg
	if data, err := os.ReadFile(w.configPath); err == nil {
		w.lastHash = hashOf(data)
	}
}

// Current returns the configuration last loaded or set.
func (w *Watcher) Current() *config.Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.configPath)
	if err := w.watcher.Add(dir); err != nil {
		log.Errorf("failed to watch config directory %s: %v", dir, err)
		return err
	}
	log.Debugf("watching config file: %s", w.configPath)
	go w.processEvents(ctx)
	return nil
}

func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		w.mu.Unlock()
		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.eventsDone)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("file watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.configPath {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	log.Debugf("config file event: %s %s", event.Op.String(), event.Name)
	w.scheduleReload()
}

func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
