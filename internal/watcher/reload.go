package watcher

import (
	"fmt"
	"os"
	"time"

	"github.com/nghyane/gameday-net/internal/config"
	log "github.com/nghyane/gameday-net/internal/logging"
)

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.done:
		return
	default:
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		w.timer = nil
		w.mu.Unlock()
		w.reloadIfChanged()
	})
}

// reloadIfChanged rereads the file and, when its hash differs from the last
// applied one, parses it and invokes the callback.
func (w *Watcher) reloadIfChanged() {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	data, err := os.ReadFile(w.configPath)
	if err != nil {
		log.Errorf("failed to read config file for reload: %v", err)
		return
	}
	if len(data) == 0 {
		log.Debug("ignoring empty config file write")
		return
	}
	hash := hashOf(data)

	w.mu.Lock()
	unchanged := w.lastHash != "" && w.lastHash == hash
	old := w.current
	w.mu.Unlock()
	if unchanged {
		log.Debug("config file content unchanged (hash match), skipping reload")
		return
	}

	updated, err := config.Parse(data)
	if err != nil {
		log.Errorf("failed to reload config: %v", err)
		return
	}
	updated.ApplyEnv()
	if err := updated.Validate(); err != nil {
		log.Errorf("reloaded config rejected: %v", err)
		return
	}

	w.mu.Lock()
	w.current = updated
	w.lastHash = hash
	w.mu.Unlock()

	if old != nil {
		if details := describeChanges(old, updated); len(details) > 0 {
			log.Debug("config changes detected:")
			for _, d := range details {
				log.Debugf("  %s", d)
			}
		}
	}
	log.Infof("config reloaded from %s", w.configPath)
	if w.onReload != nil {
		w.onReload(old, updated)
	}
}

// describeChanges lists the hot-reloadable settings that differ.
func describeChanges(old, updated *config.Config) []string {
	var out []string
	add := func(name string, a, b any) {
		if a != b {
			out = append(out, fmt.Sprintf("%s: %v -> %v", name, a, b))
		}
	}
	add("request-retry", old.RequestRetry, updated.RequestRetry)
	add("retry-base-delay", old.RetryBaseDelay, updated.RetryBaseDelay)
	add("request-timeout", old.RequestTimeout, updated.RequestTimeout)
	add("heartbeat-interval", old.HeartbeatInterval, updated.HeartbeatInterval)
	add("max-reconnect-attempts", old.MaxReconnectAttempts, updated.MaxReconnectAttempts)
	add("reconnect-base-delay", old.ReconnectBaseDelay, updated.ReconnectBaseDelay)
	add("reconnect-max-delay", old.ReconnectMaxDelay, updated.ReconnectMaxDelay)
	add("debug", old.Debug, updated.Debug)
	if old.BaseURL != updated.BaseURL {
		out = append(out, "base-url changed (restart required)")
	}
	if old.Credentials.Backend != updated.Credentials.Backend {
		out = append(out, "credentials.backend changed (restart required)")
	}
	return out
}
