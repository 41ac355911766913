package config

import (
	"context"
	"log/slog"
	"os"
	"time"

	"lock-approach.klederson.com/internal/mode"
)

// Watcher observes the config file and publishes the mode flag pair whenever
// it changes. The file is polled by modification time.
type Watcher struct {
	path     string
	interval time.Duration
	log      *slog.Logger

	last    mode.Flags
	modTime time.Time
}

// NewWatcher creates a watcher seeded with the flags already in effect.
func NewWatcher(path string, interval time.Duration, initial mode.Flags, log *slog.Logger) *Watcher {
	w := &Watcher{
		path:     path,
		interval: interval,
		log:      log.With("component", "config-watcher"),
		last:     initial,
	}
	if fi, err := os.Stat(path); err == nil {
		w.modTime = fi.ModTime()
	}
	return w
}

// Flags converts the modes section to the selector's flag pair.
func (c *Config) Flags() mode.Flags {
	return mode.Flags{
		RangingAllowed:    c.Modes.Ranging,
		SignalOnlyAllowed: c.Modes.SignalOnly,
	}
}

// Run polls until ctx is cancelled, sending changed flags to out.
func (w *Watcher) Run(ctx context.Context, out chan<- mode.Flags) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			flags, changed := w.poll()
			if !changed {
				continue
			}
			select {
			case out <- flags:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *Watcher) poll() (mode.Flags, bool) {
	fi, err := os.Stat(w.path)
	if err != nil {
		return w.last, false
	}
	if !fi.ModTime().After(w.modTime) {
		return w.last, false
	}
	w.modTime = fi.ModTime()

	cfg, err := Load(w.path)
	if err != nil {
		w.log.Warn("ignoring unreadable config update", "path", w.path, "error", err)
		return w.last, false
	}
	flags := cfg.Flags()
	if flags == w.last {
		return flags, false
	}
	w.log.Info("mode flags changed",
		"ranging", flags.RangingAllowed, "signal_only", flags.SignalOnlyAllowed)
	w.last = flags
	return flags, true
}
