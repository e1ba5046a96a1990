// Package reload re-applies the runtime-mutable configuration (log level,
// global rate limit, seeded sources) on SIGHUP or when the file changes.
package reload

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultPollInterval = 5 * time.Second

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	// ConfigPath is the path to the configuration file to watch.
	ConfigPath string

	// PollInterval is how often the file is stat'ed when no filesystem
	// notification arrives. Defaults to 5s.
	PollInterval time.Duration

	Logger *slog.Logger
}

func (c WatcherConfig) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return defaultPollInterval
}

// Event reports that the watched file changed.
type Event struct {
	ConfigPath string
	ModTime    time.Time
}

// fileStamp identifies one version of the file. A zero stamp means the
// file could not be stat'ed.
type fileStamp struct {
	modTime time.Time
	size    int64
}

// Watcher reports modifications of a configuration file. The parent
// directory is watched with fsnotify so editors that replace the file are
// seen; a periodic stat covers filesystems without notifications. Changes
// are coalesced: at most one event is pending at a time.
type Watcher struct {
	cfg     WatcherConfig
	events  chan Event
	stop    chan struct{}
	stopped chan struct{}

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewWatcher creates a new file watcher.
func NewWatcher(cfg WatcherConfig) *Watcher {
	return &Watcher{
		cfg:     cfg,
		events:  make(chan Event, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start begins watching. Only the first call starts the goroutine.
func (w *Watcher) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		w.started.Store(true)
		go w.poll(ctx)
	})
}

// Events returns the channel of change events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Stop stops the watcher and waits for its goroutine to exit.
// Safe to call multiple times and before Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	if w.started.Load() {
		<-w.stopped
	}
}

func (w *Watcher) poll(ctx context.Context) {
	defer close(w.stopped)

	ticker := time.NewTicker(w.cfg.pollInterval())
	defer ticker.Stop()

	var (
		notify <-chan fsnotify.Event
		errs   <-chan error
	)
	if fsw := w.watchDir(); fsw != nil {
		defer func() { _ = fsw.Close() }()
		notify, errs = fsw.Events, fsw.Errors
	}

	last := w.stamp()
	check := func() {
		cur := w.stamp()
		// A file being replaced can briefly disappear; wait for it.
		if cur == (fileStamp{}) || cur == last {
			return
		}
		last = cur
		select {
		case w.events <- Event{ConfigPath: w.cfg.ConfigPath, ModTime: cur.modTime}:
		default:
		}
	}

	name := filepath.Base(w.cfg.ConfigPath)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			check()
		case evt, ok := <-notify:
			if !ok {
				notify = nil
				continue
			}
			if filepath.Base(evt.Name) == name && evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				check()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger().Warn("config watcher error", "error", err)
		}
	}
}

// watchDir returns a watcher on the config file's directory, or nil when
// notifications are unavailable and only polling applies.
func (w *Watcher) watchDir() *fsnotify.Watcher {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger().Debug("fsnotify unavailable, polling config file", "error", err)
		return nil
	}
	if err := fsw.Add(filepath.Dir(w.cfg.ConfigPath)); err != nil {
		w.logger().Debug("cannot watch config directory, polling config file", "error", err)
		_ = fsw.Close()
		return nil
	}
	return fsw
}

func (w *Watcher) logger() *slog.Logger {
	if w.cfg.Logger != nil {
		return w.cfg.Logger
	}
	return slog.Default()
}

func (w *Watcher) stamp() fileStamp {
	info, err := os.Stat(w.cfg.ConfigPath)
	if err != nil {
		return fileStamp{}
	}
	return fileStamp{modTime: info.ModTime(), size: info.Size()}
}
