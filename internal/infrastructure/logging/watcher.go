package logging

import (
	"fmt"

	"github.com/fsnotify/fsnotify"

	"github.com/nerrad567/velux-bridge/internal/infrastructure/config"
)

// Watcher re-applies the configured log level when the configuration file
// changes on disk. Only logging.level is live-reloaded; every other setting
// still requires a restart.
type Watcher struct {
	path    string
	logger  *Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher creates a watcher for the given configuration file.
// Call Start to begin watching and Close to stop.
func NewWatcher(path string, logger *Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	return &Watcher{
		path:    path,
		logger:  logger,
		watcher: fsw,
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching. Events are handled on an internal goroutine.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.path); err != nil {
		return fmt.Errorf("watching %s: %w", w.path, err)
	}

	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

// reload parses the file and applies the logging level. A file that no
// longer validates is logged and otherwise ignored; the running
// configuration stays as it is.
func (w *Watcher) reload() {
	cfg, err := config.Load(w.path)
	if err != nil {
		w.logger.Warn("config reload skipped", "error", err)
		return
	}

	w.logger.SetLevel(cfg.Logging.Level)
	w.logger.Info("log level applied", "level", cfg.Logging.Level)
}

// Close stops watching. Safe to call once.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
