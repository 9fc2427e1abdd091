package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/taskforge-ai/taskforge/internal/logging"
)

// Watcher reloads configuration when the config file changes on disk.
// Only changes that are safe to apply live (currently the log level)
// should be acted on by the callback.
type Watcher struct {
	fw     *fsnotify.Watcher
	path   string
	logger *logging.Logger
	done   chan struct{}
}

// Watch starts watching path and invokes onChange with each
// successfully reloaded configuration. Invalid intermediate states
// (editors write in multiple steps) are logged and skipped.
func Watch(path string, logger *logging.Logger, onChange func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors replace files by rename, which
	// drops a watch on the file itself.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, err
	}

	w := &Watcher{fw: fw, path: path, logger: logger, done: make(chan struct{})}
	go w.loop(onChange)
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	err := w.fw.Close()
	<-w.done
	return err
}

func (w *Watcher) loop(onChange func(*Config)) {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			cfg, err := NewLoader().WithConfigFile(w.path).Load()
			if err != nil {
				w.logger.Warn("config reload skipped", "path", w.path, "error", err)
				continue
			}
			w.logger.Info("config reloaded", "path", w.path)
			onChange(cfg)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}
