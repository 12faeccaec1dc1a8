package shader

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher records the last modification time of files in watched
// directories.
type Watcher struct {
	fs *fsnotify.Watcher

	mu       sync.Mutex
	modified map[string]time.Time
	dirs     map[string]bool

	done chan struct{}
}

// NewWatcher starts watching for file changes. Call Close to stop it.
func NewWatcher() (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("shader: create watcher: %w", err)
	}
	w := &Watcher{
		fs:       fw,
		modified: make(map[string]time.Time),
		dirs:     make(map[string]bool),
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Watch adds the directory containing path. Watching the same directory
// twice is a no-op.
func (w *Watcher) Watch(path string) error {
	dir := filepath.Dir(filepath.Clean(path))

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dirs[dir] {
		return nil
	}
	if err := w.fs.Add(dir); err != nil {
		return fmt.Errorf("shader: watch %s: %w", dir, err)
	}
	w.dirs[dir] = true
	return nil
}

// ModifiedSince reports whether path changed after t.
func (w *Watcher) ModifiedSince(path string, t time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	m, ok := w.modified[filepath.Clean(path)]
	return ok && m.After(t)
}

// Touch marks path as modified now.
func (w *Watcher) Touch(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.modified[filepath.Clean(path)] = time.Now()
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				slogger().Debug("shader file changed", "path", ev.Name, "op", ev.Op.String())
				w.Touch(ev.Name)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			slogger().Warn("shader watcher error", "error", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	err := w.fs.Close()
	<-w.done
	return err
}
