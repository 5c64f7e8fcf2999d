// Package watch reacts to file changes made by other processes: edits of
// the database registry file and writes to the directories of
// watch-readonly stores.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last event of a burst
// before a callback fires.
const DefaultDebounce = 300 * time.Millisecond

type target struct {
	id    string
	dir   string
	file  string // base name filter, empty for every file in dir
	fn    func()
	timer *time.Timer
}

// Watcher dispatches debounced change notifications to registered targets.
type Watcher struct {
	fs       *fsnotify.Watcher
	log      *slog.Logger
	debounce time.Duration

	mu      sync.Mutex
	targets map[string]*target
	dirRefs map[string]int
}

// New creates a watcher. Call Run to start dispatching.
func New(logger *slog.Logger, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		fs:       fsw,
		log:      logger,
		debounce: debounce,
		targets:  make(map[string]*target),
		dirRefs:  make(map[string]int),
	}, nil
}

// WatchFile calls fn after path changes. The parent directory is watched
// so files replaced by rename are still noticed.
func (w *Watcher) WatchFile(id, path string, fn func()) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	return w.add(&target{id: id, dir: filepath.Dir(abs), file: filepath.Base(abs), fn: fn})
}

// WatchDir calls fn after any file directly inside dir changes.
func (w *Watcher) WatchDir(id, dir string, fn func()) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	return w.add(&target{id: id, dir: abs, fn: fn})
}

func (w *Watcher) add(t *target) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if old, ok := w.targets[t.id]; ok {
		w.removeLocked(old)
	}
	if w.dirRefs[t.dir] == 0 {
		if err := w.fs.Add(t.dir); err != nil {
			return err
		}
	}
	w.dirRefs[t.dir]++
	w.targets[t.id] = t
	w.log.Debug("watch: added", slog.String("id", t.id), slog.String("dir", t.dir))
	return nil
}

// Unwatch removes a target. Unknown ids are ignored.
func (w *Watcher) Unwatch(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.targets[id]; ok {
		w.removeLocked(t)
	}
}

func (w *Watcher) removeLocked(t *target) {
	if t.timer != nil {
		t.timer.Stop()
	}
	delete(w.targets, t.id)
	w.dirRefs[t.dir]--
	if w.dirRefs[t.dir] <= 0 {
		delete(w.dirRefs, t.dir)
		_ = w.fs.Remove(t.dir)
	}
}

// Run processes file events until ctx is cancelled, then releases the
// underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()
	w.log.Info("watch: started")

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			for _, t := range w.targets {
				if t.timer != nil {
					t.timer.Stop()
				}
			}
			w.mu.Unlock()
			w.log.Info("watch: stopped")
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			w.dispatch(ev.Name)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Error("watch: error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) dispatch(name string) {
	dir, base := filepath.Dir(name), filepath.Base(name)
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, t := range w.targets {
		if t.dir != dir || (t.file != "" && t.file != base) {
			continue
		}
		if t.timer == nil {
			t.timer = time.AfterFunc(w.debounce, t.fn)
		} else {
			t.timer.Reset(w.debounce)
		}
	}
}
