package index

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/jamesainslie/sift/pkg/sift/logging"
)

// Watcher keeps an Index current with filesystem changes below the
// directories it watches.
type Watcher struct {
	idx    *Index
	fsw    *fsnotify.Watcher
	log    *logging.Logger
	mu     sync.Mutex
	dirs   map[string]bool
	closed bool
}

// NewWatcher creates a watcher that updates idx.
func NewWatcher(idx *Index) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		idx:  idx,
		fsw:  fsw,
		log:  logging.Get("watcher"),
		dirs: make(map[string]bool),
	}, nil
}

// Add watches root and every directory below it. Symbolic links are not
// followed.
func (w *Watcher) Add(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	info, err := os.Lstat(abs)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return nil
	}
	return w.addTree(abs, false)
}

// addTree adds watches below dir. With upsert set it also indexes the
// files it finds, for directories that appear while watching.
func (w *Watcher) addTree(dir string, upsert bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // skip what we cannot read
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			return w.watch(path)
		}
		if upsert {
			if err := w.idx.Upsert(path); err != nil {
				w.log.Debug("upsert failed", "path", path, "err", err)
			}
		}
		return nil
	})
}

func (w *Watcher) watch(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.dirs[dir] {
		return nil
	}
	if err := w.fsw.Add(dir); err != nil {
		w.log.Warn("failed to add watch", "path", dir, "err", err)
		return err
	}
	w.dirs[dir] = true
	return nil
}

func (w *Watcher) unwatch(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for dir := range w.dirs {
		if dir == path || isBelow(dir, path) {
			_ = w.fsw.Remove(dir)
			delete(w.dirs, dir)
		}
	}
}

// Watched returns the number of directories being watched.
func (w *Watcher) Watched() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirs)
}

// Run applies events to the index until ctx is done or the watcher is
// closed. onChange, if set, is called after each event has been applied.
func (w *Watcher) Run(ctx context.Context, onChange func(path string, op fsnotify.Op)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.apply(ev)
			if onChange != nil {
				onChange(ev.Name, ev.Op)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error("watch error", "err", err)
		}
	}
}

func (w *Watcher) apply(ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Create):
		w.created(ev.Name)
	case ev.Has(fsnotify.Write):
		if err := w.idx.Upsert(ev.Name); err != nil {
			w.log.Debug("upsert failed", "path", ev.Name, "err", err)
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		// A rename is followed by a create for the new name.
		w.unwatch(ev.Name)
		n, err := w.idx.Remove(ev.Name)
		if err != nil {
			w.log.Warn("remove failed", "path", ev.Name, "err", err)
			return
		}
		w.log.Debug("removed", "path", ev.Name, "records", n)
	}
}

func (w *Watcher) created(path string) {
	info, err := os.Lstat(path)
	if err != nil {
		return
	}
	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		return
	case info.IsDir():
		_ = w.addTree(path, true)
	default:
		if err := w.idx.Upsert(path); err != nil {
			w.log.Debug("upsert failed", "path", path, "err", err)
		}
	}
}

// Close stops watching. Run returns once the event channels are closed.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	w.dirs = make(map[string]bool)
	return w.fsw.Close()
}

// Watch adds root to a new watcher and runs it until ctx is done.
func (idx *Index) Watch(ctx context.Context, root string, onChange func(path string, op fsnotify.Op)) error {
	w, err := NewWatcher(idx)
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(root); err != nil {
		return err
	}
	idx.log.Info("watching", "root", root, "dirs", w.Watched())
	w.Run(ctx, onChange)
	return ctx.Err()
}

func isBelow(path, parent string) bool {
	return len(path) > len(parent) && path[:len(parent)+1] == parent+sep
}
