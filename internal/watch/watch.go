// Package watch re-runs scenarios whenever a feature or config file changes.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"

	"github.com/msageha/stepflow/internal/logging"
)

const DefaultDebounce = 300 * time.Millisecond

// RunFunc performs one run. Its error is logged, not returned by Watch.
type RunFunc func(ctx context.Context) error

type Watcher struct {
	paths    []string
	exts     []string
	debounce time.Duration
	run      RunFunc
	logger   *logging.Logger

	group singleflight.Group
	runs  atomic.Int64
}

// New watches paths (files or directory trees) for changes to files with
// one of exts.
func New(paths, exts []string, debounce time.Duration, run RunFunc, logger *logging.Logger) *Watcher {
	if logger == nil {
		logger = logging.Discard()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		paths:    paths,
		exts:     exts,
		debounce: debounce,
		run:      run,
		logger:   logger.With("watch"),
	}
}

// Runs is the number of runs started so far.
func (w *Watcher) Runs() int64 { return w.runs.Load() }

// Trigger starts a run. Callers arriving while a run is in flight share
// its outcome instead of starting another.
func (w *Watcher) Trigger(ctx context.Context) error {
	_, err, shared := w.group.Do("run", func() (any, error) {
		w.runs.Add(1)
		return nil, w.run(ctx)
	})
	if shared {
		w.logger.Debugf("joined run in flight")
	}
	return err
}

// Watch runs once, then again after every burst of changes, until ctx is
// done.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	for _, p := range w.paths {
		if err := w.add(watcher, p); err != nil {
			return err
		}
	}

	if err := w.Trigger(ctx); err != nil {
		w.logger.Errorf("run failed: %v", err)
	}
	w.logger.Infof("watching %s for changes", strings.Join(w.paths, ", "))

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.add(watcher, event.Name)
				}
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debugf("fsnotify event=%s file=%s", event.Op, event.Name)
			timer.Reset(w.debounce)
		case <-timer.C:
			if err := w.Trigger(ctx); err != nil {
				w.logger.Errorf("run failed: %v", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Errorf("fsnotify error=%v", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if len(w.exts) == 0 {
		return true
	}
	ext := filepath.Ext(base)
	for _, e := range w.exts {
		if ext == e {
			return true
		}
	}
	return false
}

// add watches a directory tree, or the directory holding a file.
func (w *Watcher) add(watcher *fsnotify.Watcher, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	if !info.IsDir() {
		return watcher.Add(filepath.Dir(path))
	}
	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := watcher.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}
