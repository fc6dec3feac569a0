// Package watch reloads the dashboard data when the scraper rewrites its CSV
// files. It watches the parent directories of a fixed set of files (so
// atomic replace-by-rename is seen), debounces bursts of events and then
// runs one action.
//
// Typical usage:
//
//	w, err := watch.New([]string{"public/scrapercompletions.csv"}, watch.Options{Debounce: 500 * time.Millisecond})
//	go w.OnChange(ctx, st.Reload)
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Options tunes the watcher behaviour.
type Options struct {
	// Debounce is the quiet period after the last event before the action
	// fires. Each new event restarts it. Default: 500ms.
	Debounce time.Duration
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Debounce <= 0 {
		o.Debounce = 500 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher runs an action after tracked files change. Stats, Version and
// WaitForVersion are safe for concurrent use.
type Watcher struct {
	fsw   *fsnotify.Watcher
	files map[string]bool
	opts  Options

	// version counts successful actions.
	version     atomic.Int64
	versionMu   sync.Mutex
	versionCond *sync.Cond

	events   atomic.Int64
	changes  atomic.Int64
	errors   atomic.Int64
	reloads  atomic.Int64
	reloadNs atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Events          int64         `json:"events"`
	ChangesDetected int64         `json:"changes_detected"`
	Errors          int64         `json:"errors"`
	Reloads         int64         `json:"reloads"`
	AvgReloadTime   time.Duration `json:"avg_reload_time"`
}

// New watches files. Their directories must exist; the files need not.
func New(files []string, opts Options) (*Watcher, error) {
	opts.defaults()
	if len(files) == 0 {
		return nil, fmt.Errorf("watch: no files to watch")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	w := &Watcher{fsw: fsw, files: make(map[string]bool), opts: opts}
	w.versionCond = sync.NewCond(&w.versionMu)

	dirs := make(map[string]bool)
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch: %s: %w", f, err)
		}
		w.files[abs] = true
		dir := filepath.Dir(abs)
		if dirs[dir] {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch: add %s: %w", dir, err)
		}
		dirs[dir] = true
	}
	return w, nil
}

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	s := Stats{
		Events:          w.events.Load(),
		ChangesDetected: w.changes.Load(),
		Errors:          w.errors.Load(),
		Reloads:         w.reloads.Load(),
	}
	if s.Reloads > 0 {
		s.AvgReloadTime = time.Duration(w.reloadNs.Load() / s.Reloads)
	}
	return s
}

// Version returns the number of successful actions so far.
func (w *Watcher) Version() int64 { return w.version.Load() }

// OnChange blocks until ctx is cancelled, then closes the watcher. When a
// tracked file is written, created, renamed or removed and the debounce
// window passes without further events, action is called. A failed action
// is counted and logged; the next change triggers it again.
func (w *Watcher) OnChange(ctx context.Context, action func() error) {
	log := w.opts.Logger
	defer w.fsw.Close()

	var debounce *time.Timer
	var debounceCh <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	log.Info("watch: started", "files", len(w.files), "debounce", w.opts.Debounce)
	for {
		select {
		case <-ctx.Done():
			log.Info("watch: stopped")
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.events.Add(1)
			if !w.files[filepath.Clean(ev.Name)] {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
				continue
			}
			w.changes.Add(1)
			log.Debug("watch: change detected, debouncing", "file", ev.Name, "op", ev.Op.String())
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(w.opts.Debounce)
			debounceCh = debounce.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.errors.Add(1)
			log.Warn("watch: fsnotify error", "error", err)

		case <-debounceCh:
			debounceCh = nil
			w.fire(log, action)
		}
	}
}

// WaitForVersion blocks until at least target actions have succeeded or ctx
// expires.
func (w *Watcher) WaitForVersion(ctx context.Context, target int64) error {
	if w.version.Load() >= target {
		return nil
	}

	stop := context.AfterFunc(ctx, func() {
		w.versionMu.Lock()
		w.versionCond.Broadcast()
		w.versionMu.Unlock()
	})
	defer stop()

	w.versionMu.Lock()
	defer w.versionMu.Unlock()
	for w.version.Load() < target {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.versionCond.Wait()
	}
	return nil
}

func (w *Watcher) fire(log *slog.Logger, action func() error) {
	start := time.Now()
	if err := action(); err != nil {
		w.errors.Add(1)
		log.Error("watch: reload failed", "error", err)
		return
	}
	elapsed := time.Since(start)
	w.reloads.Add(1)
	w.reloadNs.Add(int64(elapsed))

	w.versionMu.Lock()
	v := w.version.Add(1)
	w.versionCond.Broadcast()
	w.versionMu.Unlock()
	log.Info("watch: reload triggered", "version", v, "duration", elapsed)
}
