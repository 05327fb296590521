// Package watcher reloads plugins when their files change on disk.
package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/dshills/plugbus/internal/plugin"
)

// DefaultDebounce is the quiet period before a changed plugin is reloaded.
const DefaultDebounce = 200 * time.Millisecond

// Watcher errors.
var (
	ErrWatcherClosed   = errors.New("watcher is closed")
	ErrAlreadyWatching = errors.New("plugin already watched")
	ErrNotWatching     = errors.New("plugin not watched")
	ErrPathNotExist    = errors.New("path does not exist")
)

// Reloader reloads a plugin. *plugin.Manager implements it.
type Reloader interface {
	Reload(ctx context.Context, opts plugin.ReloadOptions) (bool, error)
}

// Stats are watcher statistics.
type Stats struct {
	WatchedPlugins int
	PendingReloads int
	TotalEvents    uint64
	Reloads        uint64
	Errors         uint64
	LastError      error
}

// target is a watched plugin. An empty file means any file in dir.
type target struct {
	dir  string
	file string
}

// Watcher maps file system events to plugin reloads. Rapid changes to the
// same plugin are coalesced into a single reload.
type Watcher struct {
	reloader Reloader
	delay    time.Duration
	logger   *zap.Logger

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	targets map[string]target
	dirs    map[string]int
	pending map[string]*time.Timer
	closed  bool
	lastErr error

	ctx      context.Context
	cancel   context.CancelFunc
	closedWg sync.WaitGroup

	totalEvents atomic.Uint64
	reloads     atomic.Uint64
	errCount    atomic.Uint64
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before a reload.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New creates a watcher reloading plugins through r.
func New(r Reloader, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		reloader: r,
		delay:    DefaultDebounce,
		logger:   zap.NewNop(),
		fsw:      fsw,
		targets:  make(map[string]target),
		dirs:     make(map[string]int),
		pending:  make(map[string]*time.Timer),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(w)
	}

	w.closedWg.Add(1)
	go w.processLoop()
	return w, nil
}

// Watch reloads the named plugin when path changes. A directory path
// matches every file in it; a file path matches only that file.
func (w *Watcher) Watch(name, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrPathNotExist
		}
		return err
	}

	t := target{dir: absPath}
	if !info.IsDir() {
		t = target{dir: filepath.Dir(absPath), file: absPath}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	if _, exists := w.targets[name]; exists {
		return ErrAlreadyWatching
	}
	if w.dirs[t.dir] == 0 {
		if err := w.fsw.Add(t.dir); err != nil {
			return err
		}
	}
	w.dirs[t.dir]++
	w.targets[name] = t

	w.logger.Debug("watching plugin", zap.String("plugin", name), zap.String("path", absPath))
	return nil
}

// Unwatch stops watching the named plugin and drops its pending reload.
func (w *Watcher) Unwatch(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	t, exists := w.targets[name]
	if !exists {
		return ErrNotWatching
	}
	delete(w.targets, name)
	if timer, ok := w.pending[name]; ok {
		timer.Stop()
		delete(w.pending, name)
	}

	w.dirs[t.dir]--
	if w.dirs[t.dir] == 0 {
		delete(w.dirs, t.dir)
		if err := w.fsw.Remove(t.dir); err != nil {
			return err
		}
	}
	return nil
}

// IsWatching reports whether the named plugin is watched.
func (w *Watcher) IsWatching(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.targets[name]
	return ok
}

// Flush runs every pending reload now, in name order.
func (w *Watcher) Flush() {
	w.mu.Lock()
	names := make([]string, 0, len(w.pending))
	for name, timer := range w.pending {
		timer.Stop()
		names = append(names, name)
	}
	clear(w.pending)
	w.mu.Unlock()

	sort.Strings(names)
	for _, name := range names {
		w.reload(name)
	}
}

// Stats returns watcher statistics.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	s := Stats{
		WatchedPlugins: len(w.targets),
		PendingReloads: len(w.pending),
		LastError:      w.lastErr,
	}
	w.mu.Unlock()

	s.TotalEvents = w.totalEvents.Load()
	s.Reloads = w.reloads.Load()
	s.Errors = w.errCount.Load()
	return s
}

// Close stops the watcher. Pending reloads are dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for name, timer := range w.pending {
		timer.Stop()
		delete(w.pending, name)
	}
	w.mu.Unlock()

	w.cancel()
	err := w.fsw.Close()
	w.closedWg.Wait()
	return err
}

func (w *Watcher) processLoop() {
	defer w.closedWg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.recordError(err)
		}
	}
}

// handle schedules a reload for every plugin the event touches.
func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) &&
		!ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
		return
	}
	path, err := filepath.Abs(ev.Name)
	if err != nil {
		return
	}
	if base := filepath.Base(path); len(base) > 0 && base[0] == '.' {
		return
	}

	w.totalEvents.Add(1)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	dir := filepath.Dir(path)
	for name, t := range w.targets {
		if t.file == path || (t.file == "" && t.dir == dir) {
			w.schedule(name)
		}
	}
}

// schedule starts or restarts the debounce timer of a plugin.
func (w *Watcher) schedule(name string) {
	if timer, exists := w.pending[name]; exists {
		timer.Reset(w.delay)
		return
	}
	w.pending[name] = time.AfterFunc(w.delay, func() {
		w.mu.Lock()
		_, exists := w.pending[name]
		delete(w.pending, name)
		w.mu.Unlock()
		if exists {
			w.reload(name)
		}
	})
}

func (w *Watcher) reload(name string) {
	if w.ctx.Err() != nil {
		return
	}
	if _, err := w.reloader.Reload(w.ctx, plugin.ReloadOptions{Plugin: name}); err != nil {
		w.recordError(err)
		w.logger.Warn("plugin reload failed", zap.String("plugin", name), zap.Error(err))
		return
	}
	w.reloads.Add(1)
	w.logger.Info("plugin reloaded from disk", zap.String("plugin", name))
}

func (w *Watcher) recordError(err error) {
	w.errCount.Add(1)
	w.mu.Lock()
	w.lastErr = err
	w.mu.Unlock()
}
