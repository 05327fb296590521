package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dshills/plugbus/internal/plugin"
)

type fakeReloader struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (f *fakeReloader) Reload(_ context.Context, opts plugin.ReloadOptions) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, opts.Plugin)
	return f.err == nil, f.err
}

func (f *fakeReloader) reloaded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.names...)
}

func newTestWatcher(t *testing.T, r Reloader, opts ...Option) *Watcher {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	w, err := New(r, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("return {}"), 0o644))
}

func TestWatcher_WatchErrors(t *testing.T) {
	w := newTestWatcher(t, &fakeReloader{})
	dir := t.TempDir()

	assert.ErrorIs(t, w.Watch("a", filepath.Join(dir, "missing")), ErrPathNotExist)
	require.NoError(t, w.Watch("a", dir))
	assert.ErrorIs(t, w.Watch("a", dir), ErrAlreadyWatching)
	assert.True(t, w.IsWatching("a"))

	require.NoError(t, w.Unwatch("a"))
	assert.ErrorIs(t, w.Unwatch("a"), ErrNotWatching)
	assert.False(t, w.IsWatching("a"))

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Watch("b", dir), ErrWatcherClosed)
}

func TestWatcher_MatchesTargets(t *testing.T) {
	r := &fakeReloader{}
	w := newTestWatcher(t, r, WithDebounce(time.Hour))

	dir := t.TempDir()
	single := filepath.Join(dir, "single.lua")
	touch(t, single)
	pkg := filepath.Join(dir, "pkg")
	touch(t, filepath.Join(pkg, "init.lua"))

	require.NoError(t, w.Watch("single", single))
	require.NoError(t, w.Watch("pkg", pkg))

	w.handle(fsnotify.Event{Name: filepath.Join(pkg, "util.lua"), Op: fsnotify.Write})
	w.handle(fsnotify.Event{Name: filepath.Join(pkg, "init.lua"), Op: fsnotify.Create})
	w.handle(fsnotify.Event{Name: filepath.Join(dir, "other.lua"), Op: fsnotify.Write})
	w.handle(fsnotify.Event{Name: filepath.Join(pkg, ".init.lua.swp"), Op: fsnotify.Write})
	w.handle(fsnotify.Event{Name: single, Op: fsnotify.Chmod})

	assert.Equal(t, 1, w.Stats().PendingReloads)

	w.handle(fsnotify.Event{Name: single, Op: fsnotify.Rename})
	assert.Equal(t, 2, w.Stats().PendingReloads)

	w.Flush()
	assert.Equal(t, []string{"pkg", "single"}, r.reloaded())

	stats := w.Stats()
	assert.Equal(t, 2, stats.WatchedPlugins)
	assert.Equal(t, 0, stats.PendingReloads)
	assert.Equal(t, uint64(4), stats.TotalEvents)
	assert.Equal(t, uint64(2), stats.Reloads)
}

func TestWatcher_Debounce(t *testing.T) {
	r := &fakeReloader{}
	w := newTestWatcher(t, r, WithDebounce(20*time.Millisecond))

	dir := t.TempDir()
	require.NoError(t, w.Watch("p", dir))

	for range 5 {
		w.handle(fsnotify.Event{Name: filepath.Join(dir, "init.lua"), Op: fsnotify.Write})
	}

	require.Eventually(t, func() bool {
		return len(r.reloaded()) == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"p"}, r.reloaded())
}

func TestWatcher_UnwatchDropsPending(t *testing.T) {
	r := &fakeReloader{}
	w := newTestWatcher(t, r, WithDebounce(time.Hour))

	dir := t.TempDir()
	require.NoError(t, w.Watch("p", dir))
	w.handle(fsnotify.Event{Name: filepath.Join(dir, "init.lua"), Op: fsnotify.Write})
	require.NoError(t, w.Unwatch("p"))

	w.Flush()
	assert.Empty(t, r.reloaded())
}

func TestWatcher_ReloadError(t *testing.T) {
	boom := errors.New("boom")
	r := &fakeReloader{err: boom}
	w := newTestWatcher(t, r, WithDebounce(time.Hour))

	dir := t.TempDir()
	require.NoError(t, w.Watch("p", dir))
	w.handle(fsnotify.Event{Name: filepath.Join(dir, "init.lua"), Op: fsnotify.Write})
	w.Flush()

	stats := w.Stats()
	assert.Equal(t, uint64(1), stats.Errors)
	assert.Equal(t, uint64(0), stats.Reloads)
	assert.ErrorIs(t, stats.LastError, boom)
}

func TestWatcher_FileSystem(t *testing.T) {
	r := &fakeReloader{}
	w := newTestWatcher(t, r, WithDebounce(10*time.Millisecond))

	dir := t.TempDir()
	script := filepath.Join(dir, "init.lua")
	touch(t, script)
	require.NoError(t, w.Watch("live", dir))

	touch(t, script)

	require.Eventually(t, func() bool {
		return len(r.reloaded()) > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "live", r.reloaded()[0])
}
