package localvault

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultsync/vaultsync/internal/vaultsync"
)

type discardWriterLV struct{}

func (discardWriterLV) Write(p []byte) (int, error) { return len(p), nil }

func discardLoggerLV() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriterLV{}, nil))
}

// fakeFsWatcher is an in-memory FsWatcher: tests push fsnotify.Event values
// onto evCh to simulate what the real library would report.
type fakeFsWatcher struct {
	evCh  chan fsnotify.Event
	errCh chan error

	addCalls    []string
	removeCalls []string
	closed      bool
}

func newFakeFsWatcher() *fakeFsWatcher {
	return &fakeFsWatcher{
		evCh:  make(chan fsnotify.Event, 16),
		errCh: make(chan error, 4),
	}
}

func (f *fakeFsWatcher) Add(name string) error {
	f.addCalls = append(f.addCalls, name)
	return nil
}

func (f *fakeFsWatcher) Remove(name string) error {
	f.removeCalls = append(f.removeCalls, name)
	return nil
}

func (f *fakeFsWatcher) Close() error {
	f.closed = true
	return nil
}

func (f *fakeFsWatcher) Events() <-chan fsnotify.Event { return f.evCh }
func (f *fakeFsWatcher) Errors() <-chan error           { return f.errCh }

func newTestWatcher(root string, fw *fakeFsWatcher) *Watcher {
	return &Watcher{
		watcher: fw,
		root:    root,
		logger:  discardLoggerLV(),
		events:  make(chan vaultsync.FileEvent, 16),
		dirs:    make(map[string]bool),
	}
}

func TestWatcher_Write_EmitsModified(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.md"), []byte("x"), 0o644))

	fw := newFakeFsWatcher()
	w := newTestWatcher(root, fw)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go w.Run(ctx)

	fw.evCh <- fsnotify.Event{Name: filepath.Join(root, "a.md"), Op: fsnotify.Write}

	select {
	case ev := <-w.Events():
		assert.Equal(t, "a.md", ev.Path)
		assert.Equal(t, vaultsync.ChangeModified, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected a modified event")
	}
}

func TestWatcher_Create_EmitsCreatedForNewFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "new.md"), []byte("x"), 0o644))

	fw := newFakeFsWatcher()
	w := newTestWatcher(root, fw)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go w.Run(ctx)

	fw.evCh <- fsnotify.Event{Name: filepath.Join(root, "new.md"), Op: fsnotify.Create}

	select {
	case ev := <-w.Events():
		assert.Equal(t, "new.md", ev.Path)
		assert.Equal(t, vaultsync.ChangeCreated, ev.Type)
		assert.Empty(t, ev.OldPath)
		assert.False(t, ev.IsFolder)
	case <-time.After(time.Second):
		t.Fatal("expected a created event")
	}
}

func TestWatcher_Create_DetectsNewFolder(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "projects"), 0o755))

	fw := newFakeFsWatcher()
	w := newTestWatcher(root, fw)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go w.Run(ctx)

	fw.evCh <- fsnotify.Event{Name: filepath.Join(root, "projects"), Op: fsnotify.Create}

	select {
	case ev := <-w.Events():
		assert.Equal(t, "projects", ev.Path)
		assert.True(t, ev.IsFolder)
	case <-time.After(time.Second):
		t.Fatal("expected a folder created event")
	}

	assert.Contains(t, fw.addCalls, filepath.Join(root, "projects"), "a new directory must get its own watch added")
}

func TestWatcher_RemoveThenCreate_CoalescesIntoRename(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "new.md"), []byte("x"), 0o644))

	fw := newFakeFsWatcher()
	w := newTestWatcher(root, fw)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go w.Run(ctx)

	fw.evCh <- fsnotify.Event{Name: filepath.Join(root, "old.md"), Op: fsnotify.Remove}
	fw.evCh <- fsnotify.Event{Name: filepath.Join(root, "new.md"), Op: fsnotify.Create}

	select {
	case ev := <-w.Events():
		assert.Equal(t, "new.md", ev.Path)
		assert.Equal(t, "old.md", ev.OldPath)
		assert.True(t, ev.IsRename())
	case <-time.After(time.Second):
		t.Fatal("expected a coalesced rename event")
	}
}

func TestWatcher_StaleRemoval_FlushesAsPlainDeletion(t *testing.T) {
	root := t.TempDir()

	fw := newFakeFsWatcher()
	w := newTestWatcher(root, fw)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go w.Run(ctx)

	fw.evCh <- fsnotify.Event{Name: filepath.Join(root, "gone.md"), Op: fsnotify.Remove}

	select {
	case ev := <-w.Events():
		assert.Equal(t, "gone.md", ev.Path)
		assert.Equal(t, vaultsync.ChangeDeleted, ev.Type)
		assert.Empty(t, ev.OldPath)
	case <-time.After(2 * time.Second):
		t.Fatal("expected the stale removal to flush as a deletion after the grace window")
	}
}

func TestWatcher_Send_DropsWhenChannelFull(t *testing.T) {
	root := t.TempDir()
	fw := newFakeFsWatcher()
	w := newTestWatcher(root, fw)
	w.events = make(chan vaultsync.FileEvent, 1)

	ctx := context.Background()

	w.send(ctx, vaultsync.FileEvent{Path: "a.md"})
	w.send(ctx, vaultsync.FileEvent{Path: "b.md"})

	assert.Equal(t, int64(1), w.DroppedEvents())

	ev := <-w.events
	assert.Equal(t, "a.md", ev.Path, "the first event should survive; the second is dropped")
}

func TestNewWatcher_AddsWatchesRecursively(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "notes"), 0o755))

	w, err := NewWatcher(root, discardLoggerLV())
	require.NoError(t, err)
	defer w.watcher.Close()

	assert.True(t, w.dirs["."] || w.dirs[""], "root directory itself should be tracked")
	assert.True(t, w.dirs["notes"])
}
