package localvault

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vaultsync/vaultsync/internal/vaultsync"
)

// renameGraceWindow bounds how long a Remove is held as a rename candidate
// before it is flushed as a plain deletion.
const renameGraceWindow = 500 * time.Millisecond

const pendingSweepInterval = 100 * time.Millisecond

// FsWatcher abstracts filesystem event monitoring so tests can inject a
// fake. Satisfied by *fsnotify.Watcher through fsnotifyWrapper.
type FsWatcher interface {
	Add(name string) error
	Remove(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWrapper struct {
	w *fsnotify.Watcher
}

func (fw *fsnotifyWrapper) Add(name string) error         { return fw.w.Add(name) }
func (fw *fsnotifyWrapper) Remove(name string) error      { return fw.w.Remove(name) }
func (fw *fsnotifyWrapper) Close() error                  { return fw.w.Close() }
func (fw *fsnotifyWrapper) Events() <-chan fsnotify.Event { return fw.w.Events }
func (fw *fsnotifyWrapper) Errors() <-chan error          { return fw.w.Errors }

// pendingRemoval is a Remove/Rename-away event held briefly in case a
// matching Create arrives and the pair can be coalesced into one rename
// FileEvent.
type pendingRemoval struct {
	relPath  string
	isFolder bool
	at       time.Time
}

// Watcher watches a vault root for filesystem changes and emits FileEvents,
// coalescing a Remove+Create pair into a single rename event the way a user
// drag-and-drop or `mv` actually appears to fsnotify (as two independent
// events on the parent directory watches).
type Watcher struct {
	watcher FsWatcher
	root    string
	logger  *slog.Logger

	events        chan vaultsync.FileEvent
	droppedEvents atomic.Int64

	mu      sync.Mutex
	dirs    map[string]bool // watched directories, relative path -> true
	pending []pendingRemoval
}

// NewWatcher creates a Watcher rooted at root and adds watches on every
// existing directory in the tree.
func NewWatcher(root string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("localvault: create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		watcher: &fsnotifyWrapper{w: fw},
		root:    root,
		logger:  logger,
		events:  make(chan vaultsync.FileEvent, 256),
		dirs:    make(map[string]bool),
	}

	if err := w.addWatchesRecursive(root); err != nil {
		_ = fw.Close()
		return nil, err
	}

	return w, nil
}

// Events returns the channel Run publishes FileEvents to.
func (w *Watcher) Events() <-chan vaultsync.FileEvent {
	return w.events
}

// DroppedEvents returns the count of events dropped because the output
// channel was full. A non-zero count means the periodic full sync is
// carrying backpressure the watcher could not.
func (w *Watcher) DroppedEvents() int64 {
	return w.droppedEvents.Load()
}

func (w *Watcher) addWatchesRecursive(root string) error {
	return filepath.WalkDir(root, func(absPath string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("walk error during watch setup", "path", absPath, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if !d.IsDir() {
			return nil
		}

		if err := w.watcher.Add(absPath); err != nil {
			w.logger.Warn("failed to add watch", "path", absPath, "error", err)
			return nil
		}

		rel, err := filepath.Rel(root, absPath)
		if err == nil {
			w.mu.Lock()
			w.dirs[filepath.ToSlash(rel)] = true
			w.mu.Unlock()
		}

		return nil
	})
}

// Run drives the watch loop until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	sweep := time.NewTicker(pendingSweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.watcher.Events():
			if !ok {
				return nil
			}

			w.handleEvent(ctx, ev)

		case err, ok := <-w.watcher.Errors():
			if !ok {
				return nil
			}

			w.logger.Warn("filesystem watch error", "error", err)

		case <-sweep.C:
			w.flushStalePending(ctx)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return
	}

	relSlash := filepath.ToSlash(rel)

	switch {
	case ev.Op&fsnotify.Create != 0:
		w.handleCreate(ctx, ev.Name, relSlash)

	case ev.Op&fsnotify.Write != 0:
		if w.isWatchedDir(relSlash) {
			return
		}

		w.send(ctx, vaultsync.FileEvent{Path: relSlash, Type: vaultsync.ChangeModified, Timestamp: time.Now()})

	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.handleRemoveOrRenameAway(relSlash)
	}
}

func (w *Watcher) handleCreate(ctx context.Context, absPath, relSlash string) {
	info, err := os.Stat(absPath)
	isFolder := err == nil && info.IsDir()

	if isFolder {
		if addErr := w.watcher.Add(absPath); addErr != nil {
			w.logger.Warn("failed to add watch for new directory", "path", absPath, "error", addErr)
		}

		w.mu.Lock()
		w.dirs[relSlash] = true
		w.mu.Unlock()
	}

	if removal, ok := w.popPending(); ok {
		w.send(ctx, vaultsync.FileEvent{
			Path:      relSlash,
			Type:      vaultsync.ChangeCreated,
			IsFolder:  isFolder || removal.isFolder,
			OldPath:   removal.relPath,
			Timestamp: time.Now(),
		})

		return
	}

	w.send(ctx, vaultsync.FileEvent{Path: relSlash, Type: vaultsync.ChangeCreated, IsFolder: isFolder, Timestamp: time.Now()})
}

func (w *Watcher) handleRemoveOrRenameAway(relSlash string) {
	isFolder := w.isWatchedDir(relSlash)

	w.mu.Lock()
	delete(w.dirs, relSlash)
	w.pending = append(w.pending, pendingRemoval{relPath: relSlash, isFolder: isFolder, at: time.Now()})
	w.mu.Unlock()
}

// popPending returns (and removes) the oldest pending removal, used to pair
// with a just-observed Create.
func (w *Watcher) popPending() (pendingRemoval, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.pending) == 0 {
		return pendingRemoval{}, false
	}

	removal := w.pending[0]
	w.pending = w.pending[1:]

	return removal, true
}

func (w *Watcher) isWatchedDir(relSlash string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.dirs[relSlash]
}

// flushStalePending emits a deletion FileEvent for every pending removal
// older than renameGraceWindow that never found a matching Create.
func (w *Watcher) flushStalePending(ctx context.Context) {
	cutoff := time.Now().Add(-renameGraceWindow)

	w.mu.Lock()
	var stale []pendingRemoval

	kept := w.pending[:0]
	for _, p := range w.pending {
		if p.at.Before(cutoff) {
			stale = append(stale, p)
		} else {
			kept = append(kept, p)
		}
	}
	w.pending = kept
	w.mu.Unlock()

	for _, p := range stale {
		w.send(ctx, vaultsync.FileEvent{Path: p.relPath, Type: vaultsync.ChangeDeleted, IsFolder: p.isFolder, Timestamp: time.Now()})
	}
}

// send delivers ev without blocking; a full channel drops the event and
// increments droppedEvents rather than stalling the fsnotify read loop
// (the periodic Reconciler.Sync pass provides eventual consistency for
// whatever a drop misses).
func (w *Watcher) send(ctx context.Context, ev vaultsync.FileEvent) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	default:
		w.droppedEvents.Add(1)
		w.logger.Warn("event channel full, dropping event", "path", ev.Path, "type", ev.Type.String())
	}
}
