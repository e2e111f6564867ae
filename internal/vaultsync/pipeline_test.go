package vaultsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHandlers is an in-memory ReconcilerHandlers used to exercise
// ChangePipeline without a real Reconciler.
type fakeHandlers struct {
	mu sync.Mutex

	syncCalls       int
	fileRenames     [][2]string
	folderCreations []string
	folderDeletions []string
	folderRenames   [][2]string
}

func (f *fakeHandlers) Sync(_ context.Context) (SyncResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.syncCalls++

	return SyncResult{Success: true}, nil
}

func (f *fakeHandlers) HandleFileRename(_ context.Context, oldPath, newPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fileRenames = append(f.fileRenames, [2]string{oldPath, newPath})

	return nil
}

func (f *fakeHandlers) HandleFolderCreation(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.folderCreations = append(f.folderCreations, path)

	return nil
}

func (f *fakeHandlers) HandleFolderDeletion(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.folderDeletions = append(f.folderDeletions, path)

	return nil
}

func (f *fakeHandlers) HandleFolderRename(_ context.Context, oldPath, newPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.folderRenames = append(f.folderRenames, [2]string{oldPath, newPath})

	return nil
}

func (f *fakeHandlers) snapshot() (syncCalls int, renames, folderCreates, folderDeletes int, folderRenames int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.syncCalls, len(f.fileRenames), len(f.folderCreations), len(f.folderDeletions), len(f.folderRenames)
}

func TestChangePipeline_DebouncesContentEvents(t *testing.T) {
	handlers := &fakeHandlers{}
	pipeline := NewChangePipeline(handlers, PipelineConfig{
		DebounceInterval:   20 * time.Millisecond,
		PeriodicInterval:   time.Hour,
		InitialSettleDelay: time.Hour,
	}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go pipeline.Run(ctx)

	events := pipeline.Events()
	events <- FileEvent{Path: "a.md", Type: ChangeModified}
	events <- FileEvent{Path: "b.md", Type: ChangeModified}
	events <- FileEvent{Path: "a.md", Type: ChangeModified}

	require.Eventually(t, func() bool {
		calls, _, _, _, _ := handlers.snapshot()
		return calls == 1
	}, time.Second, 5*time.Millisecond, "rapid edits should coalesce into a single sync pass")

	time.Sleep(50 * time.Millisecond)
	calls, _, _, _, _ := handlers.snapshot()
	assert.Equal(t, 1, calls, "no further sync should fire once pending is drained")
}

func TestChangePipeline_RenameDispatchesImmediately(t *testing.T) {
	handlers := &fakeHandlers{}
	pipeline := NewChangePipeline(handlers, PipelineConfig{
		DebounceInterval:   time.Hour,
		PeriodicInterval:   time.Hour,
		InitialSettleDelay: time.Hour,
	}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go pipeline.Run(ctx)

	pipeline.Events() <- FileEvent{Path: "new.md", OldPath: "old.md", Type: ChangeCreated}

	require.Eventually(t, func() bool {
		_, renames, _, _, _ := handlers.snapshot()
		return renames == 1
	}, time.Second, 5*time.Millisecond)
}

func TestChangePipeline_FolderEventsDispatchByKind(t *testing.T) {
	handlers := &fakeHandlers{}
	pipeline := NewChangePipeline(handlers, PipelineConfig{
		DebounceInterval:   time.Hour,
		PeriodicInterval:   time.Hour,
		InitialSettleDelay: time.Hour,
	}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go pipeline.Run(ctx)

	ev := pipeline.Events()
	ev <- FileEvent{Path: "projects", IsFolder: true, Type: ChangeCreated}
	ev <- FileEvent{Path: "projects", IsFolder: true, Type: ChangeDeleted}
	ev <- FileEvent{Path: "work", OldPath: "projects2", IsFolder: true, Type: ChangeCreated}

	require.Eventually(t, func() bool {
		_, _, creates, deletes, renames := handlers.snapshot()
		return creates == 1 && deletes == 1 && renames == 1
	}, time.Second, 5*time.Millisecond)
}

func TestChangePipeline_InitialSettleSyncFires(t *testing.T) {
	handlers := &fakeHandlers{}
	pipeline := NewChangePipeline(handlers, PipelineConfig{
		DebounceInterval:   time.Hour,
		PeriodicInterval:   time.Hour,
		InitialSettleDelay: 10 * time.Millisecond,
	}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go pipeline.Run(ctx)

	require.Eventually(t, func() bool {
		calls, _, _, _, _ := handlers.snapshot()
		return calls >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestChangePipeline_PeriodicTickSyncsOnlyWhenPending(t *testing.T) {
	handlers := &fakeHandlers{}
	pipeline := NewChangePipeline(handlers, PipelineConfig{
		DebounceInterval:   time.Hour,
		PeriodicInterval:   15 * time.Millisecond,
		InitialSettleDelay: time.Hour,
	}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go pipeline.Run(ctx)

	// No pending changes: a couple of ticks should not trigger a sync.
	time.Sleep(40 * time.Millisecond)
	calls, _, _, _, _ := handlers.snapshot()
	assert.Equal(t, 0, calls)

	pipeline.Events() <- FileEvent{Path: "a.md", Type: ChangeModified}

	require.Eventually(t, func() bool {
		calls, _, _, _, _ := handlers.snapshot()
		return calls == 1
	}, time.Second, 5*time.Millisecond)
}
