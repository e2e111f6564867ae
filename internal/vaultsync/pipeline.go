package vaultsync

import (
	"context"
	"log/slog"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// ReconcilerHandlers is the subset of Reconciler the ChangePipeline drives.
// Declared as an interface (rather than depending on *Reconciler directly)
// so tests can substitute a fake.
type ReconcilerHandlers interface {
	Sync(ctx context.Context) (SyncResult, error)
	HandleFileRename(ctx context.Context, oldPath, newPath string) error
	HandleFolderCreation(ctx context.Context, path string) error
	HandleFolderDeletion(ctx context.Context, path string) error
	HandleFolderRename(ctx context.Context, oldPath, newPath string) error
}

// PipelineConfig tunes the ChangePipeline's timers.
type PipelineConfig struct {
	DebounceInterval   time.Duration // default 3s
	PeriodicInterval   time.Duration // default 30s, configurable 10-300s
	InitialSettleDelay time.Duration // default 2s
}

// ChangePipeline bridges the vault watcher to the Reconciler without
// thrash (section 4.3). It owns the single receive loop: everything that
// mutates pendingChanges or invokes the reconciler runs on the same
// goroutine, preserving the single-threaded cooperative model described in
// section 5 even though the Go runtime itself is preemptive.
type ChangePipeline struct {
	reconciler ReconcilerHandlers
	cfg        PipelineConfig
	logger     *slog.Logger

	events chan FileEvent
}

// NewChangePipeline creates a ChangePipeline. Call Run to start its event
// loop; send events to the channel returned by Events.
func NewChangePipeline(reconciler ReconcilerHandlers, cfg PipelineConfig, logger *slog.Logger) *ChangePipeline {
	if logger == nil {
		logger = slog.Default()
	}

	return &ChangePipeline{
		reconciler: reconciler,
		cfg:        cfg,
		logger:     logger,
		events:     make(chan FileEvent, 256),
	}
}

// Events returns the channel the watcher should send FileEvents to.
func (p *ChangePipeline) Events() chan<- FileEvent {
	return p.events
}

// Run drives the pipeline's event loop until ctx is canceled. It performs
// the unconditional initial sync after InitialSettleDelay, then processes
// events, debounce fires, and periodic catch-up ticks.
func (p *ChangePipeline) Run(ctx context.Context) {
	pending := mapset.NewThreadUnsafeSet[string]()

	debounce := time.NewTimer(p.cfg.DebounceInterval)
	if !debounce.Stop() {
		<-debounce.C
	}

	initial := time.NewTimer(p.cfg.InitialSettleDelay)
	defer initial.Stop()

	periodic := time.NewTicker(p.cfg.PeriodicInterval)
	defer periodic.Stop()

	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-initial.C:
			p.logger.Info("performing initial settle sync")
			p.runSync(ctx)

		case ev := <-p.events:
			p.handleEvent(ctx, ev, pending)

			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}

			debounce.Reset(p.cfg.DebounceInterval)

		case <-debounce.C:
			if pending.Cardinality() > 0 {
				p.runSync(ctx)
				pending.Clear()
			}

		case <-periodic.C:
			if pending.Cardinality() > 0 {
				p.runSync(ctx)
				pending.Clear()
			}
		}
	}
}

func (p *ChangePipeline) handleEvent(ctx context.Context, ev FileEvent, pending mapset.Set[string]) {
	switch {
	case ev.IsFolder && ev.IsRename():
		if err := p.reconciler.HandleFolderRename(ctx, ev.OldPath, ev.Path); err != nil {
			p.logger.Error("folder rename handler failed", "old", ev.OldPath, "new", ev.Path, "error", err)
		}

	case ev.IsFolder && ev.Type == ChangeDeleted:
		if err := p.reconciler.HandleFolderDeletion(ctx, ev.Path); err != nil {
			p.logger.Error("folder deletion handler failed", "path", ev.Path, "error", err)
		}

	case ev.IsFolder:
		if err := p.reconciler.HandleFolderCreation(ctx, ev.Path); err != nil {
			p.logger.Error("folder creation handler failed", "path", ev.Path, "error", err)
		}

	case ev.IsRename():
		// Renames dispatch immediately and are never coalesced with content
		// edits: ordering determines whether the old remote object is
		// tombstoned.
		if err := p.reconciler.HandleFileRename(ctx, ev.OldPath, ev.Path); err != nil {
			p.logger.Error("file rename handler failed", "old", ev.OldPath, "new", ev.Path, "error", err)
		}

	default:
		pending.Add(ev.Path)
	}
}

func (p *ChangePipeline) runSync(ctx context.Context) {
	result, err := p.reconciler.Sync(ctx)
	if err != nil {
		p.logger.Error("sync pass failed", "error", err)
		return
	}

	p.logger.Info("sync pass complete",
		"uploaded", result.UploadedFiles,
		"downloaded", result.DownloadedFiles,
		"conflicts", result.Conflicts,
		"skipped", result.SkippedFiles,
	)
}
