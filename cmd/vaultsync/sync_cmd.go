package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vaultsync/vaultsync/internal/localvault"
	"github.com/vaultsync/vaultsync/internal/vaultsync"
)

func newSyncCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a sync pass between the vault and the remote store",
		Long: `Run a single bidirectional sync pass.

With --watch, vaultsync stays resident: it watches the vault for filesystem
changes, debounces them, and runs sync passes continuously until
interrupted (section 4.3's change pipeline).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, watch)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "stay resident and sync continuously on vault changes")

	return cmd
}

func runSync(cmd *cobra.Command, watch bool) error {
	cc := mustCLIContext(cmd.Context())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eng, err := newEngine(ctx, cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}

	if watch {
		return runWatch(ctx, cc, eng)
	}

	result, err := eng.reconciler.Sync(ctx)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	printSyncResult(result)

	if len(result.Errors) > 0 {
		return fmt.Errorf("sync completed with %d per-file errors", len(result.Errors))
	}

	return nil
}

func runWatch(ctx context.Context, cc *CLIContext, eng *engine) error {
	watcher, err := localvault.NewWatcher(cc.Cfg.Vault.Root, cc.Logger)
	if err != nil {
		return fmt.Errorf("starting vault watcher: %w", err)
	}

	pipeline := vaultsync.NewChangePipeline(eng.reconciler, vaultsync.PipelineConfig{
		DebounceInterval:   cc.Cfg.Sync.DebounceInterval(),
		PeriodicInterval:   cc.Cfg.Sync.SyncInterval(),
		InitialSettleDelay: cc.Cfg.Sync.InitialSettleDelay(),
	}, cc.Logger)

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()

	go func() {
		if err := watcher.Run(watchCtx); err != nil {
			cc.Logger.Error("vault watcher stopped", "error", err)
		}
	}()

	go forwardEvents(watchCtx, watcher, pipeline)

	statusf("watching %s for changes (ctrl-c to stop)\n", cc.Cfg.Vault.Root)

	pipeline.Run(ctx)

	return nil
}

// forwardEvents relays FileEvents from the watcher's channel to the
// pipeline's, which the pipeline owns exclusively once Run starts.
func forwardEvents(ctx context.Context, watcher *localvault.Watcher, pipeline *vaultsync.ChangePipeline) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-watcher.Events():
			select {
			case pipeline.Events() <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func printSyncResult(result vaultsync.SyncResult) {
	if result.UploadedFiles == 0 && result.DownloadedFiles == 0 && result.Conflicts == 0 &&
		result.SkippedFiles == 0 && len(result.Errors) == 0 {
		statusf("already in sync\n")
		return
	}

	statusf("sync complete\n")

	if result.UploadedFiles > 0 {
		statusf("  uploaded:   %d\n", result.UploadedFiles)
	}

	if result.DownloadedFiles > 0 {
		statusf("  downloaded: %d\n", result.DownloadedFiles)
	}

	if result.Conflicts > 0 {
		statusf("  conflicts:  %d\n", result.Conflicts)
	}

	if result.SkippedFiles > 0 {
		statusf("  skipped:    %d\n", result.SkippedFiles)
	}

	if len(result.Errors) > 0 {
		statusf("  errors:     %d\n", len(result.Errors))
	}
}
