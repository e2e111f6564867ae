package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newReconcileIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile-index",
		Short: "Re-scan the vault and repair the sync index",
		Long: `Re-scans the vault, registering any file the sync index doesn't yet
track and pruning stale entries for files that were never actually synced
and no longer exist locally.

This never contacts the remote store — it only repairs local bookkeeping.
Run a plain "sync" afterward to actually reconcile content.`,
		RunE: runReconcileIndex,
	}
}

func runReconcileIndex(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	eng, err := newEngine(ctx, cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}

	report, err := eng.reconciler.ReconcileIndex(ctx)
	if err != nil {
		return fmt.Errorf("reconcile-index: %w", err)
	}

	if report.Added == 0 && report.Pruned == 0 {
		statusf("index already matches the vault\n")
		return nil
	}

	statusf("index reconciled\n")
	statusf("  added:  %d\n", report.Added)
	statusf("  pruned: %d\n", report.Pruned)

	return nil
}
