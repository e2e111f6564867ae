package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newForceUploadAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force-upload-all",
		Short: "Upload every vault file, overwriting the remote copy",
		Long: `Recovery tool: scans the vault and uploads every file, overwriting
whatever exists remotely and clearing any recorded conflict state.

Use this after restoring a vault from a backup, or when the sync index has
drifted badly enough that a clean local-wins pass is the fastest way back
to a consistent state.`,
		RunE: runForceUploadAll,
	}
}

func runForceUploadAll(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	eng, err := newEngine(ctx, cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}

	result, err := eng.reconciler.ForceUploadAll(ctx)
	if err != nil {
		return fmt.Errorf("force-upload-all: %w", err)
	}

	printSyncResult(result)

	if len(result.Errors) > 0 {
		return fmt.Errorf("force-upload-all completed with %d per-file errors", len(result.Errors))
	}

	return nil
}
