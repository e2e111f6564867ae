package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func newConflictsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "List files with unresolved conflict history",
		Long: `Lists every vault file the sync index has ever recorded a conflict
for. Conflicts themselves are never destructive: each one already produced
a conflicted-copy file alongside the original, so this command is for
visibility, not resolution.`,
		RunE: runConflicts,
	}
}

type conflictEntry struct {
	Path          string `json:"path"`
	ConflictCount int    `json:"conflict_count"`
	LastError     string `json:"last_error,omitempty"`
	LastSyncedAt  string `json:"last_synced_at,omitempty"`
}

func runConflicts(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	index, err := loadIndexReadOnly(cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}

	state := index.GetState()

	var entries []conflictEntry

	for _, path := range sortedPaths(state.Files) {
		fs := state.Files[path]
		if fs.ConflictCount == 0 {
			continue
		}

		entry := conflictEntry{Path: path, ConflictCount: fs.ConflictCount, LastError: fs.LastError}
		if fs.LastSyncedTime > 0 {
			entry.LastSyncedAt = time.UnixMilli(fs.LastSyncedTime).Format(time.RFC3339)
		}

		entries = append(entries, entry)
	}

	if len(entries) == 0 {
		fmt.Println("no unresolved conflict history")
		return nil
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(entries)
	}

	printConflictsTable(entries)

	return nil
}

func printConflictsTable(entries []conflictEntry) {
	headers := []string{"PATH", "COUNT", "LAST SYNCED", "LAST ERROR"}
	rows := make([][]string, len(entries))

	for i, e := range entries {
		lastSynced := e.LastSyncedAt
		if lastSynced == "" {
			lastSynced = "-"
		}

		lastError := e.LastError
		if lastError == "" {
			lastError = "-"
		}

		rows[i] = []string{e.Path, fmt.Sprintf("%d", e.ConflictCount), lastSynced, lastError}
	}

	printTable(os.Stdout, headers, rows)
}
