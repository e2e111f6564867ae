package vaultsync

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// legacyState is the shape of an older plugin-data blob whose files object
// needs migrating into the map form this engine expects (section 4.1: "an
// older plugin-data blob is auto-migrated").
type legacyState struct {
	VaultID string                      `json:"vaultId"`
	Files   []legacyFileEntry           `json:"files"`
	Folders map[string]*FolderSyncState `json:"folders"`
}

type legacyFileEntry struct {
	Path string `json:"path"`
	FileSyncState
}

// LoadVaultSyncState reads and parses path, returning an empty fresh state on
// any read or parse failure (section 4.1 failure semantics: load errors
// return an empty state rather than propagating).
func LoadVaultSyncState(path, vaultID string) VaultSyncState {
	data, err := os.ReadFile(path)
	if err != nil {
		return emptyVaultSyncState(vaultID)
	}

	var state VaultSyncState
	if err := json.Unmarshal(data, &state); err == nil && state.Version != "" {
		if state.Files == nil {
			state.Files = make(map[string]*FileSyncState)
		}

		if state.Folders == nil {
			state.Folders = make(map[string]*FolderSyncState)
		}

		return state
	}

	// Missing version: attempt legacy migration before giving up.
	var legacy legacyState
	if err := json.Unmarshal(data, &legacy); err == nil && len(legacy.Files) > 0 {
		return migrateLegacyState(legacy, vaultID)
	}

	return emptyVaultSyncState(vaultID)
}

func emptyVaultSyncState(vaultID string) VaultSyncState {
	return VaultSyncState{
		Version: syncIndexSchemaVersion,
		VaultID: vaultID,
		Files:   make(map[string]*FileSyncState),
		Folders: make(map[string]*FolderSyncState),
	}
}

func migrateLegacyState(legacy legacyState, vaultID string) VaultSyncState {
	id := legacy.VaultID
	if id == "" {
		id = vaultID
	}

	state := emptyVaultSyncState(id)

	for i := range legacy.Files {
		entry := legacy.Files[i]
		fs := entry.FileSyncState
		state.Files[entry.Path] = &fs
	}

	if legacy.Folders != nil {
		state.Folders = legacy.Folders
	}

	return state
}

// SaveVaultSyncState atomically writes state to path: marshal to a temp file
// in the same directory, then rename over the destination. This is the
// FlushFunc the SyncIndex invokes on every requested flush.
func SaveVaultSyncState(path string) FlushFunc {
	return func(state *VaultSyncState) error {
		return writeJSONAtomic(path, state)
	}
}

// writeJSONAtomic marshals v as indented JSON and writes it to path using a
// temp-file-plus-rename so readers never observe a partial write.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("vaultsync: marshal %s: %w", filepath.Base(path), err)
	}

	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%s", filepath.Base(path), uuid.NewString()))

	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("vaultsync: write temp file: %w", err)
	}

	f, err := os.Open(tmp) //nolint:gosec // path constructed from trusted dir + uuid
	if err == nil {
		_ = f.Sync()
		_ = f.Close()
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("vaultsync: rename temp file into place: %w", err)
	}

	return nil
}
