package vaultsync

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoadVaultSyncState_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync-index.json")

	state := VaultSyncState{
		Version: syncIndexSchemaVersion,
		VaultID: "vault-1",
		Files: map[string]*FileSyncState{
			"a.md": {LastSyncedHash: "h1", LastSyncedSize: 10, RemoteFileID: "r1"},
		},
		Folders: map[string]*FolderSyncState{
			"notes/": {FileCount: 1},
		},
	}

	flush := SaveVaultSyncState(path)
	require.NoError(t, flush(&state))

	loaded := LoadVaultSyncState(path, "vault-1")
	assert.Equal(t, "vault-1", loaded.VaultID)
	require.Contains(t, loaded.Files, "a.md")
	assert.Equal(t, "h1", loaded.Files["a.md"].LastSyncedHash)
	require.Contains(t, loaded.Folders, "notes/")
}

func TestLoadVaultSyncState_MissingFileYieldsEmptyState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")

	state := LoadVaultSyncState(path, "vault-1")
	assert.Equal(t, "vault-1", state.VaultID)
	assert.Empty(t, state.Files)
	assert.Empty(t, state.Folders)
}

func TestLoadVaultSyncState_MalformedJSONYieldsEmptyState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync-index.json")
	require.NoError(t, os.WriteFile(path, []byte("{not valid json"), 0o600))

	state := LoadVaultSyncState(path, "vault-1")
	assert.Equal(t, "vault-1", state.VaultID)
	assert.Empty(t, state.Files)
}

func TestLoadVaultSyncState_MigratesLegacyShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync-index.json")

	legacy := map[string]any{
		"vaultId": "vault-legacy",
		"files": []map[string]any{
			{"path": "a.md", "lastSyncedHash": "h1", "lastSyncedSize": 5},
			{"path": "b.md", "lastSyncedHash": "h2", "lastSyncedSize": 9},
		},
	}
	data, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	state := LoadVaultSyncState(path, "vault-1")
	assert.Equal(t, "vault-legacy", state.VaultID)
	require.Contains(t, state.Files, "a.md")
	assert.Equal(t, "h1", state.Files["a.md"].LastSyncedHash)
	require.Contains(t, state.Files, "b.md")
}

func TestWriteJSONAtomic_NoPartialWriteVisible(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")

	require.NoError(t, writeJSONAtomic(path, map[string]string{"k": "v"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "v", out["k"])

	// No leftover temp file.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
}
