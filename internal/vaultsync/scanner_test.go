package vaultsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanner_ScanVault_FiltersAndHashes(t *testing.T) {
	vault := newFakeVaultAdapter()
	vault.put("notes/a.md", []byte("hello"), time.Now())
	vault.put("notes/.trash/gone.md", []byte("ignored"), time.Now())
	vault.put("notes/a.docx", []byte("wrong extension"), time.Now())
	vault.folders["notes"] = true

	filter := newTestFilter(t, nil)
	scanner, err := NewScanner(vault, filter)
	require.NoError(t, err)

	files, folders, err := scanner.ScanVault(context.Background())
	require.NoError(t, err)

	require.Len(t, files, 1)
	assert.Equal(t, "notes/a.md", files[0].Path)
	assert.Equal(t, hashBytes([]byte("hello")), files[0].Hash)

	require.Len(t, folders, 1)
	assert.Equal(t, "notes", folders[0].Path)
}

func TestScanner_HashFor_CachesByMtimeAndSize(t *testing.T) {
	vault := newFakeVaultAdapter()
	mtime := time.Now()
	vault.put("a.md", []byte("v1"), mtime)

	filter := newTestFilter(t, nil)
	scanner, err := NewScanner(vault, filter)
	require.NoError(t, err)

	entry := FileMetadata{Path: "a.md", Mtime: mtime, Size: 2}

	hash1, err := scanner.hashFor(context.Background(), entry)
	require.NoError(t, err)
	assert.Equal(t, hashBytes([]byte("v1")), hash1)

	// Mutate the underlying content without changing mtime/size: the cached
	// hash should still be served.
	vault.mu.Lock()
	vault.files["a.md"] = []byte("v2")
	vault.mu.Unlock()

	hash2, err := scanner.hashFor(context.Background(), entry)
	require.NoError(t, err)
	assert.Equal(t, hash1, hash2, "unchanged mtime/size should hit the cache")

	// Changing size invalidates the cache key.
	entry2 := FileMetadata{Path: "a.md", Mtime: mtime, Size: 2000}
	hash3, err := scanner.hashFor(context.Background(), entry2)
	require.NoError(t, err)
	assert.Equal(t, hashBytes([]byte("v2")), hash3)
}

func TestScanner_ScanVault_PropagatesScanError(t *testing.T) {
	vault := newFakeVaultAdapter()
	vault.scanErr = assert.AnError

	filter := newTestFilter(t, nil)
	scanner, err := NewScanner(vault, filter)
	require.NoError(t, err)

	_, _, err = scanner.ScanVault(context.Background())
	assert.Error(t, err)
}

func TestScanner_ScanVault_PropagatesReadError(t *testing.T) {
	vault := newFakeVaultAdapter()
	vault.put("a.md", []byte("x"), time.Now())
	vault.readErr = assert.AnError

	filter := newTestFilter(t, nil)
	scanner, err := NewScanner(vault, filter)
	require.NoError(t, err)

	_, _, err = scanner.ScanVault(context.Background())
	assert.Error(t, err)
}
