package vaultsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeDelta_OwnEcho(t *testing.T) {
	remote := []RemoteFile{
		{Path: "a.md", ID: "r1", HeadRevisionID: "rev2", AppProperties: map[string]string{agentPropertyKey: "agent-1"}},
	}
	candidate := map[string]*FileSyncState{
		"a.md": {LastSyncedHash: "oldhash", LastSyncRevisionID: "rev1", RemoteFileID: "r1"},
	}
	local := map[string]CandidateEntry{
		"a.md": {Path: "a.md", Hash: "newhash"},
	}

	items := ComputeDelta(candidate, local, remote, "agent-1")
	require.Len(t, items, 1)
	assert.Equal(t, DeltaInSync, items[0].Kind)
	assert.Equal(t, "own_echo", items[0].Reason)
}

func TestComputeDelta_MissingLocal(t *testing.T) {
	remote := []RemoteFile{{Path: "new.md", ID: "r1", HeadRevisionID: "rev1"}}

	items := ComputeDelta(map[string]*FileSyncState{}, map[string]CandidateEntry{}, remote, "agent-1")
	require.Len(t, items, 1)
	assert.Equal(t, DeltaDownload, items[0].Kind)
	assert.Equal(t, "missing_local", items[0].Reason)
}

func TestComputeDelta_Matrix(t *testing.T) {
	tests := []struct {
		name           string
		localChanged   bool
		remoteChanged  bool
		wantKind       DeltaKind
		wantReason     string
	}{
		{"unchanged", false, false, DeltaInSync, "unchanged"},
		{"local only", true, false, DeltaUpload, "local_newer"},
		{"remote only", false, true, DeltaDownload, "remote_newer"},
		{"both changed", true, true, DeltaConflict, "both_changed"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			const syncedHash = "hash-synced"

			localHash := syncedHash
			if tc.localChanged {
				localHash = "hash-local-new"
			}

			revID := "rev-synced"
			remoteRev := revID
			if tc.remoteChanged {
				remoteRev = "rev-remote-new"
			}

			candidate := map[string]*FileSyncState{
				"p.md": {LastSyncedHash: syncedHash, LastSyncRevisionID: revID, RemoteFileID: "r1"},
			}
			local := map[string]CandidateEntry{
				"p.md": {Path: "p.md", Hash: localHash},
			}
			remote := []RemoteFile{{Path: "p.md", ID: "r1", HeadRevisionID: remoteRev}}

			items := ComputeDelta(candidate, local, remote, "agent-1")
			require.Len(t, items, 1)
			assert.Equal(t, tc.wantKind, items[0].Kind)
			assert.Equal(t, tc.wantReason, items[0].Reason)
		})
	}
}

func TestComputeDelta_UnknownRevisionForcesDownload(t *testing.T) {
	candidate := map[string]*FileSyncState{
		"p.md": {LastSyncedHash: "h", RemoteFileID: "r1"}, // no LastSyncRevisionID
	}
	local := map[string]CandidateEntry{"p.md": {Path: "p.md", Hash: "h"}}
	remote := []RemoteFile{{Path: "p.md", ID: "r1", HeadRevisionID: "rev-anything"}}

	items := ComputeDelta(candidate, local, remote, "agent-1")
	require.Len(t, items, 1)
	assert.Equal(t, DeltaDownload, items[0].Kind)
	assert.Equal(t, "remote_newer", items[0].Reason)
}

func TestComputeDelta_LocalOnly_NeverSynced(t *testing.T) {
	candidate := map[string]*FileSyncState{
		"new.md": {LastSyncedHash: "h", LastSyncedTime: 1000},
	}
	local := map[string]CandidateEntry{"new.md": {Path: "new.md", Hash: "h"}}

	items := ComputeDelta(candidate, local, nil, "agent-1")
	require.Len(t, items, 1)
	assert.Equal(t, DeltaUpload, items[0].Kind)
	assert.Equal(t, "never_synced", items[0].Reason)
}

func TestComputeDelta_LocalOnly_MissingRemote(t *testing.T) {
	candidate := map[string]*FileSyncState{
		"gone.md": {LastSyncedHash: "h", LastSyncedTime: 1000, RemoteFileID: "r1"},
	}
	local := map[string]CandidateEntry{"gone.md": {Path: "gone.md", Hash: "h"}}

	items := ComputeDelta(candidate, local, nil, "agent-1")
	require.Len(t, items, 1)
	assert.Equal(t, DeltaUpload, items[0].Kind)
	assert.Equal(t, "missing_remote", items[0].Reason)
}

func TestComputeDelta_LocalOnly_RemotePlaceholderSkipped(t *testing.T) {
	candidate := map[string]*FileSyncState{
		"placeholder.md": {}, // never synced, never discovered locally
	}

	items := ComputeDelta(candidate, map[string]CandidateEntry{}, nil, "agent-1")
	assert.Empty(t, items)
}

func TestComputeDelta_LocalOnly_DeletedLocallySkipped(t *testing.T) {
	candidate := map[string]*FileSyncState{
		"deleted.md": {LastSyncedHash: "h", LastSyncedTime: 1000, RemoteFileID: "r1"},
	}

	// Not present in localFiles: the file was deleted on disk; the delta
	// pass defers to the tombstone flow rather than classifying it.
	items := ComputeDelta(candidate, map[string]CandidateEntry{}, nil, "agent-1")
	assert.Empty(t, items)
}

func TestComputeDelta_EmptyAgentIDNeverMatchesEcho(t *testing.T) {
	remote := []RemoteFile{
		{Path: "a.md", ID: "r1", HeadRevisionID: "rev1", AppProperties: map[string]string{agentPropertyKey: ""}},
	}

	items := ComputeDelta(map[string]*FileSyncState{}, map[string]CandidateEntry{}, remote, "")
	require.Len(t, items, 1)
	assert.Equal(t, DeltaDownload, items[0].Kind)
}

func TestDeltaKind_String(t *testing.T) {
	assert.Equal(t, "in_sync", DeltaInSync.String())
	assert.Equal(t, "download", DeltaDownload.String())
	assert.Equal(t, "upload", DeltaUpload.String())
	assert.Equal(t, "conflict", DeltaConflict.String())
	assert.Equal(t, "unknown", DeltaKind(99).String())
}

func TestComputeDelta_RemoteModifiedTimeIgnored(t *testing.T) {
	// Clocks lie; only HeadRevisionID should drive remoteChanged.
	now := time.Now()
	candidate := map[string]*FileSyncState{
		"p.md": {LastSyncedHash: "h", LastSyncRevisionID: "rev1", RemoteFileID: "r1"},
	}
	local := map[string]CandidateEntry{"p.md": {Path: "p.md", Hash: "h"}}
	remote := []RemoteFile{{Path: "p.md", ID: "r1", HeadRevisionID: "rev1", ModifiedTime: now.Add(-48 * time.Hour)}}

	items := ComputeDelta(candidate, local, remote, "agent-1")
	require.Len(t, items, 1)
	assert.Equal(t, DeltaInSync, items[0].Kind)
}
