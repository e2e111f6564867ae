package vaultsync

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// syncIndexSchemaVersion is written to sync-index.json and checked on load;
// a missing version is migrated (see persist.go).
const syncIndexSchemaVersion = "1.0.0"

// FileSyncState is SyncIndex's per-path record of a tracked vault file.
type FileSyncState struct {
	LastSyncedHash     string         `json:"lastSyncedHash"`
	LastSyncedTime     int64          `json:"lastSyncedTime"` // Unix ms
	LastSyncedSize     int64          `json:"lastSyncedSize"`
	LastSyncRevisionID string         `json:"lastSyncRevisionId"`
	RemoteFileID       string         `json:"remoteFileId"`
	FirstSyncedTime    int64          `json:"firstSyncedTime"`
	SyncCount          int            `json:"syncCount"`
	LastError          string         `json:"lastError,omitempty"`
	ConflictCount      int            `json:"conflictCount"`
	Extension          string         `json:"extension,omitempty"`
	CreatedTime        int64          `json:"createdTime,omitempty"`
	History            []HistoryEntry `json:"history,omitempty"`
}

// FolderSyncState is SyncIndex's per-path record of a tracked vault folder.
// Path is always normalized with a trailing "/" so the rename cascade can
// match children by unambiguous prefix.
type FolderSyncState struct {
	LastSyncedTime  int64  `json:"lastSyncedTime"`
	RemoteFolderID  string `json:"remoteFolderId,omitempty"`
	FileCount       int    `json:"fileCount"`
	SubfolderCount  int    `json:"subfolderCount"`
}

// VaultSyncState is the full on-disk (and in-memory) state of one vault's
// sync index.
type VaultSyncState struct {
	Version         string                      `json:"version"`
	VaultID         string                      `json:"vaultId"`
	LastFullSync    int64                       `json:"lastFullSync"`
	LastRemoteCheck int64                       `json:"lastRemoteCheck"`
	ChangePageToken string                      `json:"changePageToken,omitempty"`
	Files           map[string]*FileSyncState   `json:"files"`
	Folders         map[string]*FolderSyncState `json:"folders"`
}

// downloadDecision is the fallback classification returned by ShouldDownload
// for paths without a valid LastSyncRevisionID.
type downloadDecision int

const (
	DecisionDownload downloadDecision = iota
	DecisionConflict
	DecisionSkip
)

// FlushFunc persists a VaultSyncState snapshot; see persist.go for the
// concrete atomic-write implementation. SyncIndex calls it through
// RequestFlush, which coalesces concurrent requests.
type FlushFunc func(state *VaultSyncState) error

// SyncIndex is the durable, crash-consistent in-memory map of vault sync
// state described in data-model section 3. All mutation goes through its
// methods; callers never touch the maps directly. Go's runtime is
// preemptive, so a RWMutex stands in for the single-threaded event-loop
// property the design assumes — see ChangePipeline for the single-goroutine
// invocation discipline that keeps contention low.
type SyncIndex struct {
	mu    sync.RWMutex
	state VaultSyncState

	flush        FlushFunc
	flushMu      sync.Mutex
	flushPending bool
	flushAgain   bool
	logger       *slog.Logger
}

// NewSyncIndex creates an empty SyncIndex for vaultID, ready for persistence
// via flush. A nil logger falls back to slog.Default().
func NewSyncIndex(vaultID string, flush FlushFunc, logger *slog.Logger) *SyncIndex {
	if logger == nil {
		logger = slog.Default()
	}

	return &SyncIndex{
		state: VaultSyncState{
			Version: syncIndexSchemaVersion,
			VaultID: vaultID,
			Files:   make(map[string]*FileSyncState),
			Folders: make(map[string]*FolderSyncState),
		},
		flush:  flush,
		logger: logger,
	}
}

// nowMillis returns the current time as Unix milliseconds.
func nowMillis() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}

// NeedsSync reports whether path requires a sync action: true iff no entry
// exists, or the hash, size, or mtime (compared against lastSyncedTime) has
// diverged from the recorded synced snapshot.
func (idx *SyncIndex) NeedsSync(path, hash string, mtime time.Time, size int64) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	fs, ok := idx.state.Files[path]
	if !ok {
		return true
	}

	if fs.LastSyncedHash != hash || fs.LastSyncedSize != size {
		return true
	}

	return mtime.UnixNano()/int64(time.Millisecond) > fs.LastSyncedTime
}

// MarkSyncedExtras carries the optional fields recorded alongside a
// successful sync (section 4.1: {op, revisionId, ctime, extension}).
type MarkSyncedExtras struct {
	Op          string
	RevisionID  string
	Ctime       time.Time
	Extension   string
}

// MarkSynced idempotently records a successful sync of path: clears
// LastError, increments SyncCount, and pushes a history entry.
func (idx *SyncIndex) MarkSynced(path, hash string, mtime time.Time, size int64, remoteID string, extras MarkSyncedExtras) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	fs, ok := idx.state.Files[path]
	if !ok {
		fs = &FileSyncState{FirstSyncedTime: nowMillis()}
		idx.state.Files[path] = fs
	}

	fs.LastSyncedHash = hash
	fs.LastSyncedTime = mtime.UnixNano() / int64(time.Millisecond)
	fs.LastSyncedSize = size
	fs.RemoteFileID = remoteID
	fs.LastError = ""
	fs.SyncCount++

	if extras.RevisionID != "" {
		fs.LastSyncRevisionID = extras.RevisionID
	}

	if !extras.Ctime.IsZero() {
		fs.CreatedTime = extras.Ctime.UnixNano() / int64(time.Millisecond)
	}

	if extras.Extension != "" {
		fs.Extension = extras.Extension
	}

	op := extras.Op
	if op == "" {
		op = "sync"
	}

	fs.History = pushHistory(fs.History, HistoryEntry{
		Timestamp: nowMillis(),
		Op:        op,
		Success:   true,
	})

	idx.requestFlushLocked()
}

// MarkSyncError records a per-file failure without touching identity fields
// (hash/size/mtime/remoteId). A minimal entry is created if none exists so
// the failure is visible in a subsequent status listing.
func (idx *SyncIndex) MarkSyncError(path string, syncErr error, op string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	fs, ok := idx.state.Files[path]
	if !ok {
		fs = &FileSyncState{FirstSyncedTime: nowMillis()}
		idx.state.Files[path] = fs
	}

	fs.LastError = syncErr.Error()
	fs.History = pushHistory(fs.History, HistoryEntry{
		Timestamp: nowMillis(),
		Op:        op,
		Success:   false,
		Error:     syncErr.Error(),
	})

	idx.requestFlushLocked()
}

// MarkConflict increments ConflictCount for path and records a conflict
// history entry.
func (idx *SyncIndex) MarkConflict(path string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	fs, ok := idx.state.Files[path]
	if !ok {
		fs = &FileSyncState{FirstSyncedTime: nowMillis()}
		idx.state.Files[path] = fs
	}

	fs.ConflictCount++
	fs.History = pushHistory(fs.History, HistoryEntry{
		Timestamp: nowMillis(),
		Op:        "conflict",
		Success:   true,
	})

	idx.requestFlushLocked()
}

// RemoveFile deletes path's entry entirely (used after tombstoning a
// deletion).
func (idx *SyncIndex) RemoveFile(path string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	delete(idx.state.Files, path)
	idx.requestFlushLocked()
}

// RemoveFolder deletes a folder's entry. path is normalized with a trailing
// slash before lookup.
func (idx *SyncIndex) RemoveFolder(path string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	delete(idx.state.Folders, normalizeFolderPath(path))
	idx.requestFlushLocked()
}

// GetFile returns a copy of path's FileSyncState, or nil if untracked.
func (idx *SyncIndex) GetFile(path string) *FileSyncState {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	fs, ok := idx.state.Files[path]
	if !ok {
		return nil
	}

	cp := *fs
	cp.History = append([]HistoryEntry(nil), fs.History...)

	return &cp
}

// SetFolder upserts a folder entry directly; used by the scanner and folder
// event handlers which do not go through MarkSynced.
func (idx *SyncIndex) SetFolder(path string, folder FolderSyncState) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.state.Folders[normalizeFolderPath(path)] = &folder
	idx.requestFlushLocked()
}

// GetFolder returns a copy of path's FolderSyncState, or nil if untracked.
func (idx *SyncIndex) GetFolder(path string) *FolderSyncState {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	f, ok := idx.state.Folders[normalizeFolderPath(path)]
	if !ok {
		return nil
	}

	cp := *f

	return &cp
}

// normalizeFolderPath ensures path carries exactly one trailing slash,
// matching the invariant the rename cascade depends on.
func normalizeFolderPath(path string) string {
	return strings.TrimRight(path, "/") + "/"
}

// RenameFolder atomically rewrites a folder entry and every file entry whose
// path begins with old's prefix, updating their paths in place.
func (idx *SyncIndex) RenameFolder(oldPath, newPath string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	oldNorm := normalizeFolderPath(oldPath)
	newNorm := normalizeFolderPath(newPath)

	if folder, ok := idx.state.Folders[oldNorm]; ok {
		delete(idx.state.Folders, oldNorm)
		idx.state.Folders[newNorm] = folder
	}

	for path, fs := range idx.state.Files {
		if strings.HasPrefix(path, oldNorm) {
			newFilePath := newNorm + strings.TrimPrefix(path, oldNorm)
			delete(idx.state.Files, path)
			idx.state.Files[newFilePath] = fs
		}
	}

	// Cascade into any nested folder entries too.
	for path, folder := range idx.state.Folders {
		if path == newNorm {
			continue
		}

		if strings.HasPrefix(path, oldNorm) {
			newFolderPath := newNorm + strings.TrimPrefix(path, oldNorm)
			delete(idx.state.Folders, path)
			idx.state.Folders[newFolderPath] = folder
		}
	}

	idx.requestFlushLocked()
}

// ShouldDownload is the fallback decision used by the delta algorithm for
// paths without a valid LastSyncRevisionID (section 4.6's "Unknown revision
// is conservatively treated as remote changed" rule). It delegates to
// classifyUnknownRevision, the same decision ComputeDelta's classifyRemote
// applies inline for candidate entries it already has in hand.
func (idx *SyncIndex) ShouldDownload(path, remoteFileID string, remoteMtime time.Time, localExists bool, localMtime time.Time, localHash string) downloadDecision {
	idx.mu.RLock()
	fs, ok := idx.state.Files[path]
	idx.mu.RUnlock()

	if !ok {
		return DecisionDownload
	}

	return classifyUnknownRevision(fs, remoteFileID, localExists, localHash)
}

// classifyUnknownRevision implements the shouldDownload fallback (section
// 4.1) for a file entry whose LastSyncRevisionID is unknown: a change of
// remote object identity at the same path, or a locally diverged hash,
// is treated as a conflict; anything else defers to a download, since an
// unknown revision is conservatively treated as "remote changed."
func classifyUnknownRevision(fs *FileSyncState, remoteFileID string, localExists bool, localHash string) downloadDecision {
	if fs == nil || !localExists {
		return DecisionDownload
	}

	if fs.RemoteFileID != "" && fs.RemoteFileID != remoteFileID {
		return DecisionConflict
	}

	if localHash != fs.LastSyncedHash {
		return DecisionConflict
	}

	return DecisionDownload
}

// ClearConflict resets ConflictCount for path to zero. Used by
// Reconciler.ForceUploadAll, which clears conflict state as part of its
// recovery behavior.
func (idx *SyncIndex) ClearConflict(path string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if fs, ok := idx.state.Files[path]; ok {
		fs.ConflictCount = 0
	}
}

// RegisterUntracked adds a blank entry for path if none exists yet, so a
// file the scanner finds but the index has never seen becomes visible to
// status/conflicts listings ahead of its first actual sync. Used by
// Reconciler.ReconcileIndex.
func (idx *SyncIndex) RegisterUntracked(path string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.state.Files[path]; ok {
		return false
	}

	idx.state.Files[path] = &FileSyncState{FirstSyncedTime: nowMillis()}
	idx.requestFlushLocked()

	return true
}

// PruneNeverSynced removes path's entry if it was never actually synced
// (no hash and no synced timestamp recorded). Used by
// Reconciler.ReconcileIndex to drop stale placeholders for files that no
// longer exist locally and were never uploaded or downloaded.
func (idx *SyncIndex) PruneNeverSynced(path string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	fs, ok := idx.state.Files[path]
	if !ok || fs.LastSyncedHash != "" || fs.LastSyncedTime != 0 {
		return false
	}

	delete(idx.state.Files, path)
	idx.requestFlushLocked()

	return true
}

// FindByRemoteID returns the vault-relative path tracking remoteID, or ""
// if none is tracked.
func (idx *SyncIndex) FindByRemoteID(remoteID string) string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	for path, fs := range idx.state.Files {
		if fs.RemoteFileID == remoteID {
			return path
		}
	}

	return ""
}

// GetState returns a deep-ish copy of the current VaultSyncState, suitable
// for inspection (e.g. by the status CLI command) without holding the lock.
func (idx *SyncIndex) GetState() VaultSyncState {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return cloneState(&idx.state)
}

// SetState replaces the in-memory state wholesale; used when loading from
// disk at startup.
func (idx *SyncIndex) SetState(state VaultSyncState) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.state = cloneState(&state)
	if idx.state.Files == nil {
		idx.state.Files = make(map[string]*FileSyncState)
	}

	if idx.state.Folders == nil {
		idx.state.Folders = make(map[string]*FolderSyncState)
	}
}

// MarkSyncComplete sets LastFullSync and LastRemoteCheck to now and requests
// a flush.
func (idx *SyncIndex) MarkSyncComplete() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	now := nowMillis()
	idx.state.LastFullSync = now
	idx.state.LastRemoteCheck = now
	idx.requestFlushLocked()
}

// SetChangePageToken persists the incremental-polling cursor.
func (idx *SyncIndex) SetChangePageToken(token string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.state.ChangePageToken = token
	idx.requestFlushLocked()
}

// ChangePageToken returns the current incremental-polling cursor.
func (idx *SyncIndex) ChangePageToken() string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.state.ChangePageToken
}

// requestFlushLocked schedules an asynchronous persistence write. It must be
// called with idx.mu already held (for writing), since it snapshots state
// directly without re-acquiring the lock. Concurrent requests while a write
// is already in flight are coalesced into a single follow-up write.
func (idx *SyncIndex) requestFlushLocked() {
	if idx.flush == nil {
		return
	}

	idx.flushMu.Lock()
	if idx.flushPending {
		idx.flushAgain = true
		idx.flushMu.Unlock()

		return
	}

	idx.flushPending = true
	idx.flushMu.Unlock()

	snapshot := cloneState(&idx.state)

	go idx.runFlush(snapshot)
}

// runFlush performs the actual write, looping to drain any flush requests
// that arrived while the previous write was in flight. Save errors are
// logged; the in-memory state remains authoritative and a later successful
// write recovers (section 4.1 failure semantics).
func (idx *SyncIndex) runFlush(snapshot VaultSyncState) {
	for {
		if err := idx.flush(&snapshot); err != nil {
			idx.logger.Error("persist sync index failed", "error", err)
		}

		idx.flushMu.Lock()
		if idx.flushAgain {
			idx.flushAgain = false
			idx.flushMu.Unlock()
			snapshot = idx.GetState()

			continue
		}

		idx.flushPending = false
		idx.flushMu.Unlock()

		return
	}
}

func cloneState(s *VaultSyncState) VaultSyncState {
	out := VaultSyncState{
		Version:         s.Version,
		VaultID:         s.VaultID,
		LastFullSync:    s.LastFullSync,
		LastRemoteCheck: s.LastRemoteCheck,
		ChangePageToken: s.ChangePageToken,
		Files:           make(map[string]*FileSyncState, len(s.Files)),
		Folders:         make(map[string]*FolderSyncState, len(s.Folders)),
	}

	for k, v := range s.Files {
		cp := *v
		cp.History = append([]HistoryEntry(nil), v.History...)
		out.Files[k] = &cp
	}

	for k, v := range s.Folders {
		cp := *v
		out.Folders[k] = &cp
	}

	return out
}
