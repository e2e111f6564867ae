package vaultsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Timeouts bound individual remote calls so one slow file cannot stall an
// entire sync pass (section 4.4).
const (
	uploadTimeout   = 60 * time.Second
	downloadTimeout = 60 * time.Second
	metadataTimeout = 30 * time.Second
)

// ReconcilerConfig carries the identity and policy knobs Reconciler needs
// beyond its four collaborators.
type ReconcilerConfig struct {
	VaultID string
	// SyncAgentID tags every upload's appProperties so this agent's own
	// writes are recognized as echoes in a later remote listing.
	SyncAgentID string
	// HostLabel is stamped into conflicted-copy filenames.
	HostLabel string
	// IncrementalPoll switches Sync's remote listing from a full
	// ListFiles to GetChanges against a persisted page token.
	IncrementalPoll bool
}

// Reconciler is the engine's central component: it drives one sync pass
// end to end (build candidate index, compute delta, apply actions in
// order, process tombstones) and answers the individual watcher-event
// handlers the ChangePipeline dispatches between passes.
type Reconciler struct {
	remote     RemoteStore
	vault      VaultAdapter
	index      *SyncIndex
	tombstones *TombstoneStore
	scanner    *Scanner
	resolver   *conflictResolver
	cfg        ReconcilerConfig
	logger     *slog.Logger

	runMu   sync.Mutex
	running bool
}

// NewReconciler wires the four collaborators (SyncIndex, TombstoneStore,
// RemoteStore, VaultAdapter) plus a Scanner built from filter into a
// Reconciler.
func NewReconciler(remote RemoteStore, vault VaultAdapter, index *SyncIndex, tombstones *TombstoneStore, filter *Filter, cfg ReconcilerConfig, logger *slog.Logger) (*Reconciler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	scanner, err := NewScanner(vault, filter)
	if err != nil {
		return nil, err
	}

	return &Reconciler{
		remote:     remote,
		vault:      vault,
		index:      index,
		tombstones: tombstones,
		scanner:    scanner,
		resolver:   newConflictResolver(remote, vault, index, cfg.HostLabel),
		cfg:        cfg,
		logger:     logger,
	}, nil
}

func (r *Reconciler) tryStart() bool {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	if r.running {
		return false
	}

	r.running = true

	return true
}

func (r *Reconciler) finish() {
	r.runMu.Lock()
	r.running = false
	r.runMu.Unlock()
}

// Sync performs one full reconciliation pass (section 4.4). It is
// non-reentrant: a call while a pass is already running returns
// ErrReconcileInProgress immediately without touching any state.
func (r *Reconciler) Sync(ctx context.Context) (SyncResult, error) {
	if !r.tryStart() {
		return SyncResult{}, ErrReconcileInProgress
	}
	defer r.finish()

	result := SyncResult{Success: true}

	candidate, localByPath, err := r.buildCandidateIndex(ctx)
	if err != nil {
		result.Success = false
		result.Message = err.Error()

		return result, err
	}

	remoteFiles, err := r.listRemote(ctx, &result)
	if err != nil {
		result.Success = false
		result.Message = fmt.Sprintf("list remote files: %v", err)

		return result, err
	}

	delta := ComputeDelta(candidate, localByPath, remoteFiles, r.cfg.SyncAgentID)

	var conflicts []DeltaItem

	// An auth failure from any remote call aborts the pass immediately
	// (section 7: "reported once; pass aborts without mutating state") —
	// every apply* helper below returns a non-nil error only in that case,
	// since per-file errors of other kinds are recorded on the affected
	// file and never fail the pass.
	for _, item := range delta {
		if item.Kind == DeltaDownload {
			if err := r.applyDownload(ctx, item, &result); err != nil {
				result.Message = err.Error()
				return result, err
			}
		}
	}

	for _, item := range delta {
		if item.Kind == DeltaUpload {
			if err := r.applyUpload(ctx, item, localByPath, &result); err != nil {
				result.Message = err.Error()
				return result, err
			}
		}
	}

	for _, item := range delta {
		if item.Kind == DeltaConflict {
			conflicts = append(conflicts, item)
		}
	}

	for _, item := range conflicts {
		if err := r.applyConflict(ctx, item, localByPath, &result); err != nil {
			result.Message = err.Error()
			return result, err
		}
	}

	if err := r.processTombstones(ctx, &result); err != nil {
		result.Message = err.Error()
		return result, err
	}

	r.index.MarkSyncComplete()

	return result, nil
}

// buildCandidateIndex implements section 4.4 step 1: start from the
// persisted SyncIndex, drop stale remote-only placeholders that never
// completed a download, and register any vault file the scanner finds
// that the index does not yet know about.
func (r *Reconciler) buildCandidateIndex(ctx context.Context) (map[string]*FileSyncState, map[string]CandidateEntry, error) {
	state := r.index.GetState()

	candidate := make(map[string]*FileSyncState, len(state.Files))
	for path, fs := range state.Files {
		candidate[path] = fs
	}

	localFiles, folders, err := r.scanner.ScanVault(ctx)
	if err != nil {
		return nil, nil, err
	}

	localByPath := make(map[string]CandidateEntry, len(localFiles))
	for _, f := range localFiles {
		localByPath[f.Path] = f
	}

	for path, fs := range candidate {
		_, existsLocally := localByPath[path]
		if !existsLocally && fs.LastSyncedHash == "" && fs.LastSyncedTime == 0 {
			delete(candidate, path)
		}
	}

	for path := range localByPath {
		if _, ok := candidate[path]; !ok {
			candidate[path] = &FileSyncState{}
		}
	}

	for _, folder := range folders {
		if r.index.GetFolder(folder.Path) == nil {
			r.index.SetFolder(folder.Path, FolderSyncState{LastSyncedTime: nowMillis()})
		}
	}

	return candidate, localByPath, nil
}

// listRemote returns the full remote listing to diff against, either via
// RemoteStore.ListFiles or, when IncrementalPoll is set, by folding a
// GetChanges page onto the persisted cursor (section 4.7's optional fast
// path). Removed entries in a changes page are resolved immediately
// rather than carried into the delta pass, since an absence cannot be
// expressed as a RemoteFile.
func (r *Reconciler) listRemote(ctx context.Context, result *SyncResult) ([]RemoteFile, error) {
	if !r.cfg.IncrementalPoll {
		return r.remote.ListFiles(ctx, r.cfg.VaultID)
	}

	token := r.index.ChangePageToken()
	if token == "" {
		start, err := r.remote.GetStartPageToken(ctx)
		if err == nil {
			r.index.SetChangePageToken(start)
		}

		return r.remote.ListFiles(ctx, r.cfg.VaultID)
	}

	changes, next, err := r.remote.GetChanges(ctx, token)
	if err != nil {
		return nil, err
	}

	r.index.SetChangePageToken(next)

	files := make([]RemoteFile, 0, len(changes))

	for _, change := range changes {
		if change.Removed {
			r.applyRemoteRemoval(ctx, change.FileID, result)
			continue
		}

		if change.File != nil {
			files = append(files, *change.File)
		}
	}

	return files, nil
}

// applyRemoteRemoval handles a remote-side deletion surfaced by an
// incremental changes page: if a local copy is tracked under fileID, it is
// trashed locally and the index entry dropped, mirroring the tombstone
// flow's "move to trash" step without waiting out a grace period (the
// remote side has already committed to the deletion).
func (r *Reconciler) applyRemoteRemoval(ctx context.Context, fileID string, result *SyncResult) {
	path := r.index.FindByRemoteID(fileID)
	if path == "" {
		return
	}

	if exists, err := r.vault.Exists(ctx, path); err == nil && exists {
		if err := r.vault.TrashFile(ctx, path); err != nil {
			result.recordError(fmt.Errorf("vaultsync: trash %s after remote removal: %w", path, err))
		}
	}

	r.index.RemoveFile(path)
}

// applyDownload returns a non-nil error only when the remote rejected
// credentials; the caller aborts the whole pass in that case without any
// further SyncIndex mutation. Every other failure is recorded on the
// affected file and reported via nil, so the pass continues.
func (r *Reconciler) applyDownload(ctx context.Context, item DeltaItem, result *SyncResult) error {
	dctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	data, err := r.remote.DownloadFile(dctx, item.Remote.ID)
	if err != nil {
		wrapped := fmt.Errorf("vaultsync: download %s: %w", item.Path, err)

		if errors.Is(err, ErrAuthFailed) {
			result.Success = false
			result.recordError(wrapped)

			return wrapped
		}

		r.index.MarkSyncError(item.Path, err, "download")
		result.recordError(wrapped)
		result.SkippedFiles++

		return nil
	}

	if err := r.vault.WriteFile(dctx, item.Path, data); err != nil {
		r.index.MarkSyncError(item.Path, err, "download")
		result.recordError(fmt.Errorf("vaultsync: write %s: %w", item.Path, err))
		result.SkippedFiles++

		return nil
	}

	r.index.MarkSynced(item.Path, hashBytes(data), item.Remote.ModifiedTime, int64(len(data)), item.Remote.ID, MarkSyncedExtras{
		Op:         "download",
		RevisionID: item.Remote.HeadRevisionID,
		Extension:  extensionOf(item.Path),
	})

	result.DownloadedFiles++

	return nil
}

// applyUpload returns a non-nil error only on an auth failure, per
// applyDownload's contract above.
func (r *Reconciler) applyUpload(ctx context.Context, item DeltaItem, localByPath map[string]CandidateEntry, result *SyncResult) error {
	if err := r.uploadPath(ctx, item.Path, localByPath); err != nil {
		wrapped := fmt.Errorf("vaultsync: upload %s: %w", item.Path, err)

		if errors.Is(err, ErrAuthFailed) {
			result.Success = false
			result.recordError(wrapped)

			return wrapped
		}

		r.index.MarkSyncError(item.Path, err, "upload")
		result.recordError(wrapped)
		result.SkippedFiles++

		return nil
	}

	result.UploadedFiles++

	return nil
}

// uploadPath reads path from the vault and uploads it, stamping this
// agent's id into appProperties for echo suppression, then records the
// sync. local, when present, supplies the hash/mtime/size without a
// re-read; otherwise they are recomputed from the freshly read bytes.
func (r *Reconciler) uploadPath(ctx context.Context, path string, localByPath map[string]CandidateEntry) error {
	uctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	data, err := r.vault.ReadFile(uctx, path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	local, ok := localByPath[path]
	if !ok {
		meta, err := r.vault.Stat(uctx, path)
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}

		local = CandidateEntry{Path: path, Hash: hashBytes(data), Mtime: meta.Mtime, Ctime: meta.Ctime, Size: meta.Size}
	}

	res, err := r.remote.UploadFile(uctx, path, data, mimeTypeForPath(path), map[string]string{agentPropertyKey: r.cfg.SyncAgentID})
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	r.index.MarkSynced(path, local.Hash, local.Mtime, local.Size, res.ID, MarkSyncedExtras{
		Op:         "upload",
		RevisionID: res.HeadRevisionID,
		Ctime:      local.Ctime,
		Extension:  extensionOf(path),
	})

	return nil
}

// applyConflict returns a non-nil error only on an auth failure, per
// applyDownload's contract above.
func (r *Reconciler) applyConflict(ctx context.Context, item DeltaItem, localByPath map[string]CandidateEntry, result *SyncResult) error {
	if _, err := r.resolver.resolve(ctx, item.Path, *item.Remote); err != nil {
		if errors.Is(err, ErrAuthFailed) {
			result.Success = false
			result.recordError(err)

			return err
		}

		r.index.MarkSyncError(item.Path, err, "conflict")
		result.recordError(err)
		result.SkippedFiles++

		return nil
	}

	if err := r.uploadPath(ctx, item.Path, localByPath); err != nil {
		wrapped := fmt.Errorf("vaultsync: upload local side of conflict %s: %w", item.Path, err)

		if errors.Is(err, ErrAuthFailed) {
			result.Success = false
			result.recordError(wrapped)

			return wrapped
		}

		r.index.MarkSyncError(item.Path, err, "conflict")
		result.recordError(wrapped)
		result.SkippedFiles++

		return nil
	}

	r.index.MarkConflict(item.Path)
	result.Conflicts++

	return nil
}

// processTombstones implements section 4.4 step 5: every tombstoned path
// still present locally is moved to the OS trash, and every tombstone past
// its grace period is deleted from the remote and forgotten. It returns a
// non-nil error only on an auth failure from RemoteStore.DeleteFile, per
// applyDownload's contract above; the local trash step above it never talks
// to the remote, so it carries no such abort path.
func (r *Reconciler) processTombstones(ctx context.Context, result *SyncResult) error {
	for _, ts := range r.tombstones.GetAll() {
		exists, err := r.vault.Exists(ctx, ts.FilePath)
		if err != nil || !exists {
			continue
		}

		if err := r.vault.TrashFile(ctx, ts.FilePath); err != nil {
			result.recordError(fmt.Errorf("vaultsync: trash tombstoned %s: %w", ts.FilePath, err))
		}
	}

	for _, ts := range r.tombstones.GetExpired() {
		dctx, cancel := context.WithTimeout(ctx, metadataTimeout)
		err := r.remote.DeleteFile(dctx, ts.RemoteFileID)
		cancel()

		if err != nil {
			wrapped := fmt.Errorf("vaultsync: delete expired remote object for %s: %w", ts.FilePath, err)

			if errors.Is(err, ErrAuthFailed) {
				result.Success = false
				result.recordError(wrapped)

				return wrapped
			}

			result.recordError(wrapped)

			continue
		}

		r.tombstones.Remove(ts.RemoteFileID)
	}

	return nil
}

// ForceUploadAll scans the vault and uploads every file, overwriting
// whatever the remote holds at that path and clearing any conflict state.
// It is the operator escape hatch for "local is the truth" recovery.
func (r *Reconciler) ForceUploadAll(ctx context.Context) (SyncResult, error) {
	if !r.tryStart() {
		return SyncResult{}, ErrReconcileInProgress
	}
	defer r.finish()

	result := SyncResult{Success: true}

	localFiles, _, err := r.scanner.ScanVault(ctx)
	if err != nil {
		result.Success = false
		result.Message = err.Error()

		return result, err
	}

	localByPath := make(map[string]CandidateEntry, len(localFiles))
	for _, f := range localFiles {
		localByPath[f.Path] = f
	}

	for _, f := range localFiles {
		if err := r.uploadPath(ctx, f.Path, localByPath); err != nil {
			r.index.MarkSyncError(f.Path, err, "force_upload")
			result.recordError(fmt.Errorf("vaultsync: force-upload %s: %w", f.Path, err))
			result.SkippedFiles++

			continue
		}

		r.index.ClearConflict(f.Path)
		result.UploadedFiles++
	}

	r.index.MarkSyncComplete()

	return result, nil
}

// ReconcileReport summarizes a ReconcileIndex pass.
type ReconcileReport struct {
	Added  int // vault files newly registered in the index
	Pruned int // stale never-synced entries removed
}

// ReconcileIndex re-scans the vault and repairs SyncIndex bookkeeping
// without contacting the remote store: every vault file the index doesn't
// yet track gets a blank entry, and every index entry that was never
// actually synced and whose file no longer exists locally is dropped. This
// is the operator maintenance command for an index that has drifted from
// the vault's actual contents.
func (r *Reconciler) ReconcileIndex(ctx context.Context) (ReconcileReport, error) {
	if !r.tryStart() {
		return ReconcileReport{}, ErrReconcileInProgress
	}
	defer r.finish()

	var report ReconcileReport

	localFiles, _, err := r.scanner.ScanVault(ctx)
	if err != nil {
		return report, err
	}

	localByPath := make(map[string]bool, len(localFiles))
	for _, f := range localFiles {
		localByPath[f.Path] = true
		if r.index.RegisterUntracked(f.Path) {
			report.Added++
		}
	}

	for path := range r.index.GetState().Files {
		if localByPath[path] {
			continue
		}

		if r.index.PruneNeverSynced(path) {
			report.Pruned++
		}
	}

	return report, nil
}

// HandleFileRename tombstones the remote object at oldPath (if one was
// ever synced) and uploads newPath as a fresh file, satisfying
// ReconcilerHandlers.
func (r *Reconciler) HandleFileRename(ctx context.Context, oldPath, newPath string) error {
	if fs := r.index.GetFile(oldPath); fs != nil && fs.RemoteFileID != "" {
		r.tombstones.Add(fs.RemoteFileID, oldPath, r.cfg.SyncAgentID)
	}

	r.index.RemoveFile(oldPath)

	return r.uploadPath(ctx, newPath, nil)
}

// HandleFolderCreation registers a newly created folder in the index.
func (r *Reconciler) HandleFolderCreation(_ context.Context, path string) error {
	r.index.SetFolder(path, FolderSyncState{LastSyncedTime: nowMillis()})

	return nil
}

// HandleFolderDeletion drops a folder's index entry. The files beneath it
// arrive as separate delete events from the watcher and are tombstoned
// individually.
func (r *Reconciler) HandleFolderDeletion(_ context.Context, path string) error {
	r.index.RemoveFolder(path)

	return nil
}

// HandleFolderRename cascades a folder rename through the index, updating
// every tracked file beneath it in place.
func (r *Reconciler) HandleFolderRename(_ context.Context, oldPath, newPath string) error {
	r.index.RenameFolder(oldPath, newPath)

	return nil
}

// handleFileCreation uploads a newly created local file. It is not part of
// ReconcilerHandlers: file content events are coalesced by the
// ChangePipeline into a debounced Sync pass rather than dispatched
// individually, but the method is kept for direct/test use and for the
// single-file-event CLI paths.
func (r *Reconciler) handleFileCreation(ctx context.Context, path string) error {
	return r.uploadPath(ctx, path, nil)
}

// handleFileModification re-uploads path only if its content has actually
// diverged from the last synced snapshot.
func (r *Reconciler) handleFileModification(ctx context.Context, path string) error {
	meta, err := r.vault.Stat(ctx, path)
	if err != nil {
		return fmt.Errorf("vaultsync: stat %s: %w", path, err)
	}

	data, err := r.vault.ReadFile(ctx, path)
	if err != nil {
		return fmt.Errorf("vaultsync: read %s: %w", path, err)
	}

	hash := hashBytes(data)
	if !r.index.NeedsSync(path, hash, meta.Mtime, meta.Size) {
		return nil
	}

	return r.uploadPath(ctx, path, map[string]CandidateEntry{
		path: {Path: path, Hash: hash, Mtime: meta.Mtime, Ctime: meta.Ctime, Size: meta.Size},
	})
}

// handleFileDeletion tombstones path's remote object, if any, and drops its
// index entry.
func (r *Reconciler) handleFileDeletion(_ context.Context, path string) error {
	if fs := r.index.GetFile(path); fs != nil && fs.RemoteFileID != "" {
		r.tombstones.Add(fs.RemoteFileID, path, r.cfg.SyncAgentID)
	}

	r.index.RemoveFile(path)

	return nil
}
