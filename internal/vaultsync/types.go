// Package vaultsync implements the bidirectional reconciliation engine: the
// persistent sync index, the three-way delta computation, the tombstone-based
// deletion protocol, conflicted-copy conflict preservation, echo suppression,
// and the event-driven change pipeline that glues them together.
package vaultsync

import (
	"context"
	"errors"
	"io"
	"time"
)

// Sentinel errors distinguishing the broad error kinds the reconciler reacts
// to differently (transient vs auth vs data integrity).
var (
	// ErrAuthFailed means the remote rejected credentials. A sync pass aborts
	// immediately without mutating state when this is returned.
	ErrAuthFailed = errors.New("vaultsync: remote authentication failed")

	// ErrTransient covers network errors, 5xx responses, and timeouts. The
	// affected file is skipped for this pass and retried on the next one.
	ErrTransient = errors.New("vaultsync: transient remote error")

	// ErrDataIntegrity covers malformed JSON or unexpected revision formats.
	// The Reconciler handles it like any other per-file error: it is recorded
	// on the file via SyncIndex.MarkSyncError, and the file's synced state is
	// not reset to never-synced.
	ErrDataIntegrity = errors.New("vaultsync: data integrity error")

	// ErrReconcileInProgress is returned by Sync when a pass is already
	// running; Reconciler.Sync is non-reentrant.
	ErrReconcileInProgress = errors.New("vaultsync: reconcile already in progress")
)

// ChangeType classifies a FileEvent from the vault watcher.
type ChangeType int

const (
	ChangeCreated ChangeType = iota
	ChangeModified
	ChangeDeleted
)

func (c ChangeType) String() string {
	switch c {
	case ChangeCreated:
		return "created"
	case ChangeModified:
		return "modified"
	case ChangeDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// FileEvent is produced by the vault watcher and consumed by the
// ChangePipeline. A rename surfaces as ChangeCreated with OldPath set.
type FileEvent struct {
	Path      string
	Type      ChangeType
	IsFolder  bool
	OldPath   string // set only for renames
	Timestamp time.Time
}

// IsRename reports whether this event represents a rename/move.
func (e FileEvent) IsRename() bool {
	return e.Type == ChangeCreated && e.OldPath != ""
}

// RemoteFile is the remote store's view of a single object.
type RemoteFile struct {
	ID             string
	Path           string
	MimeType       string
	Size           int64
	ModifiedTime   time.Time
	HeadRevisionID string
	AppProperties  map[string]string
}

// UploadResult is returned by RemoteStore.UploadFile.
type UploadResult struct {
	ID             string
	HeadRevisionID string
}

// RemoteChange is one entry in a getChanges page.
type RemoteChange struct {
	FileID  string
	Removed bool
	File    *RemoteFile // nil when Removed is true
}

// RemoteStore is the external, authenticated object-store collaborator. The
// core engine only ever talks to this interface — the OAuth2 flow and the
// concrete REST/S3 wiring live outside the reconciliation core.
type RemoteStore interface {
	ListFiles(ctx context.Context, vaultID string) ([]RemoteFile, error)
	UploadFile(ctx context.Context, path string, data []byte, mimeType string, appProps map[string]string) (UploadResult, error)
	DownloadFile(ctx context.Context, id string) ([]byte, error)
	DeleteFile(ctx context.Context, id string) error
	GetChanges(ctx context.Context, pageToken string) (changes []RemoteChange, nextPageToken string, err error)
	GetStartPageToken(ctx context.Context) (string, error)
	GetFileMetadata(ctx context.Context, id string) (RemoteFile, error)
}

// FileMetadata describes one entry returned by VaultAdapter.ScanTree.
type FileMetadata struct {
	Path      string
	Mtime     time.Time
	Ctime     time.Time
	Size      int64
	IsFolder  bool
	Extension string
}

// ScanFilters narrows VaultAdapter.ScanTree to the files the engine cares
// about.
type ScanFilters struct {
	IncludeExtensions []string
	ExcludePaths      []string
	Recursive         bool
}

// VaultAdapter is the external, storage-agnostic local filesystem
// collaborator. All vault I/O in the engine passes through this interface.
type VaultAdapter interface {
	ScanTree(ctx context.Context, filters ScanFilters) ([]FileMetadata, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// OpenFile opens path for streaming read, for callers like the scanner's
	// hashing pass that only need to consume the content once and don't
	// want to hold the whole file in memory via ReadFile.
	OpenFile(ctx context.Context, path string) (io.ReadCloser, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	CreateFolder(ctx context.Context, path string) error
	TrashFile(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
	Stat(ctx context.Context, path string) (FileMetadata, error)
}

// SyncResult is returned by every Reconciler.Sync call. Per-file errors never
// fail the pass; Success is false only when the vault scan or the remote
// listing fails, or when the remote rejects credentials.
type SyncResult struct {
	Success         bool
	Message         string
	UploadedFiles   int
	DownloadedFiles int
	Conflicts       int
	SkippedFiles    int
	Errors          []error
}

func (r *SyncResult) recordError(err error) {
	r.Errors = append(r.Errors, err)
}
