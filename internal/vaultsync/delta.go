package vaultsync

// DeltaKind classifies one path's outcome from the three-way delta
// algorithm (section 4.6).
type DeltaKind int

const (
	DeltaInSync DeltaKind = iota
	DeltaDownload
	DeltaUpload
	DeltaConflict
)

func (k DeltaKind) String() string {
	switch k {
	case DeltaInSync:
		return "in_sync"
	case DeltaDownload:
		return "download"
	case DeltaUpload:
		return "upload"
	case DeltaConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// agentPropertyKey is the appProperties key stamped on every upload so the
// reconciler can recognize its own writes in the remote listing.
const agentPropertyKey = "lastModifiedByAgent"

// DeltaItem is one path's classification, with enough context for the
// reconciler to act on it without re-deriving anything.
type DeltaItem struct {
	Path      string
	Kind      DeltaKind
	Reason    string
	Remote    *RemoteFile
	LocalHash string
}

// ComputeDelta implements section 4.6. candidateIndex is the reconciler's
// candidate local index (SyncIndex.Files merged with freshly discovered
// vault entries); localFiles is the current on-disk content, keyed by path,
// as produced by Scanner; remoteFiles is RemoteStore.ListFiles's result.
func ComputeDelta(candidateIndex map[string]*FileSyncState, localFiles map[string]CandidateEntry, remoteFiles []RemoteFile, syncAgentID string) []DeltaItem {
	var items []DeltaItem

	remotePaths := make(map[string]bool, len(remoteFiles))

	for i := range remoteFiles {
		r := remoteFiles[i]
		remotePaths[r.Path] = true
		items = append(items, classifyRemote(candidateIndex, localFiles, &r, syncAgentID))
	}

	for path, fs := range candidateIndex {
		if remotePaths[path] {
			continue
		}

		if item, ok := classifyLocalOnly(path, fs, localFiles); ok {
			items = append(items, item)
		}
	}

	return items
}

func classifyRemote(candidateIndex map[string]*FileSyncState, localFiles map[string]CandidateEntry, r *RemoteFile, syncAgentID string) DeltaItem {
	if syncAgentID != "" && r.AppProperties[agentPropertyKey] == syncAgentID {
		return DeltaItem{Path: r.Path, Kind: DeltaInSync, Reason: "own_echo", Remote: r}
	}

	l, known := candidateIndex[r.Path]
	if !known {
		return DeltaItem{Path: r.Path, Kind: DeltaDownload, Reason: "missing_local", Remote: r}
	}

	local, existsLocally := localFiles[r.Path]

	item := DeltaItem{Path: r.Path, Remote: r}
	if existsLocally {
		item.LocalHash = local.Hash
	}

	if l.LastSyncRevisionID == "" {
		// No valid revision id recorded yet: defer to SyncIndex's
		// shouldDownload fallback (section 4.1) instead of assuming
		// remoteChanged unconditionally — it also catches the case where
		// the remote object at this path was replaced by a different
		// object id, which a bare hash comparison would miss.
		if classifyUnknownRevision(l, r.ID, existsLocally, local.Hash) == DecisionConflict {
			item.Kind = DeltaConflict
			item.Reason = "both_changed"
		} else {
			item.Kind = DeltaDownload
			item.Reason = "remote_newer"
		}

		return item
	}

	localChanged := existsLocally && local.Hash != l.LastSyncedHash
	remoteChanged := r.HeadRevisionID != l.LastSyncRevisionID

	switch {
	case !localChanged && !remoteChanged:
		item.Kind = DeltaInSync
		item.Reason = "unchanged"
	case localChanged && !remoteChanged:
		item.Kind = DeltaUpload
		item.Reason = "local_newer"
	case !localChanged && remoteChanged:
		item.Kind = DeltaDownload
		item.Reason = "remote_newer"
	default:
		item.Kind = DeltaConflict
		item.Reason = "both_changed"
	}

	return item
}

func classifyLocalOnly(path string, fs *FileSyncState, localFiles map[string]CandidateEntry) (DeltaItem, bool) {
	if fs.LastSyncedTime == 0 && fs.LastSyncedHash == "" {
		return DeltaItem{}, false // remote-only placeholder, skip
	}

	local, existsLocally := localFiles[path]
	if !existsLocally {
		// Local deletion is handled by the tombstone flow, not the delta pass.
		return DeltaItem{}, false
	}

	reason := "missing_remote"
	if fs.RemoteFileID == "" {
		reason = "never_synced"
	}

	return DeltaItem{Path: path, Kind: DeltaUpload, Reason: reason, LocalHash: local.Hash}, true
}
