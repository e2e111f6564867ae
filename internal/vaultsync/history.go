package vaultsync

// historyLimit bounds per-file history to the 5 most recent events
// (data model section 3), newest first.
const historyLimit = 5

// HistoryEntry is one bookkeeping record in a FileSyncState's history ring.
type HistoryEntry struct {
	Timestamp int64 `json:"timestamp"` // Unix ms
	Op        string `json:"op"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// pushHistory prepends entry to history, keeping at most historyLimit
// entries (newest first).
func pushHistory(history []HistoryEntry, entry HistoryEntry) []HistoryEntry {
	history = append([]HistoryEntry{entry}, history...)
	if len(history) > historyLimit {
		history = history[:historyLimit]
	}

	return history
}
