package vaultsync

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"
)

// conflictCopyDateFormat matches section 4.5's "<YYYY-MM-DD>" suffix.
const conflictCopyDateFormat = "2006-01-02"

// maxConflictCopySuffix is the upper bound on the numeric collision-avoidance
// suffix tried by resolveConflictedCopyPath before giving up and reusing the
// unsuffixed candidate.
const maxConflictCopySuffix = 1000

// conflictedCopyPath builds the derived path for a conflicted copy: "<dir>/
// <stem> (conflicted copy <date> from <hostLabel>)<suffix>.<ext>". If the
// original has no extension, the trailing ".ext" is omitted. suffix is a
// numeric collision-avoidance tag (" 2", " 3", ...) or empty for the first
// candidate.
func conflictedCopyPath(original, hostLabel, suffix string, at time.Time) string {
	dir := path.Dir(original)
	base := path.Base(original)
	stem, ext := stemExt(base)

	name := fmt.Sprintf("%s (conflicted copy %s from %s)%s", stem, at.Format(conflictCopyDateFormat), hostLabel, suffix)
	if ext != "" {
		name += ext
	}

	if dir == "." {
		return name
	}

	return dir + "/" + name
}

// resolveConflictedCopyPath picks a conflicted-copy path for original that
// does not already exist in the vault, probing with a numeric suffix
// (" 2", " 3", ...) the same way the teacher's generateConflictPath avoids
// clobbering an earlier same-day conflicted copy on repeated conflicts. If
// every candidate up to maxConflictCopySuffix is taken, the unsuffixed
// candidate is returned as a last resort.
func resolveConflictedCopyPath(ctx context.Context, vault VaultAdapter, original, hostLabel string, at time.Time) (string, error) {
	base := conflictedCopyPath(original, hostLabel, "", at)

	exists, err := vault.Exists(ctx, base)
	if err != nil {
		return "", fmt.Errorf("vaultsync: check conflicted copy path: %w", err)
	}

	if !exists {
		return base, nil
	}

	for i := 2; i <= maxConflictCopySuffix; i++ {
		candidate := conflictedCopyPath(original, hostLabel, fmt.Sprintf(" %d", i), at)

		exists, err := vault.Exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("vaultsync: check conflicted copy path: %w", err)
		}

		if !exists {
			return candidate, nil
		}
	}

	return base, nil
}

// stemExt splits base into (stem, ext). A dotfile whose only dot is the
// leading one (e.g. ".bashrc") has no extension; the suffix is appended to
// the whole name.
func stemExt(base string) (stem, ext string) {
	if strings.HasPrefix(base, ".") && strings.Count(base, ".") == 1 {
		return base, ""
	}

	ext = path.Ext(base)

	return strings.TrimSuffix(base, ext), ext
}

// conflictResolver performs the keep-both resolution described in section
// 4.5: it downloads the remote version to a derived path and lets the
// caller upload the local version of P unchanged so both sides survive.
type conflictResolver struct {
	remote    RemoteStore
	vault     VaultAdapter
	index     *SyncIndex
	hostLabel string
}

func newConflictResolver(remote RemoteStore, vault VaultAdapter, index *SyncIndex, hostLabel string) *conflictResolver {
	return &conflictResolver{remote: remote, vault: vault, index: index, hostLabel: hostLabel}
}

// resolve downloads remoteFile's bytes to a fresh conflicted-copy path and
// records sync state for it. The caller is responsible for uploading the
// local version of the original path afterward — that is an ordinary
// upload, not special-cased here.
func (c *conflictResolver) resolve(ctx context.Context, original string, remoteFile RemoteFile) (copyPath string, err error) {
	copyPath, err = resolveConflictedCopyPath(ctx, c.vault, original, c.hostLabel, time.Now())
	if err != nil {
		return "", err
	}

	if dir := path.Dir(copyPath); dir != "." {
		if err := c.vault.CreateFolder(ctx, dir); err != nil {
			return "", fmt.Errorf("vaultsync: create parent folder for conflicted copy: %w", err)
		}
	}

	data, err := c.remote.DownloadFile(ctx, remoteFile.ID)
	if err != nil {
		return "", fmt.Errorf("vaultsync: download conflicted remote version: %w", err)
	}

	if err := c.vault.WriteFile(ctx, copyPath, data); err != nil {
		return "", fmt.Errorf("vaultsync: write conflicted copy: %w", err)
	}

	c.index.MarkSynced(copyPath, hashBytes(data), remoteFile.ModifiedTime, int64(len(data)), remoteFile.ID, MarkSyncedExtras{
		Op:         "conflict_download",
		RevisionID: remoteFile.HeadRevisionID,
		Extension:  extensionOf(copyPath),
	})

	return copyPath, nil
}
