// Package localvault implements vaultsync.VaultAdapter and the filesystem
// watcher against a real directory tree on disk.
package localvault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vaultsync/vaultsync/internal/vaultsync"
)

const platformDarwin = "darwin"

// trashDirName is the fallback trash location used on platforms without a
// native OS trash (every platform except macOS, for now).
const trashDirName = ".vaultsync-trash"

// Adapter is the filesystem-backed vaultsync.VaultAdapter: every path it
// accepts is vault-relative and forward-slash separated, translated to the
// host's native separator only at the syscall boundary.
type Adapter struct {
	root string
}

// NewAdapter creates an Adapter rooted at root, which must already exist.
func NewAdapter(root string) (*Adapter, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("localvault: stat vault root: %w", err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("localvault: vault root %s is not a directory", root)
	}

	return &Adapter{root: root}, nil
}

// abs resolves a vault-relative path to a host filesystem path, rejecting
// any attempt to escape the vault root.
func (a *Adapter) abs(relPath string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(relPath))
	if clean == "." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", fmt.Errorf("localvault: path %q escapes vault root", relPath)
	}

	return filepath.Join(a.root, clean), nil
}

// ScanTree walks the vault and returns its entries. Of filters only
// Recursive is applied; IncludeExtensions and ExcludePaths are ignored. Hidden
// directories are not pruned here — that policy lives in
// vaultsync.Filter, applied by the caller against ScanTree's full output.
func (a *Adapter) ScanTree(ctx context.Context, filters vaultsync.ScanFilters) ([]vaultsync.FileMetadata, error) {
	var entries []vaultsync.FileMetadata

	err := filepath.WalkDir(a.root, func(absPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if absPath == a.root {
			return nil
		}

		rel, err := filepath.Rel(a.root, absPath)
		if err != nil {
			return err
		}

		relSlash := filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		entries = append(entries, fileMetadataFor(relSlash, info, d.IsDir()))

		if !filters.Recursive && d.IsDir() && absPath != a.root {
			return filepath.SkipDir
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("localvault: walk vault tree: %w", err)
	}

	return entries, nil
}

func fileMetadataFor(relSlash string, info fs.FileInfo, isDir bool) vaultsync.FileMetadata {
	return vaultsync.FileMetadata{
		Path:      relSlash,
		Mtime:     info.ModTime(),
		Ctime:     ctimeOf(info),
		Size:      info.Size(),
		IsFolder:  isDir,
		Extension: extOf(relSlash),
	}
}

func extOf(relSlash string) string {
	base := filepath.Base(relSlash)
	if strings.HasPrefix(base, ".") && strings.Count(base, ".") == 1 {
		return ""
	}

	return filepath.Ext(base)
}

// ReadFile reads path's full content.
func (a *Adapter) ReadFile(ctx context.Context, path string) ([]byte, error) {
	abs, err := a.abs(path)
	if err != nil {
		return nil, err
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	data, err := os.ReadFile(abs) //nolint:gosec // abs is validated against escaping the vault root
	if err != nil {
		return nil, fmt.Errorf("localvault: read %s: %w", path, err)
	}

	return data, nil
}

// OpenFile opens path for streaming read. The caller is responsible for
// closing the returned ReadCloser.
func (a *Adapter) OpenFile(ctx context.Context, path string) (io.ReadCloser, error) {
	abs, err := a.abs(path)
	if err != nil {
		return nil, err
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	f, err := os.Open(abs) //nolint:gosec // abs is validated against escaping the vault root
	if err != nil {
		return nil, fmt.Errorf("localvault: open %s: %w", path, err)
	}

	return f, nil
}

// WriteFile writes data to path atomically: a temp file in the same
// directory is written and fsynced, then renamed over the destination, so
// a concurrent reader never observes a partial write (the same discipline
// vaultsync's own index/tombstone persistence uses).
func (a *Adapter) WriteFile(ctx context.Context, path string, data []byte) error {
	abs, err := a.abs(path)
	if err != nil {
		return err
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("localvault: create parent directory for %s: %w", path, err)
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%s", filepath.Base(abs), uuid.NewString()))

	if err := os.WriteFile(tmp, data, 0o644); err != nil { //nolint:gosec // vault files are not secrets
		return fmt.Errorf("localvault: write temp file for %s: %w", path, err)
	}

	if f, openErr := os.Open(tmp); openErr == nil { //nolint:gosec // tmp constructed from trusted dir + uuid
		_ = f.Sync()
		_ = f.Close()
	}

	if err := os.Rename(tmp, abs); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("localvault: rename temp file into place for %s: %w", path, err)
	}

	return nil
}

// CreateFolder creates path and any missing parents.
func (a *Adapter) CreateFolder(ctx context.Context, path string) error {
	abs, err := a.abs(path)
	if err != nil {
		return err
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("localvault: create folder %s: %w", path, err)
	}

	return nil
}

// TrashFile moves path to the OS trash on macOS, or to a vault-local
// .vaultsync-trash directory everywhere else.
func (a *Adapter) TrashFile(ctx context.Context, path string) error {
	abs, err := a.abs(path)
	if err != nil {
		return err
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if runtime.GOOS == platformDarwin {
		if err := moveToMacOSTrash(abs); err == nil {
			return nil
		}
		// Fall through to the local trash directory on any macOS trash failure
		// (e.g. ~/.Trash missing in a sandboxed test environment).
	}

	return moveToLocalTrash(a.root, abs)
}

// Exists reports whether path exists in the vault.
func (a *Adapter) Exists(ctx context.Context, path string) (bool, error) {
	abs, err := a.abs(path)
	if err != nil {
		return false, err
	}

	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	_, err = os.Stat(abs)
	if err == nil {
		return true, nil
	}

	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	return false, fmt.Errorf("localvault: stat %s: %w", path, err)
}

// Stat returns path's current metadata.
func (a *Adapter) Stat(ctx context.Context, path string) (vaultsync.FileMetadata, error) {
	abs, err := a.abs(path)
	if err != nil {
		return vaultsync.FileMetadata{}, err
	}

	if ctx.Err() != nil {
		return vaultsync.FileMetadata{}, ctx.Err()
	}

	info, err := os.Stat(abs)
	if err != nil {
		return vaultsync.FileMetadata{}, fmt.Errorf("localvault: stat %s: %w", path, err)
	}

	return fileMetadataFor(path, info, info.IsDir()), nil
}

// moveToMacOSTrash moves absPath to the current user's ~/.Trash,
// disambiguating name collisions with a numeric suffix the way Finder does.
func moveToMacOSTrash(absPath string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("localvault: resolve home directory: %w", err)
	}

	return moveWithCollisionSuffix(absPath, filepath.Join(home, ".Trash"))
}

// moveToLocalTrash moves absPath into <vaultRoot>/.vaultsync-trash.
func moveToLocalTrash(vaultRoot, absPath string) error {
	dir := filepath.Join(vaultRoot, trashDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("localvault: create trash directory: %w", err)
	}

	return moveWithCollisionSuffix(absPath, dir)
}

func moveWithCollisionSuffix(absPath, destDir string) error {
	if _, err := os.Stat(destDir); err != nil {
		return fmt.Errorf("localvault: trash directory unavailable: %w", err)
	}

	name := filepath.Base(absPath)
	dest := filepath.Join(destDir, name)

	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(name)
		stem := strings.TrimSuffix(name, ext)

		for i := 2; ; i++ {
			candidate := filepath.Join(destDir, stem+" "+strconv.Itoa(i)+ext)
			if _, err := os.Stat(candidate); errors.Is(err, fs.ErrNotExist) {
				dest = candidate
				break
			}
		}
	}

	return os.Rename(absPath, dest)
}

// ctimeOf returns a best-effort creation time. The standard library exposes
// no portable ctime/birthtime; platform-specific extraction belongs in a
// build-tagged file, so this falls back to ModTime, matching what a
// pure-stdlib fs.FileInfo can promise everywhere.
func ctimeOf(info fs.FileInfo) time.Time {
	return info.ModTime()
}
