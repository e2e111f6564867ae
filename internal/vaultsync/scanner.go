package vaultsync

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// hashCacheSize bounds the in-memory cache of recently computed local file
// hashes, avoiding re-hashing unchanged large files on every pass.
const hashCacheSize = 2048

// hashCacheKey identifies a cached hash by path plus the filesystem
// attributes that would invalidate it.
type hashCacheKey struct {
	path  string
	mtime int64
	size  int64
}

// Scanner builds the candidate local index (section 4.4 step 1): it scans
// the vault through the VaultAdapter, filters entries, and hashes files not
// already known-unchanged since the last pass.
type Scanner struct {
	vault  VaultAdapter
	filter *Filter
	cache  *lru.Cache[hashCacheKey, string]
}

// NewScanner creates a Scanner over vault using filter to select entries.
func NewScanner(vault VaultAdapter, filter *Filter) (*Scanner, error) {
	cache, err := lru.New[hashCacheKey, string](hashCacheSize)
	if err != nil {
		return nil, fmt.Errorf("vaultsync: create hash cache: %w", err)
	}

	return &Scanner{vault: vault, filter: filter, cache: cache}, nil
}

// CandidateEntry is one filtered, hashed local file discovered by the
// scanner.
type CandidateEntry struct {
	Path  string
	Hash  string
	Mtime time.Time
	Ctime time.Time
	Size  int64
}

// ScanVault walks the vault and returns every file that survives the
// filter, each paired with its current content hash.
func (s *Scanner) ScanVault(ctx context.Context) ([]CandidateEntry, []FileMetadata, error) {
	entries, err := s.vault.ScanTree(ctx, ScanFilters{Recursive: true})
	if err != nil {
		return nil, nil, fmt.Errorf("vaultsync: scan vault: %w", err)
	}

	var (
		files   []CandidateEntry
		folders []FileMetadata
	)

	for _, entry := range entries {
		if !s.filter.ShouldSync(entry.Path, entry.IsFolder) {
			continue
		}

		if entry.IsFolder {
			folders = append(folders, entry)
			continue
		}

		hash, err := s.hashFor(ctx, entry)
		if err != nil {
			return nil, nil, fmt.Errorf("vaultsync: hash %s: %w", entry.Path, err)
		}

		files = append(files, CandidateEntry{
			Path:  entry.Path,
			Hash:  hash,
			Mtime: entry.Mtime,
			Ctime: entry.Ctime,
			Size:  entry.Size,
		})
	}

	return files, folders, nil
}

func (s *Scanner) hashFor(ctx context.Context, entry FileMetadata) (string, error) {
	key := hashCacheKey{path: entry.Path, mtime: entry.Mtime.UnixNano(), size: entry.Size}

	if hash, ok := s.cache.Get(key); ok {
		return hash, nil
	}

	// Streamed through OpenFile rather than ReadFile: the scan pass only
	// needs the digest, not the bytes, so there's no reason to hold the
	// whole file in memory here (section 9's streaming-hash note).
	r, err := s.vault.OpenFile(ctx, entry.Path)
	if err != nil {
		return "", err
	}
	defer r.Close()

	hash, err := hashReader(r)
	if err != nil {
		return "", err
	}

	s.cache.Add(key, hash)

	return hash, nil
}
