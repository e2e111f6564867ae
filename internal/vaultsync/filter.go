package vaultsync

import (
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// Filter determines whether a vault path should be included in sync, per the
// extension whitelist plus dotfile/plugin-directory exclusion (section
// 4.4.1).
type Filter struct {
	extensions map[string]bool
	excludes   []glob.Glob
	dataDir    string
}

// NewFilter builds a Filter from an extension whitelist (e.g. ".md" ".txt")
// and a set of glob exclude patterns. dataDir is the engine's own data
// directory, always excluded so the index/tombstone files are never treated
// as vault content.
func NewFilter(extensions, excludePatterns []string, dataDir string) (*Filter, error) {
	f := &Filter{
		extensions: make(map[string]bool, len(extensions)),
		dataDir:    dataDir,
	}

	for _, ext := range extensions {
		f.extensions[strings.ToLower(ext)] = true
	}

	for _, pattern := range excludePatterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, err
		}

		f.excludes = append(f.excludes, g)
	}

	return f, nil
}

// ShouldSync evaluates whether path (vault-relative, forward-slash
// separated) should be synced.
func (f *Filter) ShouldSync(path string, isFolder bool) bool {
	if f.isDotfile(path) {
		return false
	}

	if f.isPluginDir(path) {
		return false
	}

	if f.matchesExclude(path) {
		return false
	}

	if isFolder {
		return true
	}

	return f.extensions[strings.ToLower(filepath.Ext(path))]
}

func (f *Filter) isDotfile(path string) bool {
	for _, comp := range strings.Split(filepath.ToSlash(path), "/") {
		if strings.HasPrefix(comp, ".") && comp != "." && comp != ".." {
			return true
		}
	}

	return false
}

func (f *Filter) isPluginDir(path string) bool {
	if f.dataDir == "" {
		return false
	}

	clean := filepath.ToSlash(filepath.Clean(path))
	base := filepath.ToSlash(filepath.Base(f.dataDir))

	return clean == base || strings.HasPrefix(clean, base+"/")
}

func (f *Filter) matchesExclude(path string) bool {
	clean := filepath.ToSlash(path)

	for _, g := range f.excludes {
		if g.Match(clean) {
			return true
		}
	}

	return false
}
