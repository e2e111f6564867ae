package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LoadOrCreateSyncAgentID reads the persisted syncAgentId at path, creating
// and persisting a fresh one if none exists yet. Every upload this process
// makes is tagged with this id so a later remote listing can recognize the
// write as its own echo rather than a genuine remote change (spec.md
// section 4.6).
func LoadOrCreateSyncAgentID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	}

	id := uuid.NewString()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("config: create data directory: %w", err)
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%s", filepath.Base(path), uuid.NewString()))
	if err := os.WriteFile(tmp, []byte(id), 0o600); err != nil {
		return "", fmt.Errorf("config: write agent id: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("config: rename agent id into place: %w", err)
	}

	return id, nil
}
