package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms. This doubles as the
// "pluginDir" referenced throughout spec.md section 6: sync-index.json and
// sync-tombstones.json both live here, alongside config.toml.
const appName = "vaultsync"

// Config file name.
const configFileName = "config.toml"

// sync index / tombstone file names (spec.md section 6).
const (
	syncIndexFileName  = "sync-index.json"
	tombstoneFileName  = "sync-tombstones.json"
	agentIDFileName    = "agent-id"
)

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/vaultsync).
// On macOS, uses ~/Library/Application Support/vaultsync per Apple guidelines.
// Other platforms fall back to ~/.config/vaultsync.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxConfigDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// linuxConfigDir returns the XDG-compliant config directory for Linux.
func linuxConfigDir(home string) string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".config", appName)
}

// DefaultDataDir returns the platform-specific directory for the plugin's
// durable state: sync-index.json, sync-tombstones.json, and the persisted
// syncAgentId. On Linux, respects XDG_DATA_HOME (defaults to
// ~/.local/share/vaultsync). On macOS, uses
// ~/Library/Application Support/vaultsync (macOS convention collapses
// config and data into one directory).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxDataDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

// linuxDataDir returns the XDG-compliant data directory for Linux.
func linuxDataDir(home string) string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".local", "share", appName)
}

// DefaultConfigPath returns the full path to the default config file.
// This is used as the fallback when neither VAULTSYNC_CONFIG nor
// --config is specified.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// SyncIndexPath returns the full path to sync-index.json under dataDir.
func SyncIndexPath(dataDir string) string {
	return filepath.Join(dataDir, syncIndexFileName)
}

// TombstonePath returns the full path to sync-tombstones.json under dataDir.
func TombstonePath(dataDir string) string {
	return filepath.Join(dataDir, tombstoneFileName)
}

// AgentIDPath returns the full path to the file holding the persisted
// syncAgentId.
func AgentIDPath(dataDir string) string {
	return filepath.Join(dataDir, agentIDFileName)
}
