// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for vaultsync.
package config

import "time"

// Config is the top-level configuration structure (spec.md section 6,
// "Configuration keys").
type Config struct {
	Vault   VaultConfig   `toml:"vault"`
	Sync    SyncConfig    `toml:"sync"`
	Remote  RemoteConfig  `toml:"remote"`
	Logging LoggingConfig `toml:"logging"`
}

// VaultConfig identifies the local vault directory and the filter applied
// to it.
type VaultConfig struct {
	Root               string   `toml:"root"`
	ExtensionWhitelist []string `toml:"extension_whitelist"`
	ExcludePatterns    []string `toml:"exclude_patterns"`
}

// SyncConfig controls the change pipeline and reconciler (spec.md sections
// 4.3, 4.4, 4.5, 4.7).
type SyncConfig struct {
	SyncIntervalSeconds  int    `toml:"sync_interval_seconds"`
	AutoSync             bool   `toml:"auto_sync"`
	ConflictResolution   string `toml:"conflict_resolution"`
	GracePeriodDays      int    `toml:"grace_period_days"`
	DebounceSeconds      int    `toml:"debounce_seconds"`
	InitialSettleSeconds int    `toml:"initial_settle_seconds"`
	UseIncrementalPoll   bool   `toml:"use_incremental_poll"`
}

// RemoteConfig selects and configures the RemoteStore backend.
type RemoteConfig struct {
	Backend  string `toml:"backend"` // "http" or "s3"
	Endpoint string `toml:"endpoint"`
	VaultID  string `toml:"vault_id"`

	// S3-specific fields (used when Backend == "s3").
	Bucket string `toml:"bucket"`
	Prefix string `toml:"prefix"`
	Region string `toml:"region"`

	// Static S3 credentials, for S3-compatible endpoints with no instance
	// profile or shared credentials file to fall back on. Left blank, the
	// SDK's default chain (environment, shared config, instance role) is
	// used instead.
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"` // "auto", "text", "json"
	LogFile   string `toml:"log_file"`
}

// SyncInterval returns SyncIntervalSeconds as a time.Duration.
func (s SyncConfig) SyncInterval() time.Duration {
	return time.Duration(s.SyncIntervalSeconds) * time.Second
}

// GracePeriod returns GracePeriodDays as a time.Duration.
func (s SyncConfig) GracePeriod() time.Duration {
	return time.Duration(s.GracePeriodDays) * 24 * time.Hour
}

// DebounceInterval returns DebounceSeconds as a time.Duration.
func (s SyncConfig) DebounceInterval() time.Duration {
	return time.Duration(s.DebounceSeconds) * time.Second
}

// InitialSettleDelay returns InitialSettleSeconds as a time.Duration.
func (s SyncConfig) InitialSettleDelay() time.Duration {
	return time.Duration(s.InitialSettleSeconds) * time.Second
}

// Conflict resolution strategies accepted in SyncConfig.ConflictResolution.
// Per spec.md section 6, "manual" is the nominal default but is superseded
// by the conflicted-copy strategy for automatic safety — there is no
// destructive "local"/"remote" auto-resolution path in the core engine.
const (
	ConflictResolutionManual = "manual"
	ConflictResolutionLocal  = "local"
	ConflictResolutionRemote = "remote"
)

// Remote backend identifiers.
const (
	BackendHTTP = "http"
	BackendS3   = "s3"
)
