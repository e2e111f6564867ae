package config

import (
	"errors"
	"fmt"
	"path/filepath"
)

// Validation range constants (spec.md section 6).
const (
	minSyncIntervalSeconds = 10
	maxSyncIntervalSeconds = 300
	minGracePeriodDays     = 1
)

// Validate checks all configuration values and returns all errors found. It
// accumulates every error rather than stopping at the first, so users see a
// complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateVault(&cfg.Vault)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateRemote(&cfg.Remote)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateVault(v *VaultConfig) []error {
	var errs []error

	if v.Root != "" && !filepath.IsAbs(v.Root) {
		errs = append(errs, fmt.Errorf("vault.root: must be absolute, got %q", v.Root))
	}

	for _, ext := range v.ExtensionWhitelist {
		if ext == "" || ext[0] != '.' {
			errs = append(errs, fmt.Errorf("vault.extension_whitelist: entries must start with '.', got %q", ext))
		}
	}

	return errs
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if s.SyncIntervalSeconds < minSyncIntervalSeconds || s.SyncIntervalSeconds > maxSyncIntervalSeconds {
		errs = append(errs, fmt.Errorf("sync.sync_interval_seconds: must be between %d and %d, got %d",
			minSyncIntervalSeconds, maxSyncIntervalSeconds, s.SyncIntervalSeconds))
	}

	if s.GracePeriodDays < minGracePeriodDays {
		errs = append(errs, fmt.Errorf("sync.grace_period_days: must be >= %d, got %d",
			minGracePeriodDays, s.GracePeriodDays))
	}

	errs = append(errs, validateConflictResolution(s.ConflictResolution)...)

	if s.DebounceSeconds < 0 {
		errs = append(errs, fmt.Errorf("sync.debounce_seconds: must be >= 0, got %d", s.DebounceSeconds))
	}

	if s.InitialSettleSeconds < 0 {
		errs = append(errs, fmt.Errorf("sync.initial_settle_seconds: must be >= 0, got %d", s.InitialSettleSeconds))
	}

	return errs
}

var validConflictResolutions = map[string]bool{
	ConflictResolutionManual: true,
	ConflictResolutionLocal:  true,
	ConflictResolutionRemote: true,
}

func validateConflictResolution(v string) []error {
	if !validConflictResolutions[v] {
		return []error{fmt.Errorf(
			"sync.conflict_resolution: must be one of manual, local, remote; got %q", v)}
	}

	return nil
}

func validateRemote(r *RemoteConfig) []error {
	var errs []error

	switch r.Backend {
	case "":
		// Remote not yet configured; allowed until the user runs a command
		// that needs it (newRemoteStore in cmd/vaultsync rejects it then).
	case BackendHTTP:
		if r.Endpoint == "" {
			errs = append(errs, errors.New("remote.endpoint: required when backend = \"http\""))
		}
	case BackendS3:
		if r.Bucket == "" {
			errs = append(errs, errors.New("remote.bucket: required when backend = \"s3\""))
		}
	default:
		errs = append(errs, fmt.Errorf("remote.backend: must be one of http, s3; got %q", r.Backend))
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}
