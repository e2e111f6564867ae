package config

// Default values for configuration options. These are the starting point
// for TOML decoding (so unset fields retain sane defaults) and the fallback
// when no config file exists at all.
const (
	defaultSyncIntervalSeconds  = 30 // spec.md section 6: 10-300s, default 30
	defaultDebounceSeconds      = 3  // spec.md section 4.3
	defaultInitialSettleSeconds = 2  // spec.md section 4.3 "Initial sync"
	defaultGracePeriodDays      = 30 // spec.md section 4.2
	defaultConflictResolution   = ConflictResolutionManual
	defaultLogLevel             = "info"
	defaultLogFormat            = "auto"
	defaultRemoteBackend        = ""
)

// defaultExtensionWhitelist mirrors spec.md section 4.4's example filter:
// ".md .txt .pdf .png .jpg .jpeg .gif .svg".
var defaultExtensionWhitelist = []string{
	".md", ".txt", ".pdf", ".png", ".jpg", ".jpeg", ".gif", ".svg",
}

// DefaultConfig returns a Config populated with all default values. This is
// used both as the starting point for TOML decoding (so unset fields retain
// defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Vault:   defaultVaultConfig(),
		Sync:    defaultSyncConfig(),
		Remote:  defaultRemoteConfig(),
		Logging: defaultLoggingConfig(),
	}
}

func defaultVaultConfig() VaultConfig {
	whitelist := make([]string, len(defaultExtensionWhitelist))
	copy(whitelist, defaultExtensionWhitelist)

	return VaultConfig{
		ExtensionWhitelist: whitelist,
	}
}

func defaultSyncConfig() SyncConfig {
	return SyncConfig{
		SyncIntervalSeconds:  defaultSyncIntervalSeconds,
		AutoSync:             true,
		ConflictResolution:   defaultConflictResolution,
		GracePeriodDays:      defaultGracePeriodDays,
		DebounceSeconds:      defaultDebounceSeconds,
		InitialSettleSeconds: defaultInitialSettleSeconds,
		UseIncrementalPoll:   true,
	}
}

func defaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		Backend: defaultRemoteBackend,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}
