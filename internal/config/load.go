package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// EnvOverrides holds configuration values sourced from environment
// variables, applied between the config file and CLI flags.
type EnvOverrides struct {
	ConfigPath string // VAULTSYNC_CONFIG
	VaultRoot  string // VAULTSYNC_VAULT
}

// CLIOverrides holds configuration values sourced from command-line flags,
// the highest-priority layer.
type CLIOverrides struct {
	ConfigPath string
	VaultRoot  string
	DryRun     *bool
}

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unset fields keep the values from DefaultConfig since
// decoding starts from a pre-populated struct.
func Load(path string, logger *slog.Logger) (*Config, error) {
	logger.Debug("loading config file", "path", path)

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger.Debug("config file parsed successfully", "path", path)

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values. This supports the zero-config
// first-run experience: users can start without creating a config file.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Debug("config file not found, using defaults", "path", path)

		return DefaultConfig(), nil
	}

	return Load(path, logger)
}

// Resolve applies the three-layer override chain (defaults -> config file ->
// CLI flags; environment variables sit between file and flags) and returns
// the final Config.
func Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*Config, error) {
	cfgPath := ResolveConfigPath(env, cli, logger)

	cfg, err := LoadOrDefault(cfgPath, logger)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if env.VaultRoot != "" {
		cfg.Vault.Root = env.VaultRoot
	}

	if cli.VaultRoot != "" {
		cfg.Vault.Root = cli.VaultRoot
	}

	if cli.DryRun != nil {
		logger.Debug("CLI override applied", "dry_run", *cli.DryRun)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// ResolveConfigPath determines the config file path using the three-layer
// priority: CLI flag > environment variable > platform default.
func ResolveConfigPath(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) string {
	cfgPath := DefaultConfigPath()
	source := "default"

	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
		source = "env"
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
		source = "cli"
	}

	logger.Debug("config path resolved", "path", cfgPath, "source", source)

	return cfgPath
}
