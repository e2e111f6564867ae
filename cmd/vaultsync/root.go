package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/vaultsync/vaultsync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd.
var (
	flagConfigPath string
	flagVaultRoot  string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// CLIContext bundles the resolved config and logger built once in
// PersistentPreRunE, so RunE handlers never repeat config resolution.
type CLIContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
}

type cliContextKey struct{}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		return nil
	}

	return cc
}

// mustCLIContext extracts the CLIContext or panics. Every command tree
// entry runs through PersistentPreRunE first, so by the time a RunE handler
// executes the context is always populated.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext missing from command context")
	}

	return cc
}

// newRootCmd builds the fully-assembled root command with all subcommands
// registered. Called once from main.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "vaultsync",
		Short:         "Bidirectional vault sync engine",
		Long:          "Synchronizes a local vault directory with a remote object store.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagVaultRoot, "vault", "", "vault root directory (overrides config)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newForceUploadAllCmd())
	cmd.AddCommand(newReconcileIndexCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConflictsCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the three-layer
// override chain and stores the result on the command's context.
func loadConfig(cmd *cobra.Command) error {
	logger := buildLogger(nil)

	cli := config.CLIOverrides{ConfigPath: flagConfigPath}
	if cmd.Flags().Changed("vault") {
		cli.VaultRoot = flagVaultRoot
	}

	env := config.EnvOverrides{
		ConfigPath: os.Getenv("VAULTSYNC_CONFIG"),
		VaultRoot:  os.Getenv("VAULTSYNC_VAULT"),
	}

	resolved, err := config.Resolve(env, cli, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	finalLogger := buildLogger(resolved)
	cc := &CLIContext{Cfg: resolved, Logger: finalLogger}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// buildLogger configures the slog handler. A real terminal gets tint's
// colorized output; anything else (a pipe, a log file) gets plain
// JSON, matching section 2's "human-readable in a TTY, structured
// otherwise" requirement. Pass nil for the pre-config bootstrap logger.
func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	format := "auto"

	if cfg != nil {
		format = cfg.Logging.LogFormat

		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelInfo
	}

	if flagDebug {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	w := os.Stderr

	if cfg != nil && cfg.Logging.LogFile != "" {
		if f, err := os.OpenFile(cfg.Logging.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			w = f
			format = "json"
		}
	}

	useColor := format == "text" || (format == "auto" && isatty.IsTerminal(w.Fd()))

	if format == "json" || (format == "auto" && !useColor) {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}

	return slog.New(tint.NewHandler(w, &tint.Options{Level: level}))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
