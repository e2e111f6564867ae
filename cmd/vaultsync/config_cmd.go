package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vaultsync/vaultsync/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigValidateCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration after all overrides",
		RunE:  runConfigShow,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(cc.Cfg)
	}

	printConfigText(cc.Cfg)

	return nil
}

func printConfigText(cfg *config.Config) {
	fmt.Printf("vault.root:              %s\n", cfg.Vault.Root)
	fmt.Printf("vault.extension_whitelist: %v\n", cfg.Vault.ExtensionWhitelist)
	fmt.Printf("vault.exclude_patterns:   %v\n", cfg.Vault.ExcludePatterns)
	fmt.Printf("sync.sync_interval_seconds: %d\n", cfg.Sync.SyncIntervalSeconds)
	fmt.Printf("sync.auto_sync:           %t\n", cfg.Sync.AutoSync)
	fmt.Printf("sync.conflict_resolution: %s\n", cfg.Sync.ConflictResolution)
	fmt.Printf("sync.grace_period_days:   %d\n", cfg.Sync.GracePeriodDays)
	fmt.Printf("sync.debounce_seconds:    %d\n", cfg.Sync.DebounceSeconds)
	fmt.Printf("sync.use_incremental_poll: %t\n", cfg.Sync.UseIncrementalPoll)
	fmt.Printf("remote.backend:           %s\n", cfg.Remote.Backend)
	fmt.Printf("remote.endpoint:          %s\n", cfg.Remote.Endpoint)
	fmt.Printf("remote.vault_id:          %s\n", cfg.Remote.VaultID)
	fmt.Printf("remote.bucket:            %s\n", cfg.Remote.Bucket)
	fmt.Printf("logging.log_level:        %s\n", cfg.Logging.LogLevel)
	fmt.Printf("logging.log_format:       %s\n", cfg.Logging.LogFormat)
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := config.Validate(cc.Cfg); err != nil {
				return err
			}

			fmt.Println("configuration is valid")

			return nil
		},
	}
}
