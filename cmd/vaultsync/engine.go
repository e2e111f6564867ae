package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/oauth2"

	"github.com/vaultsync/vaultsync/internal/config"
	"github.com/vaultsync/vaultsync/internal/localvault"
	"github.com/vaultsync/vaultsync/internal/remotestore"
	"github.com/vaultsync/vaultsync/internal/vaultsync"
)

// engine bundles every collaborator a sync pass needs, wired from a
// resolved Config. Built fresh for each command invocation — there is no
// long-lived daemon state beyond what SyncIndex/TombstoneStore persist to
// disk.
type engine struct {
	vault      vaultsync.VaultAdapter
	remote     vaultsync.RemoteStore
	index      *vaultsync.SyncIndex
	tombstones *vaultsync.TombstoneStore
	reconciler *vaultsync.Reconciler
}

// newEngine wires config into a complete, ready-to-run engine.
func newEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*engine, error) {
	if cfg.Vault.Root == "" {
		return nil, fmt.Errorf("vault.root is not configured (set it in config.toml or pass --vault)")
	}

	vault, err := localvault.NewAdapter(cfg.Vault.Root)
	if err != nil {
		return nil, fmt.Errorf("opening vault: %w", err)
	}

	dataDir := config.DefaultDataDir()
	if dataDir == "" {
		return nil, fmt.Errorf("cannot determine data directory")
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	filter, err := vaultsync.NewFilter(cfg.Vault.ExtensionWhitelist, cfg.Vault.ExcludePatterns, dataDir)
	if err != nil {
		return nil, fmt.Errorf("compiling exclude patterns: %w", err)
	}

	remote, err := newRemoteStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("configuring remote store: %w", err)
	}

	agentID, err := config.LoadOrCreateSyncAgentID(config.AgentIDPath(dataDir))
	if err != nil {
		return nil, fmt.Errorf("loading sync agent id: %w", err)
	}

	indexPath := config.SyncIndexPath(dataDir)
	state := vaultsync.LoadVaultSyncState(indexPath, cfg.Remote.VaultID)

	index := vaultsync.NewSyncIndex(cfg.Remote.VaultID, vaultsync.SaveVaultSyncState(indexPath), logger)
	index.SetState(state)

	tombstones := vaultsync.NewTombstoneStore(config.TombstonePath(dataDir), cfg.Sync.GracePeriod(), logger)

	hostLabel, err := os.Hostname()
	if err != nil {
		hostLabel = "unknown-host"
	}

	rcfg := vaultsync.ReconcilerConfig{
		VaultID:         cfg.Remote.VaultID,
		SyncAgentID:     agentID,
		HostLabel:       hostLabel,
		IncrementalPoll: cfg.Sync.UseIncrementalPoll && cfg.Remote.Backend == config.BackendHTTP,
	}

	reconciler, err := vaultsync.NewReconciler(remote, vault, index, tombstones, filter, rcfg, logger)
	if err != nil {
		return nil, fmt.Errorf("building reconciler: %w", err)
	}

	return &engine{
		vault:      vault,
		remote:     remote,
		index:      index,
		tombstones: tombstones,
		reconciler: reconciler,
	}, nil
}

// loadIndexReadOnly opens the persisted SyncIndex without building a
// RemoteStore or VaultAdapter, for commands (status, conflicts) that only
// read local bookkeeping and must work even when remote.backend isn't
// configured yet.
func loadIndexReadOnly(cfg *config.Config, logger *slog.Logger) (*vaultsync.SyncIndex, error) {
	dataDir := config.DefaultDataDir()
	if dataDir == "" {
		return nil, fmt.Errorf("cannot determine data directory")
	}

	indexPath := config.SyncIndexPath(dataDir)
	state := vaultsync.LoadVaultSyncState(indexPath, cfg.Remote.VaultID)

	index := vaultsync.NewSyncIndex(cfg.Remote.VaultID, vaultsync.SaveVaultSyncState(indexPath), logger)
	index.SetState(state)

	return index, nil
}

// newRemoteStore selects and configures the vaultsync.RemoteStore backend
// named by cfg.Remote.Backend.
func newRemoteStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (vaultsync.RemoteStore, error) {
	switch cfg.Remote.Backend {
	case config.BackendHTTP:
		token := os.Getenv("VAULTSYNC_ACCESS_TOKEN")
		if token == "" {
			return nil, fmt.Errorf("VAULTSYNC_ACCESS_TOKEN must be set for the http backend")
		}

		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})

		return remotestore.NewHTTPStore(cfg.Remote.Endpoint, &http.Client{}, ts, logger), nil

	case config.BackendS3:
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.Remote.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Remote.Region))
		}

		if cfg.Remote.AccessKeyID != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.Remote.AccessKeyID, cfg.Remote.SecretAccessKey, "",
			)))
		}

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}

		client := s3.NewFromConfig(awsCfg)

		prefix := cfg.Remote.Prefix
		if prefix == "" {
			prefix = cfg.Remote.VaultID
		} else {
			prefix = prefix + "/" + cfg.Remote.VaultID
		}

		return remotestore.NewS3Store(client, cfg.Remote.Bucket, prefix, logger), nil

	default:
		return nil, fmt.Errorf("remote.backend %q is not configured (set to \"http\" or \"s3\")", cfg.Remote.Backend)
	}
}
