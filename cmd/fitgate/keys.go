package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artpar/fitgate/adapters/clock"
	"github.com/artpar/fitgate/adapters/idgen"
	"github.com/artpar/fitgate/adapters/postgres"
	"github.com/artpar/fitgate/adapters/random"
	"github.com/artpar/fitgate/adapters/sqlite"
	"github.com/artpar/fitgate/adapters/vault"
	"github.com/artpar/fitgate/app"
	"github.com/artpar/fitgate/config"
	"github.com/artpar/fitgate/domain/key"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys",
	Long: `Manage FitGate API keys.

Each tenant can have multiple API keys. The raw key is printed exactly
once at creation; only its encrypted form is stored.

Examples:
  fitgate keys list
  fitgate keys list --owner=tenant_123
  fitgate keys create --owner=tenant_123 --tier=starter
  fitgate keys revoke key_abc123
  fitgate keys rotate key_abc123`,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys",
	RunE:  runKeysList,
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new API key",
	RunE:  runKeysCreate,
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRevoke,
}

var keysRotateCmd = &cobra.Command{
	Use:   "rotate <key-id>",
	Short: "Rotate an API key (issue replacement, revoke the old one)",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRotate,
}

var (
	keyOwnerID       string
	keyTier          string
	keyLabel         string
	keyTTL           time.Duration
	keyLimitOverride int64
	keyYes           bool
)

func init() {
	rootCmd.AddCommand(keysCmd)

	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysCreateCmd)
	keysCmd.AddCommand(keysRevokeCmd)
	keysCmd.AddCommand(keysRotateCmd)

	keysListCmd.Flags().StringVar(&keyOwnerID, "owner", "", "filter by owner (tenant) ID")
	keysCreateCmd.Flags().StringVar(&keyOwnerID, "owner", "", "owner (tenant) ID (required)")
	keysCreateCmd.Flags().StringVar(&keyTier, "tier", "trial", "tier: trial, starter, professional, enterprise")
	keysCreateCmd.Flags().StringVar(&keyLabel, "label", "", "key label (optional)")
	keysCreateCmd.Flags().DurationVar(&keyTTL, "ttl", 0, "expiry, e.g. 720h (0 = never)")
	keysCreateCmd.Flags().Int64Var(&keyLimitOverride, "limit-override", 0, "per-key requests-per-window override (0 = tier policy)")
	keysCreateCmd.MarkFlagRequired("owner")
	keysRevokeCmd.Flags().BoolVar(&keyYes, "yes", false, "skip confirmation")
}

// openKeyService wires the key service against the configured storage
// engine for one-shot CLI operations.
func openKeyService() (*app.KeyService, func(), error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	cipher, err := vault.FromEnv(cfg.Vault.MasterKeyEnv)
	if err != nil {
		return nil, nil, fmt.Errorf("init vault: %w", err)
	}

	deps := app.KeyDeps{
		Cipher: cipher,
		Random: random.Real{},
		IDGen:  idgen.UUID{},
		Clock:  clock.Real{},
		Logger: zerolog.Nop(),
	}

	var cleanup func()
	switch cfg.Storage.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.Storage.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		deps.Keys = sqlite.NewKeyStore(db)
		cleanup = func() { db.Close() }

	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Storage.ConnectTimeout)
		defer cancel()
		db, err := postgres.Open(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		deps.Keys = postgres.NewKeyStore(db)
		cleanup = db.Close

	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	return app.NewKeyService(deps), cleanup, nil
}

func runKeysList(cmd *cobra.Command, args []string) error {
	svc, cleanup, err := openKeyService()
	if err != nil {
		return err
	}
	defer cleanup()

	var keys []key.Key
	if keyOwnerID != "" {
		keys, err = svc.ListByOwner(context.Background(), keyOwnerID)
	} else {
		keys, err = svc.List(context.Background())
	}
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}

	if len(keys) == 0 {
		if keyOwnerID != "" {
			fmt.Printf("No keys found for owner %s.\n", keyOwnerID)
		} else {
			fmt.Println("No API keys found.")
		}
		fmt.Println()
		fmt.Println("Create a key with: fitgate keys create --owner=<tenant-id>")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPREFIX\tOWNER\tTIER\tSTATUS\tCREATED\tLAST USED")
	fmt.Fprintln(w, "--\t------\t-----\t----\t------\t-------\t---------")
	for _, k := range keys {
		lastUsed := "never"
		if k.LastUsedAt != nil {
			lastUsed = k.LastUsedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			k.ID, k.Prefix, k.OwnerID, k.Tier, k.Status,
			k.CreatedAt.Format("2006-01-02"), lastUsed)
	}
	return w.Flush()
}

func runKeysCreate(cmd *cobra.Command, args []string) error {
	svc, cleanup, err := openKeyService()
	if err != nil {
		return err
	}
	defer cleanup()

	rawKey, k, err := svc.Issue(context.Background(), app.IssueParams{
		OwnerID:       keyOwnerID,
		Tier:          key.Tier(keyTier),
		Label:         keyLabel,
		TTL:           keyTTL,
		LimitOverride: keyLimitOverride,
	})
	if err != nil {
		return fmt.Errorf("failed to create key: %w", err)
	}

	fmt.Printf("%s Created key: %s\n\n", checkMark, k.ID)
	fmt.Printf("  API key: %s\n\n", rawKey)
	fmt.Println("  Store this key now. It is shown only once and cannot be recovered.")
	if k.ExpiresAt != nil {
		fmt.Printf("  Expires: %s\n", k.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

func runKeysRevoke(cmd *cobra.Command, args []string) error {
	keyID := args[0]

	if !keyYes && !confirm(fmt.Sprintf("Revoke key %s? This cannot be undone", keyID)) {
		fmt.Println("Aborted.")
		return nil
	}

	svc, cleanup, err := openKeyService()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := svc.Revoke(context.Background(), keyID); err != nil {
		return fmt.Errorf("failed to revoke key: %w", err)
	}

	fmt.Printf("%s Revoked key: %s\n", checkMark, keyID)
	return nil
}

func runKeysRotate(cmd *cobra.Command, args []string) error {
	svc, cleanup, err := openKeyService()
	if err != nil {
		return err
	}
	defer cleanup()

	rawKey, k, err := svc.Rotate(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to rotate key: %w", err)
	}

	fmt.Printf("%s Rotated key %s -> %s\n\n", checkMark, args[0], k.ID)
	fmt.Printf("  New API key: %s\n\n", rawKey)
	fmt.Println("  Store this key now. It is shown only once and cannot be recovered.")
	return nil
}
