package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/artpar/fitgate/adapters/vault"
	"github.com/artpar/fitgate/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the FitGate configuration.

Checks:
  - YAML syntax is valid
  - Storage driver and tier policies are well formed
  - Master key environment variable is set and decodes to 32 bytes

Examples:
  fitgate validate
  fitgate validate --config /etc/fitgate/fitgate.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	fmt.Printf("Validating %s...\n\n", cfgFile)

	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Printf("  %s Config file not found, using environment variables\n", checkMark)
	} else {
		fmt.Printf("  %s Config file exists\n", checkMark)
	}

	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		fmt.Printf("  %s Config valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Printf("  %s Config valid\n", checkMark)

	policies, err := cfg.Policies()
	if err != nil {
		fmt.Printf("  %s Tier policies valid\n", crossMark)
		return fmt.Errorf("tier policies: %w", err)
	}
	fmt.Printf("  %s Tier policies valid (%d tiers)\n", checkMark, len(policies))

	raw := os.Getenv(cfg.Vault.MasterKeyEnv)
	switch {
	case raw == "":
		fmt.Printf("  %s Master key: %s is not set\n", crossMark, cfg.Vault.MasterKeyEnv)
		return fmt.Errorf("master key env %s is not set", cfg.Vault.MasterKeyEnv)
	default:
		decoded, err := hex.DecodeString(raw)
		if err != nil || len(decoded) != vault.KeySize {
			fmt.Printf("  %s Master key: must be %d bytes of hex\n", crossMark, vault.KeySize)
			return fmt.Errorf("master key env %s: want %d hex-encoded bytes", cfg.Vault.MasterKeyEnv, vault.KeySize)
		}
		fmt.Printf("  %s Master key present (%s)\n", checkMark, cfg.Vault.MasterKeyEnv)
	}

	if cfg.Admin.Token == "" {
		fmt.Printf("  %s Admin token not set, key management API will be disabled\n", checkMark)
	}

	fmt.Println()
	fmt.Println("Configuration summary:")
	fmt.Printf("  Listen:  %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  Storage: %s (%s)\n", cfg.Storage.Driver, cfg.Storage.DSN)
	fmt.Printf("  Metrics: %v\n", cfg.Metrics.Enabled)
	return nil
}
