// Command ledgerctl runs ledger maintenance for the excise POS backend:
// schema migrations, month provisioning and rollover, stock lookups and
// purchase posting, and operator tokens.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"excisepos/backend/internal/app"
	"excisepos/backend/internal/config"
	"excisepos/backend/internal/domain"
	"excisepos/backend/internal/logger"
	"excisepos/backend/internal/service"
)

var (
	companyFlag string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "Maintain the excise stock ledger",
	Long: `ledgerctl talks to the same store as the server, configured through
config.toml or EXCISEPOS_* environment variables.

Example Usage:
  ledgerctl migrate up
  ledgerctl rollover --company main-store
  ledgerctl purchase WHS-750 24 --date 2026-10-05
  ledgerctl token --subject till-1 --role cashier`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&companyFlag, "company", "", "Company id (defaults to company.default_id)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// loadConfig reads configuration and builds the command logger.
func loadConfig() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, log, nil
}

// withApp builds the service for one command and acts as the operator of
// the selected company.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx := cmd.Context()
	application, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			log.Warn("close error", zap.Error(err))
		}
	}()

	company := companyFlag
	if company == "" {
		company = cfg.CompanyID
	}
	ctx = service.WithActor(ctx, domain.Actor{Username: "ledgerctl", Role: domain.RoleAdmin, CompanyID: company})
	return fn(ctx, application)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
