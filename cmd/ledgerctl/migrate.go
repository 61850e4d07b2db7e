package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"excisepos/backend/internal/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(m *migrations.Migrator) error {
			if err := m.Up(); err != nil {
				return err
			}
			version, dirty, err := m.Version()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", version, dirty)
			return nil
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back every migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(m *migrations.Migrator) error {
			return m.Down()
		})
	},
}

func withMigrator(fn func(m *migrations.Migrator) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	if cfg.DatabaseURL == "" {
		return errors.New("database.url is not set")
	}

	m, err := migrations.Open(cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)
	rootCmd.AddCommand(migrateCmd)
}
