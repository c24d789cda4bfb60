package admin

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cloo-solutions/kbcore/internal/config"
	"github.com/cloo-solutions/kbcore/internal/database"
	"github.com/cloo-solutions/kbcore/internal/logger"
)

// MigrateCmd returns the migrate command
func MigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long:  "Apply all pending migrations to the database named by KBCORE_DATABASE_URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *migrate.Migrate, log *zap.Logger) error {
				return database.MigrateUp(m, log)
			})
		},
	}
	cmd.PersistentFlags().String("source", database.DefaultMigrationsSource, "Migrations source URL")

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *migrate.Migrate, log *zap.Logger) error {
				if err := m.Steps(-1); err != nil {
					return fmt.Errorf("failed to roll back migration: %w", err)
				}
				log.Info("rolled back one migration")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *migrate.Migrate, log *zap.Logger) error {
				version, dirty, err := m.Version()
				if errors.Is(err, migrate.ErrNilVersion) {
					fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
					return nil
				}
				if err != nil {
					return fmt.Errorf("failed to get migration version: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(*migrate.Migrate, *zap.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.UsesPostgres() {
		return fmt.Errorf("migrations require KBCORE_STORE=%s", config.StorePostgres)
	}
	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Development: cfg.Debug})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	source, _ := cmd.Flags().GetString("source")
	m, closeFn, err := database.NewMigrator(cfg.DatabaseURL, source)
	if err != nil {
		return err
	}
	defer closeFn()

	return fn(m, log)
}
