package main

import (
	"fmt"

	"github.com/kursadbilgin/newsletter-engine/internal/config"
	"github.com/kursadbilgin/newsletter-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/newsletter-engine/internal/infra/postgresql/migrations"
	"github.com/kursadbilgin/newsletter-engine/internal/observability"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(envFiles...)
		if err != nil {
			return err
		}

		logger, err := observability.NewLogger(cfg.LogLevel, "migrate")
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer logger.Sync() //nolint:errcheck

		db, err := postgresql.NewPostgres(cmd.Context(), cfg.DatabaseDSN, postgresql.PoolOptions{MaxOpenConns: 1, MaxIdleConns: 1})
		if err != nil {
			return err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("postgres underlying db init failed: %w", err)
		}
		defer sqlDB.Close()

		if err := migrations.Migrate(db); err != nil {
			return fmt.Errorf("database migrations failed: %w", err)
		}
		logger.Info("database migrations applied")
		return nil
	},
}
