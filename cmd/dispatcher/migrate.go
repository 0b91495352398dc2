package main

import (
	"github.com/spf13/cobra"

	"github.com/omnibridge/dispatch/internal/config"
	"github.com/omnibridge/dispatch/pkg/database"
	"github.com/omnibridge/dispatch/pkg/observability"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		logger := observability.NewLogger("dispatcher")

		db, err := database.Connect(cfg.DatabaseDSN)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := database.MigrateUp(db, cfg.MigrationsDir); err != nil {
			return err
		}
		logger.Info("migrations applied", "dir", cfg.MigrationsDir)
		return nil
	},
}
