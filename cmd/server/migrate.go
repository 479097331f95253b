package main

import (
	"errors"

	"github.com/jason-s-yu/tumaurmai/internal/config"
	"github.com/jason-s-yu/tumaurmai/internal/database"
	"github.com/jason-s-yu/tumaurmai/internal/logging"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the rooms and session_events tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flags)
		if err != nil {
			return err
		}
		logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return err
		}

		connStr := database.ConnString(cfg.DatabaseURL)
		if connStr == "" {
			return errors.New("migrate needs DATABASE_URL or PG_HOST")
		}
		ctx := cmd.Context()
		if err := database.ConnectDB(ctx, connStr); err != nil {
			return err
		}
		defer database.Close()

		if err := database.Migrate(ctx); err != nil {
			return err
		}
		logger.Info("Migrations applied")
		return nil
	},
}
