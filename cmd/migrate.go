package main

import (
	"errors"

	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/config"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/database"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/logger"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending PostgreSQL schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cfg.StoreDriver != config.StorePostgres {
				return errors.New("migrate requires STORE_DRIVER=postgres")
			}

			log, err := logger.New(serviceName, cfg.Environment, cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			pool, err := database.NewPool(cmd.Context(), cfg.Database, log)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := database.Migrate(pool); err != nil {
				return err
			}
			log.Info("migrations applied")
			return nil
		},
	}
}
