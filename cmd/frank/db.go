package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xfrllc/frank/internal/config"
	"github.com/xfrllc/frank/internal/store"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update all database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			db, err := store.Connect(cfg.DB.Driver, cfg.DB.DSN)
			if err != nil {
				return err
			}
			if err := store.AutoMigrate(db); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Migrated %d tables\n", len(store.AllModels()))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "frank.yaml", "path to config file")
	return cmd
}
