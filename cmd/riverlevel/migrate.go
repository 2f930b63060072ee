package main

import (
	"errors"

	"github.com/couchcryptid/river-level-sync/internal/adapter/postgres"
	"github.com/spf13/cobra"
)

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required for migrate")
			}
			store, err := postgres.Open(cmd.Context(), c.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}
			c.logger.Info("schema applied")
			return nil
		},
	}
}
