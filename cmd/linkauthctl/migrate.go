package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func newMigrateCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Prepare the storage schema",
		Long:  "Creates the directories, tables or indexes the configured storage backend needs. Safe to run repeatedly.",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openBackend(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer b.close()
			if err := b.migrate(cmd.Context()); err != nil {
				return fmt.Errorf("failed to migrate storage: %w", err)
			}
			slog.Info("Storage ready", "backend", c.cfg.Storage.Backend)
			return nil
		},
	}
}
