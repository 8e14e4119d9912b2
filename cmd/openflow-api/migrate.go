package main

import (
	"openflow/internal/db"

	"github.com/spf13/cobra"
)

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup(false)
	if log != nil {
		defer log.Sync()
	}
	if err != nil {
		return err
	}
	return db.Migrate(cfg.DatabaseURL, log)
}
