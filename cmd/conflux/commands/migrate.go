package commands

import (
	"github.com/spf13/cobra"

	"github.com/tidemark/conflux/db"
	"github.com/tidemark/conflux/logger"
)

// MigrateCmd applies pending database migrations.
var MigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		if err := db.Migrate(database, logger.Logger); err != nil {
			return err
		}
		logger.Infow("Migrations applied", "database", cfg.Database.Path)
		return nil
	},
}
