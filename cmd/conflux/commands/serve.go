package commands

import (
	"github.com/spf13/cobra"

	"github.com/tidemark/conflux/db"
	"github.com/tidemark/conflux/logger"
	"github.com/tidemark/conflux/server"
)

// ServeCmd starts the read-only query API.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only query API",
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

		return server.New(database, logger.Logger).Run(cfg.Server.Port)
	},
}
