package commands

import (
	"holodomination/internal/db"
	"holodomination/internal/logger"

	"github.com/spf13/cobra"
)

// migrateCmd 执行自动迁移后退出
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		if err := db.Init(cfg.Database); err != nil {
			return err
		}
		if err := db.Migrate(db.DB); err != nil {
			return err
		}
		logger.Log.Info("database migrated")
		return nil
	},
}
