package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"procurement.io/orchestrator/internal/config"
	"procurement.io/orchestrator/internal/infrastructure"
	"procurement.io/orchestrator/internal/pkg/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and River queue tables",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()

		if cfg.Database.Driver != config.DriverPostgres {
			return fmt.Errorf("migrate needs the postgres driver, got %q", cfg.Database.Driver)
		}

		db, err := infrastructure.NewDatabaseClients(cmd.Context(), cfg.Database)
		if err != nil {
			return fmt.Errorf("init database: %w", err)
		}
		defer db.Close()

		if err := db.Migrate(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
