package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bracken-sec/conmon/internal/config"
	"github.com/bracken-sec/conmon/internal/pkg/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if err := postgres.Migrate(cfg.Database.URL); err != nil {
			return err
		}

		cmd.Println("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
