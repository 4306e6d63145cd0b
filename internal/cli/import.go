package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bracken-sec/conmon/internal/catalog"
	"github.com/bracken-sec/conmon/internal/config"
	"github.com/bracken-sec/conmon/internal/indicators"
	indicatorspostgres "github.com/bracken-sec/conmon/internal/indicators/postgres"
	"github.com/bracken-sec/conmon/internal/pkg/postgres"
)

var importServiceID string

var importCmd = &cobra.Command{
	Use:   "import <catalogue.yaml>",
	Short: "Seed the indicator ledger for a service from a catalogue file",
	Long:  "Reads an indicator catalogue and creates a ledger record for every entry the service does not track yet. Existing records are left untouched, so re-running an import is safe.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		catalogue, err := catalog.Load(args[0])
		if err != nil {
			return err
		}

		db, err := postgres.Connect(cmd.Context(), postgres.Config{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnectAttempts: cfg.Database.ConnectAttempts,
		})
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()

		ledger := indicators.NewService(indicatorspostgres.NewRepository(db), nil, nil)
		importer := catalog.NewImporter(ledger)

		result, err := importer.Import(cmd.Context(), importServiceID, catalogue)
		if err != nil {
			return err
		}

		cmd.Printf("imported catalogue %s: %d created, %d skipped\n",
			catalogue.Version, result.Created, result.Skipped)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importServiceID, "service-id", "", "service the indicators belong to")
	_ = importCmd.MarkFlagRequired("service-id")
	rootCmd.AddCommand(importCmd)
}
