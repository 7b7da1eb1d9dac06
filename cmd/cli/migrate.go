package cli

import (
	"context"
	"fmt"

	"tacticaldesk/internal/config"
	"tacticaldesk/internal/services"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var seedPath string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations and optionally seed automations",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().StringVar(&seedPath, "seed", "", "YAML file with automations to create after migrating")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := config.InitLogger(cfg); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger := logrus.StandardLogger()

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	logger.WithField("driver", cfg.Database.Driver).Info("Starting database migration...")
	if err := migrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("Database migration completed")

	path := seedPath
	if path == "" {
		path = cfg.Automation.SeedFile
	}
	if path == "" {
		return nil
	}
	seed, err := loadSeedFile(path)
	if err != nil {
		return err
	}
	result, err := seedAutomations(context.Background(), services.NewAutomationService(db, logger), seed, logger)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"created": len(result.Created),
		"skipped": len(result.Skipped),
	}).Info("Automation seed applied")
	return nil
}
