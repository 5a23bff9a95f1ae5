package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psds-microservice/helpdesk-service/internal/database"
	"github.com/psds-microservice/helpdesk-service/internal/service"
	"github.com/psds-microservice/helpdesk-service/internal/store"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create demo users admin/tecnico/usuario (development only)",
	RunE:  runSeed,
}

func runSeed(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.IsProduction() {
		return errors.New("seed: refusing to create demo users in production")
	}
	if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	auth := service.NewAuthService(store.NewUserStore(db), cfg.JWTSecret, cfg.JWTTTL, log)
	created, err := auth.SeedDemoUsers(cmd.Context())
	if err != nil {
		return err
	}
	log.Info("seed: ok", "created", created)
	return nil
}
