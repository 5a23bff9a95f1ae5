package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/psds-microservice/helpdesk-service/internal/application"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Run HTTP API and WebSocket server",
	RunE:  runAPI,
}

func runAPI(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := application.NewAPI(cfg, log)
	if err != nil {
		return err
	}
	return app.Run(ctx)
}
