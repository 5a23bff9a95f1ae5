package cmd

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/psds-microservice/helpdesk-service/internal/database"
	"github.com/psds-microservice/helpdesk-service/internal/notify"
	"github.com/psds-microservice/helpdesk-service/internal/store"
)

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Run Telegram bot (/start, /ayuda, /mistickets)",
	RunE:  runBot,
}

func runBot(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.TelegramBotToken == "" {
		return errors.New("bot: TELEGRAM_BOT_TOKEN is not set")
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	api, err := notify.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	bot := notify.NewBot(api, notify.NewTelegram(api, cfg.FrontendURL), store.NewUserStore(db), store.NewTicketStore(db), log)
	return bot.Run(ctx)
}
