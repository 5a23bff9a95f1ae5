package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/psds-microservice/helpdesk-service/internal/database"
	"github.com/psds-microservice/helpdesk-service/internal/kafka"
	"github.com/psds-microservice/helpdesk-service/internal/model"
	"github.com/psds-microservice/helpdesk-service/internal/store"
)

var republishCmd = &cobra.Command{
	Use:   "republish-events",
	Short: "Send ticket.updated for every ticket to Kafka (rebuild downstream consumers)",
	RunE:  runRepublish,
}

func runRepublish(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicTicket, log)
	if !producer.Enabled() {
		return errors.New("republish-events: KAFKA_BROKERS is not set")
	}
	defer producer.Close()

	db, err := database.Open(cfg.DSN())
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()

	sent, failed := 0, 0
	err = store.NewTicketStore(db).EachBatch(ctx, 100, func(batch []model.Ticket) error {
		for i := range batch {
			t := &batch[i]
			if err := producer.ProduceTicketEvent(ctx, kafka.EventTicketUpdated, t.ID, kafka.TicketPayload(t)); err != nil {
				failed++
				continue
			}
			sent++
		}
		log.Info("republish-events: progress", "sent", sent, "failed", failed)
		return ctx.Err()
	})
	if err != nil {
		return fmt.Errorf("republish-events: %w", err)
	}
	log.Info("republish-events: done", "sent", sent, "failed", failed)
	return nil
}
