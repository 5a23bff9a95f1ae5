package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/psds-microservice/helpdesk-service/internal/model"
)

// События жизненного цикла тикета в топике.
const (
	EventTicketCreated  = "ticket.created"
	EventTicketUpdated  = "ticket.updated"
	EventTicketAssigned = "ticket.assigned"
	EventTicketDeleted  = "ticket.deleted"
)

// TicketEventProducer — интерфейс для отправки событий тикета в Kafka (для подмены моком в тестах).
type TicketEventProducer interface {
	ProduceTicketEvent(ctx context.Context, event string, ticketID uint64, payload map[string]interface{}) error
}

// Producer пишет события тикетов в топик Kafka. Ключ сообщения — id тикета, чтобы события одного тикета шли в одну партицию.
type Producer struct {
	writer *kafka.Writer
	topic  string
	log    *slog.Logger
}

// NewProducer создаёт продюсер. Если brokers пустой или topic пустой — методы no-op.
func NewProducer(brokers []string, topic string, log *slog.Logger) *Producer {
	p := &Producer{log: log.With("component", "kafka_producer")}
	if len(brokers) == 0 || topic == "" {
		return p
	}
	p.topic = topic
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return p
}

func (p *Producer) Enabled() bool { return p.writer != nil }

// ProduceTicketEvent отправляет {"event", "ticket_id", "occurred_at", ...payload} в топик.
func (p *Producer) ProduceTicketEvent(ctx context.Context, event string, ticketID uint64, payload map[string]interface{}) error {
	if p.writer == nil {
		return nil
	}
	body, err := json.Marshal(Envelope(event, ticketID, payload))
	if err != nil {
		return fmt.Errorf("kafka: marshal ticket event: %w", err)
	}
	msg := kafka.Message{Key: []byte(strconv.FormatUint(ticketID, 10)), Value: body}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write ticket event: %w", err)
	}
	p.log.Debug("ticket event produced", "event", event, "ticket_id", ticketID, "topic", p.topic)
	return nil
}

// Envelope собирает тело сообщения; ключи payload не перекрывают служебные поля.
func Envelope(event string, ticketID uint64, payload map[string]interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(payload)+3)
	for k, v := range payload {
		msg[k] = v
	}
	msg["event"] = event
	msg["ticket_id"] = ticketID
	msg["occurred_at"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

// TicketPayload — поля тикета для потребителей топика (без internal_notes).
func TicketPayload(t *model.Ticket) map[string]interface{} {
	return map[string]interface{}{
		"status":       t.Status,
		"priority":     t.Priority,
		"department":   t.Department,
		"requester_id": t.RequesterID,
		"assignee_id":  t.AssigneeID,
		"closed_at":    t.ClosedAt,
	}
}

// Close закрывает writer.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
