package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/psds-microservice/helpdesk-service/internal/kafka"
	"github.com/psds-microservice/helpdesk-service/internal/model"
)

// Recipients — чтение адресатов Telegram (store.UserStore).
type Recipients interface {
	GetByID(ctx context.Context, id uint64) (*model.User, error)
	TelegramRecipients(ctx context.Context) ([]model.User, error)
}

// Dispatcher переводит события жизненного цикла тикета в задачи очереди: Telegram и Kafka.
type Dispatcher struct {
	queue    *Queue
	telegram *Telegram
	users    Recipients
	events   kafka.TicketEventProducer
	log      *slog.Logger
}

func NewDispatcher(queue *Queue, telegram *Telegram, users Recipients, events kafka.TicketEventProducer, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:    queue,
		telegram: telegram,
		users:    users,
		events:   events,
		log:      log.With("component", "notify_dispatcher"),
	}
}

func (d *Dispatcher) TicketCreated(t *model.Ticket) {
	d.publish(kafka.EventTicketCreated, t)
	if !d.telegram.Enabled() {
		return
	}
	text := d.telegram.NewTicketText(t)
	d.queue.Enqueue("telegram.new_ticket", func(ctx context.Context) error {
		users, err := d.users.TelegramRecipients(ctx)
		if err != nil {
			return err
		}
		var errs []error
		for _, u := range users {
			if err := d.telegram.SendText(ctx, *u.TelegramID, text); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

func (d *Dispatcher) TicketUpdated(t *model.Ticket) {
	d.publish(kafka.EventTicketUpdated, t)
}

func (d *Dispatcher) TicketAssigned(t *model.Ticket, assigneeID uint64) {
	d.publish(kafka.EventTicketAssigned, t)
	if !d.telegram.Enabled() {
		return
	}
	text := d.telegram.AssignedText(t)
	d.queue.Enqueue("telegram.assigned", func(ctx context.Context) error {
		u, err := d.users.GetByID(ctx, assigneeID)
		if err != nil {
			return fmt.Errorf("load assignee %d: %w", assigneeID, err)
		}
		if u.TelegramID == nil || !u.IsActive {
			return nil
		}
		return d.telegram.SendText(ctx, *u.TelegramID, text)
	})
}

func (d *Dispatcher) TicketDeleted(id uint64) {
	if d.events == nil {
		return
	}
	d.queue.Enqueue("kafka."+kafka.EventTicketDeleted, func(ctx context.Context) error {
		return d.events.ProduceTicketEvent(ctx, kafka.EventTicketDeleted, id, nil)
	})
}

func (d *Dispatcher) publish(event string, t *model.Ticket) {
	if d.events == nil {
		return
	}
	id, payload := t.ID, kafka.TicketPayload(t)
	d.queue.Enqueue("kafka."+event, func(ctx context.Context) error {
		return d.events.ProduceTicketEvent(ctx, event, id, payload)
	})
}
