package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/psds-microservice/helpdesk-service/internal/errs"
	"github.com/psds-microservice/helpdesk-service/internal/model"
	"github.com/psds-microservice/helpdesk-service/internal/policy"
	"github.com/psds-microservice/helpdesk-service/internal/realtime"
	"github.com/psds-microservice/helpdesk-service/internal/store"
)

const maxMessageLength = 2000

type PostMessageInput struct {
	TicketID   uint64 `json:"ticket_id"`
	Message    string `json:"message"`
	IsInternal bool   `json:"is_internal"`
}

// ChatNotification — данные события chat:notification.
type ChatNotification struct {
	TicketID  uint64 `json:"ticket_id"`
	MessageID uint64 `json:"message_id"`
	Message   string `json:"message"`
	From      string `json:"from"`
}

// MessageUpdated — данные события chat:message_updated.
type MessageUpdated struct {
	ID        uint64    `json:"id"`
	TicketID  uint64    `json:"ticket_id"`
	Message   string    `json:"message"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessageDeleted — данные события chat:message_deleted.
type MessageDeleted struct {
	ID       uint64 `json:"id"`
	TicketID uint64 `json:"ticket_id"`
}

type ChatService struct {
	tickets *store.TicketStore
	chats   *store.ChatStore
	users   *store.UserStore
	hub     Broadcaster
	log     *slog.Logger
}

func NewChatService(tickets *store.TicketStore, chats *store.ChatStore, users *store.UserStore, hub Broadcaster, log *slog.Logger) *ChatService {
	return &ChatService{
		tickets: tickets,
		chats:   chats,
		users:   users,
		hub:     hub,
		log:     log.With("component", "chat_service"),
	}
}

// List — сообщения тикета по возрастанию времени; внутренние видны только technician/admin.
func (s *ChatService) List(ctx context.Context, actor *model.User, ticketID uint64) ([]model.ChatMessage, error) {
	t, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	a := policy.ActorOf(actor)
	if !policy.CanViewTicket(a, t) {
		return nil, errs.ErrForbidden
	}
	msgs, err := s.chats.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	return visibleMessages(a, t, msgs), nil
}

func (s *ChatService) Post(ctx context.Context, actor *model.User, in PostMessageInput) (*model.ChatMessage, error) {
	if err := requireActive(actor); err != nil {
		return nil, err
	}
	if err := validateBody(in.Message); err != nil {
		return nil, err
	}
	t, err := s.tickets.GetByID(ctx, in.TicketID)
	if err != nil {
		return nil, err
	}
	allowed, internal := policy.CanPostMessage(policy.ActorOf(actor), t, in.IsInternal)
	if !allowed {
		return nil, errs.ErrForbidden
	}
	msg, err := s.chats.Create(ctx, &model.ChatMessage{
		TicketID:   t.ID,
		AuthorID:   actor.ID,
		Body:       in.Message,
		IsInternal: internal,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("message posted", "ticket_id", t.ID, "message_id", msg.ID, "author_id", actor.ID, "internal", internal)

	s.hub.BroadcastTicket(t.ID, realtime.EventChatNewMessage, msg, internal)
	s.notifyCounterpart(ctx, actor, t, msg)
	return msg, nil
}

// notifyCounterpart шлёт chat:notification второй стороне диалога:
// автор-requester уведомляет исполнителя, остальные уведомляют requester-а.
func (s *ChatService) notifyCounterpart(ctx context.Context, actor *model.User, t *model.Ticket, msg *model.ChatMessage) {
	var target *uint64
	if actor.ID == t.RequesterID {
		target = t.AssigneeID
	} else {
		target = &t.RequesterID
	}
	if target == nil || *target == actor.ID {
		return
	}
	if msg.IsInternal {
		u, err := s.users.GetByID(ctx, *target)
		if err != nil {
			s.log.Warn("counterpart lookup failed", "user_id", *target, "error", err)
			return
		}
		if !u.Role.IsStaff() {
			return
		}
	}
	s.hub.SendToUser(*target, realtime.EventChatNotification, ChatNotification{
		TicketID:  t.ID,
		MessageID: msg.ID,
		Message:   fmt.Sprintf("Nuevo mensaje en ticket #%d", t.ID),
		From:      actor.Username,
	})
}

func (s *ChatService) Edit(ctx context.Context, actor *model.User, messageID uint64, body string) (*model.ChatMessage, error) {
	if err := requireActive(actor); err != nil {
		return nil, err
	}
	if err := validateBody(body); err != nil {
		return nil, err
	}
	msg, t, err := s.authorizeMessage(ctx, actor, messageID)
	if err != nil {
		return nil, err
	}
	updated, err := s.chats.UpdateBody(ctx, msg.ID, body)
	if err != nil {
		return nil, err
	}
	s.hub.BroadcastTicket(t.ID, realtime.EventChatMessageUpdated, MessageUpdated{
		ID:        updated.ID,
		TicketID:  updated.TicketID,
		Message:   updated.Body,
		UpdatedAt: updated.UpdatedAt,
	}, updated.IsInternal)
	return updated, nil
}

func (s *ChatService) Delete(ctx context.Context, actor *model.User, messageID uint64) error {
	if err := requireActive(actor); err != nil {
		return err
	}
	msg, t, err := s.authorizeMessage(ctx, actor, messageID)
	if err != nil {
		return err
	}
	if err := s.chats.Delete(ctx, msg.ID); err != nil {
		return err
	}
	s.log.Info("message deleted", "ticket_id", t.ID, "message_id", msg.ID, "actor_id", actor.ID)
	s.hub.BroadcastTicket(t.ID, realtime.EventChatMessageDeleted, MessageDeleted{ID: msg.ID, TicketID: t.ID}, msg.IsInternal)
	return nil
}

func (s *ChatService) authorizeMessage(ctx context.Context, actor *model.User, messageID uint64) (*model.ChatMessage, *model.Ticket, error) {
	msg, err := s.chats.GetByID(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}
	t, err := s.tickets.GetByID(ctx, msg.TicketID)
	if err != nil {
		return nil, nil, err
	}
	if !policy.CanEditOrDeleteMessage(policy.ActorOf(actor), msg, t) {
		return nil, nil, errs.ErrForbidden
	}
	return msg, t, nil
}

func validateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return errs.Validation("message is required")
	}
	if utf8.RuneCountInString(body) > maxMessageLength {
		return errs.Validation("message must be at most %d characters", maxMessageLength)
	}
	return nil
}
