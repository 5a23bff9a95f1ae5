package notify

import (
	"context"
	"errors"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/psds-microservice/helpdesk-service/internal/errs"
	"github.com/psds-microservice/helpdesk-service/internal/model"
)

const assignedListLimit = 10

const (
	textStart = "👋 ¡Hola! Soy el bot de notificaciones del sistema de tickets.\n" +
		"Puedes usar los siguientes comandos:\n" +
		"/mistickets - Ver tus tickets asignados\n" +
		"/ayuda - Mostrar esta ayuda"
	textHelp = "📋 <b>Comandos disponibles:</b>\n" +
		"/start - Iniciar el bot\n" +
		"/mistickets - Ver tus tickets asignados\n" +
		"/ayuda - Mostrar ayuda"
	textNotLinked = "🔒 No estás registrado en el sistema. Por favor, inicia sesión en la web para vincular tu cuenta de Telegram."
	textUnknown   = "No entiendo ese comando. Usa /ayuda para ver los comandos disponibles."
	textFailure   = "❌ Ocurrió un error al obtener tus tickets."
)

// BotUsers — поиск пользователя по chat id (store.UserStore).
type BotUsers interface {
	GetByTelegramID(ctx context.Context, telegramID int64) (*model.User, error)
}

// AssignedTickets — последние назначенные тикеты (store.TicketStore).
type AssignedTickets interface {
	ListAssignedTo(ctx context.Context, userID uint64, limit int) ([]model.Ticket, error)
}

// Bot отвечает на команды /start, /ayuda (/help), /mistickets через long polling.
type Bot struct {
	api      *tgbotapi.BotAPI
	telegram *Telegram
	users    BotUsers
	tickets  AssignedTickets
	log      *slog.Logger
}

func NewBot(api *tgbotapi.BotAPI, telegram *Telegram, users BotUsers, tickets AssignedTickets, log *slog.Logger) *Bot {
	return &Bot{
		api:      api,
		telegram: telegram,
		users:    users,
		tickets:  tickets,
		log:      log.With("component", "telegram_bot"),
	}
}

// Run обрабатывает обновления до отмены ctx.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started", "username", b.api.Self.UserName)
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.log.Info("telegram bot stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || update.Message.From == nil {
				continue
			}
			text := b.Reply(ctx, update.Message.From.ID, update.Message.Command())
			if err := b.telegram.SendText(ctx, update.Message.Chat.ID, text); err != nil {
				b.log.Warn("telegram reply failed", "chat_id", update.Message.Chat.ID, "error", err)
			}
		}
	}
}

// Reply — текст ответа на команду (без ведущего "/"); пустая команда — обычный текст.
func (b *Bot) Reply(ctx context.Context, telegramUserID int64, command string) string {
	switch command {
	case "start":
		return textStart
	case "ayuda", "help":
		return textHelp
	case "mistickets":
		return b.assigned(ctx, telegramUserID)
	default:
		return textUnknown
	}
}

func (b *Bot) assigned(ctx context.Context, telegramUserID int64) string {
	u, err := b.users.GetByTelegramID(ctx, telegramUserID)
	if err != nil {
		if errors.Is(err, errs.ErrUserNotFound) {
			return textNotLinked
		}
		b.log.Error("lookup telegram user", "telegram_id", telegramUserID, "error", err)
		return textFailure
	}
	if !u.IsActive {
		return textNotLinked
	}
	items, err := b.tickets.ListAssignedTo(ctx, u.ID, assignedListLimit)
	if err != nil {
		b.log.Error("list assigned tickets", "user_id", u.ID, "error", err)
		return textFailure
	}
	return b.telegram.AssignedListText(items)
}
