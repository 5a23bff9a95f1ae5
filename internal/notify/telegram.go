package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/psds-microservice/helpdesk-service/internal/model"
)

// messageSender — часть *tgbotapi.BotAPI, нужная для отправки (подменяется в тестах).
type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram отправляет HTML-сообщения в чаты пользователей. Без токена — no-op.
type Telegram struct {
	api         messageSender
	frontendURL string
}

// NewBotAPI создаёт клиент Bot API с таймаутом HTTP, равным лимиту задачи очереди.
func NewBotAPI(token string) (*tgbotapi.BotAPI, error) {
	return tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: JobTimeout})
}

// NewTelegram: api == nil означает, что уведомления выключены.
func NewTelegram(api *tgbotapi.BotAPI, frontendURL string) *Telegram {
	t := &Telegram{frontendURL: strings.TrimRight(frontendURL, "/")}
	if api != nil {
		t.api = api
	}
	return t
}

func (t *Telegram) Enabled() bool { return t != nil && t.api != nil }

func (t *Telegram) SendText(ctx context.Context, chatID int64, text string) error {
	if !t.Enabled() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("telegram send to %d: %w", chatID, err)
	}
	return nil
}

func (t *Telegram) ticketLink(id uint64) string {
	return fmt.Sprintf(`<a href="%s/tickets/%d">Ver en el sistema</a>`, t.frontendURL, id)
}

// NewTicketText — сообщение о новом тикете для technician/admin.
func (t *Telegram) NewTicketText(tk *model.Ticket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎫 <b>Nuevo Ticket #%d</b>\n", tk.ID)
	fmt.Fprintf(&b, "<b>Solicitante:</b> %s\n", esc(tk.Name))
	fmt.Fprintf(&b, "<b>Departamento:</b> %s\n", esc(string(tk.Department)))
	fmt.Fprintf(&b, "<b>Piso/Oficina:</b> Piso %d, %s\n", tk.Floor, esc(tk.Office))
	fmt.Fprintf(&b, "<b>Prioridad:</b> %s\n", esc(string(tk.Priority)))
	fmt.Fprintf(&b, "<b>Estado:</b> %s\n\n", esc(string(tk.Status)))
	fmt.Fprintf(&b, "<b>Descripción:</b>\n%s\n\n", esc(tk.Description))
	b.WriteString(t.ticketLink(tk.ID))
	return b.String()
}

// AssignedText — сообщение исполнителю о назначении.
func (t *Telegram) AssignedText(tk *model.Ticket) string {
	return fmt.Sprintf("📌 Se te ha asignado el ticket <b>#%d</b> (%s, %s)\n%s",
		tk.ID, esc(string(tk.Priority)), esc(string(tk.Status)), t.ticketLink(tk.ID))
}

// AssignedListText — ответ на /mistickets.
func (t *Telegram) AssignedListText(tickets []model.Ticket) string {
	if len(tickets) == 0 {
		return "No tienes tickets asignados."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📋 <b>Tus tickets asignados (%d)</b>\n\n", len(tickets))
	for _, tk := range tickets {
		fmt.Fprintf(&b, "<b>#%d</b> - %s - %s\n", tk.ID, esc(string(tk.Status)), esc(string(tk.Priority)))
		fmt.Fprintf(&b, "📌 %s\n", esc(truncate(tk.Description, 50)))
		fmt.Fprintf(&b, "🔗 %s\n\n", t.ticketLink(tk.ID))
	}
	return strings.TrimRight(b.String(), "\n")
}

func esc(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeHTML, s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
