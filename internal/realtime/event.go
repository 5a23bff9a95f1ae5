package realtime

import "encoding/json"

// Серверные события.
const (
	EventTicketCreated      = "ticket:created"
	EventTicketUpdated      = "ticket:updated"
	EventTicketDeleted      = "ticket:deleted"
	EventTicketAssigned     = "ticket:assigned"
	EventChatNewMessage     = "chat:new_message"
	EventChatMessageUpdated = "chat:message_updated"
	EventChatMessageDeleted = "chat:message_deleted"
	EventChatNotification   = "chat:notification"
	EventUserTyping         = "user_typing"
	EventAuthenticated      = "authenticated"
	EventJoined             = "joined_ticket"
	EventLeft               = "left_ticket"
	EventError              = "error"
)

// Клиентские события.
const (
	ClientAuthenticate = "authenticate"
	ClientJoinTicket   = "join_ticket"
	ClientLeaveTicket  = "leave_ticket"
	ClientTyping       = "typing"
)

// envelope — кадр протокола в обе стороны: {"event": "...", "data": {...}}.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outgoing struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// encode сериализует событие один раз для всех получателей.
func encode(event string, data interface{}) ([]byte, error) {
	return json.Marshal(outgoing{Event: event, Data: data})
}

type authenticatePayload struct {
	Token string `json:"token"`
}

type ticketPayload struct {
	TicketID uint64 `json:"ticket_id"`
}

type typingPayload struct {
	TicketID uint64 `json:"ticket_id"`
	IsTyping *bool  `json:"is_typing"`
}

// TypingEvent — то, что получают остальные участники комнаты.
type TypingEvent struct {
	UserID   uint64 `json:"user_id"`
	TicketID uint64 `json:"ticket_id"`
	IsTyping bool   `json:"is_typing"`
}

// ErrorEvent — ответ клиенту на ошибочное событие; соединение не закрывается.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}
