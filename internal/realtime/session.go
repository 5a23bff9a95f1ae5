package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/psds-microservice/helpdesk-service/internal/errs"
	"github.com/psds-microservice/helpdesk-service/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
)

// Authenticator разрешает токен сессии в активного пользователя.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

// JoinAuthorizer проверяет право видеть тикет при join_ticket.
type JoinAuthorizer interface {
	CanJoin(ctx context.Context, actor *model.User, ticketID uint64) error
}

// Server — HTTP-обработчик /ws: апгрейд и по одному Session на соединение.
type Server struct {
	hub      *Hub
	auth     Authenticator
	joins    JoinAuthorizer
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewServer(hub *Hub, auth Authenticator, joins JoinAuthorizer, allowedOrigins []string, log *slog.Logger) *Server {
	s := &Server{
		hub:   hub,
		auth:  auth,
		joins: joins,
		log:   log.With("component", "realtime_session"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return s
}

// originChecker — пустой список или "*" разрешают любой Origin.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		if len(set) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	sess := &Session{
		hub:    s.hub,
		auth:   s.auth,
		joins:  s.joins,
		conn:   conn,
		client: NewClient(),
		log:    s.log,
	}
	sess.run(r.Context())
}

// Session — одно WebSocket-соединение: Unauthenticated -> Authenticated -> Closed.
// Читает только run (горутина запроса), пишет только writePump.
type Session struct {
	hub    *Hub
	auth   Authenticator
	joins  JoinAuthorizer
	conn   *websocket.Conn
	client *Client
	user   *model.User
	log    *slog.Logger
}

func (s *Session) run(ctx context.Context) {
	s.hub.Register(s.client)
	s.log.Debug("client connected", "conn_id", s.client.id)
	go s.writePump()
	defer func() {
		s.hub.Unregister(s.client)
		_ = s.conn.Close()
		s.log.Debug("client disconnected", "conn_id", s.client.id)
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("websocket read failed", "conn_id", s.client.id, "error", err)
			}
			return
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			s.replyError("invalid_event", "malformed event frame", "")
			continue
		}
		s.dispatch(ctx, env)
	}
}

func (s *Session) dispatch(ctx context.Context, env envelope) {
	if env.Event == ClientAuthenticate {
		s.authenticate(ctx, env)
		return
	}
	if s.user == nil {
		s.replyError(string(errs.KindUnauthenticated), "authenticate first", env.Event)
		return
	}
	switch env.Event {
	case ClientJoinTicket:
		var p ticketPayload
		if !s.decode(env, &p) {
			return
		}
		if err := s.joins.CanJoin(ctx, s.user, p.TicketID); err != nil {
			s.replyError(string(errs.KindOf(err)), errs.PublicMessage(err), env.Event)
			return
		}
		s.hub.Join(s.client, p.TicketID)
		s.hub.Reply(s.client, EventJoined, ticketPayload{TicketID: p.TicketID})
	case ClientLeaveTicket:
		var p ticketPayload
		if !s.decode(env, &p) {
			return
		}
		s.hub.Leave(s.client, p.TicketID)
		s.hub.Reply(s.client, EventLeft, ticketPayload{TicketID: p.TicketID})
	case ClientTyping:
		var p typingPayload
		if !s.decode(env, &p) {
			return
		}
		typing := p.IsTyping == nil || *p.IsTyping
		s.hub.Relay(s.client, p.TicketID, EventUserTyping, TypingEvent{
			UserID:   s.user.ID,
			TicketID: p.TicketID,
			IsTyping: typing,
		})
	default:
		s.replyError("invalid_event", "unknown event", env.Event)
	}
}

// authenticate: при ошибке сессия остаётся неаутентифицированной, соединение не закрывается.
func (s *Session) authenticate(ctx context.Context, env envelope) {
	var p authenticatePayload
	if !s.decode(env, &p) {
		return
	}
	u, err := s.auth.Authenticate(ctx, p.Token)
	if err != nil {
		s.replyError(string(errs.KindOf(err)), errs.PublicMessage(err), env.Event)
		return
	}
	s.user = u
	s.hub.Authenticate(s.client, u)
	s.hub.Reply(s.client, EventAuthenticated, map[string]interface{}{"user": u.Summary()})
	s.log.Info("socket authenticated", "conn_id", s.client.id, "user_id", u.ID)
}

// decode разбирает data; поддерживается и голое число id ("join_ticket": 5).
func (s *Session) decode(env envelope, v interface{}) bool {
	if p, ok := v.(*ticketPayload); ok {
		var id uint64
		if json.Unmarshal(env.Data, &id) == nil && id != 0 {
			p.TicketID = id
			return true
		}
	}
	if len(env.Data) == 0 || json.Unmarshal(env.Data, v) != nil {
		s.replyError("invalid_payload", "invalid event data", env.Event)
		return false
	}
	if p, ok := v.(*ticketPayload); ok && p.TicketID == 0 {
		s.replyError("invalid_payload", "ticket_id is required", env.Event)
		return false
	}
	if p, ok := v.(*typingPayload); ok && p.TicketID == 0 {
		s.replyError("invalid_payload", "ticket_id is required", env.Event)
		return false
	}
	return true
}

func (s *Session) replyError(code, message, event string) {
	s.hub.Reply(s.client, EventError, ErrorEvent{Code: code, Message: message, Event: event})
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-s.client.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.hub.Done():
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
