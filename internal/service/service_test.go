package service

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/psds-microservice/helpdesk-service/internal/database/dbtest"
	"github.com/psds-microservice/helpdesk-service/internal/model"
	"github.com/psds-microservice/helpdesk-service/internal/store"
)

type sentEvent struct {
	Kind      string
	Target    uint64
	Event     string
	Data      interface{}
	StaffOnly bool
}

// recordingHub запоминает всё, что сервисы отдали на доставку.
type recordingHub struct {
	events []sentEvent
}

func (h *recordingHub) Broadcast(event string, data interface{}) {
	h.events = append(h.events, sentEvent{Kind: "all", Event: event, Data: data})
}

func (h *recordingHub) BroadcastTicket(ticketID uint64, event string, data interface{}, staffOnly bool) {
	h.events = append(h.events, sentEvent{Kind: "ticket", Target: ticketID, Event: event, Data: data, StaffOnly: staffOnly})
}

func (h *recordingHub) SendToUser(userID uint64, event string, data interface{}) {
	h.events = append(h.events, sentEvent{Kind: "user", Target: userID, Event: event, Data: data})
}

func (h *recordingHub) named(event string) []sentEvent {
	var out []sentEvent
	for _, e := range h.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type recordingOutbound struct {
	created  []uint64
	updated  []uint64
	assigned []uint64
	deleted  []uint64
}

func (o *recordingOutbound) TicketCreated(t *model.Ticket) { o.created = append(o.created, t.ID) }
func (o *recordingOutbound) TicketUpdated(t *model.Ticket) { o.updated = append(o.updated, t.ID) }
func (o *recordingOutbound) TicketAssigned(_ *model.Ticket, assigneeID uint64) {
	o.assigned = append(o.assigned, assigneeID)
}
func (o *recordingOutbound) TicketDeleted(id uint64) { o.deleted = append(o.deleted, id) }

type env struct {
	db      *gorm.DB
	hub     *recordingHub
	out     *recordingOutbound
	tickets *TicketService
	chat    *ChatService
	auth    *AuthService
	stats   *StatsService
	clock   time.Time
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := dbtest.Open(t)
	ts := store.NewTicketStore(db)
	cs := store.NewChatStore(db)
	us := store.NewUserStore(db)
	e := &env{
		db:    db,
		hub:   &recordingHub{},
		out:   &recordingOutbound{},
		clock: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	log := discardLogger()
	e.tickets = NewTicketService(ts, cs, us, e.hub, e.out, log)
	e.tickets.now = func() time.Time { return e.clock }
	e.chat = NewChatService(ts, cs, us, e.hub, log)
	e.auth = NewAuthService(us, "test-secret", time.Hour, log)
	e.auth.cost = 4
	e.stats = NewStatsService(ts, NewMemoryStatsCache(16, time.Minute), log)
	return e
}

func (e *env) user(t *testing.T, name string, role model.Role) *model.User {
	t.Helper()
	return dbtest.CreateUser(t, e.db, name, role)
}

func validInput() CreateTicketInput {
	return CreateTicketInput{
		Name:        "Rosa Pérez",
		Floor:       3,
		Office:      "301",
		Department:  model.DepartmentIT,
		Description: "La impresora no responde desde ayer",
	}
}

func uptr(v uint64) *uint64 { return &v }
