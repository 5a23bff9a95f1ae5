package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psds-microservice/helpdesk-service/internal/errs"
	"github.com/psds-microservice/helpdesk-service/internal/kafka"
	"github.com/psds-microservice/helpdesk-service/internal/model"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) chats() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int64
	for _, m := range f.sent {
		out = append(out, m.ChatID)
	}
	return out
}

type producedEvent struct {
	event    string
	ticketID uint64
}

type fakeProducer struct {
	mu     sync.Mutex
	events []producedEvent
}

func (p *fakeProducer) ProduceTicketEvent(_ context.Context, event string, ticketID uint64, _ map[string]interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, producedEvent{event, ticketID})
	return nil
}

type fakeUsers struct {
	byID       map[uint64]*model.User
	recipients []model.User
}

func (f *fakeUsers) GetByID(_ context.Context, id uint64) (*model.User, error) {
	if u, ok := f.byID[id]; ok {
		return u, nil
	}
	return nil, errs.ErrUserNotFound
}

func (f *fakeUsers) TelegramRecipients(context.Context) ([]model.User, error) {
	return f.recipients, nil
}

func (f *fakeUsers) GetByTelegramID(_ context.Context, telegramID int64) (*model.User, error) {
	for _, u := range f.byID {
		if u.TelegramID != nil && *u.TelegramID == telegramID {
			return u, nil
		}
	}
	return nil, errs.ErrUserNotFound
}

type fakeTickets map[uint64][]model.Ticket

func (f fakeTickets) ListAssignedTo(_ context.Context, userID uint64, limit int) ([]model.Ticket, error) {
	items := f[userID]
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func i64(v int64) *int64 { return &v }

func TestQueueRunsJobsWithTimeout(t *testing.T) {
	q := NewQueue(2, 8, discard())
	q.Start(context.Background())

	var mu sync.Mutex
	var deadlines []bool
	for i := 0; i < 3; i++ {
		require.True(t, q.Enqueue("test", func(ctx context.Context) error {
			_, ok := ctx.Deadline()
			mu.Lock()
			deadlines = append(deadlines, ok)
			mu.Unlock()
			return nil
		}))
	}
	q.Enqueue("failing", func(context.Context) error { return errors.New("boom") })
	q.Enqueue("panicking", func(context.Context) error { panic("boom") })
	q.Stop()

	assert.Equal(t, []bool{true, true, true}, deadlines)
	assert.False(t, q.Enqueue("late", func(context.Context) error { return nil }))
	q.Stop()
}

func TestQueueDropsWhenFull(t *testing.T) {
	q := NewQueue(1, 1, discard())
	release := make(chan struct{})
	started := make(chan struct{})
	q.Start(context.Background())

	require.True(t, q.Enqueue("blocker", func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started
	require.True(t, q.Enqueue("buffered", func(context.Context) error { return nil }))

	done := make(chan bool)
	go func() { done <- q.Enqueue("overflow", func(context.Context) error { return nil }) }()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}
	close(release)
	q.Stop()
}

func newDispatcher(t *testing.T, users *fakeUsers) (*Dispatcher, *Queue, *fakeSender, *fakeProducer) {
	t.Helper()
	sender := &fakeSender{}
	producer := &fakeProducer{}
	q := NewQueue(1, 16, discard())
	q.Start(context.Background())
	tg := &Telegram{api: sender, frontendURL: "https://helpdesk.example.com"}
	return NewDispatcher(q, tg, users, producer, discard()), q, sender, producer
}

func TestDispatcherNewTicketGoesToStaffAndKafka(t *testing.T) {
	users := &fakeUsers{recipients: []model.User{
		{ID: 2, Role: model.RoleTechnician, IsActive: true, TelegramID: i64(200)},
		{ID: 3, Role: model.RoleAdmin, IsActive: true, TelegramID: i64(300)},
	}}
	d, q, sender, producer := newDispatcher(t, users)

	d.TicketCreated(&model.Ticket{ID: 5, Name: "Rosa <script>", Department: model.DepartmentIT, Description: "pantalla negra"})
	d.TicketUpdated(&model.Ticket{ID: 5})
	d.TicketDeleted(5)
	q.Stop()

	assert.ElementsMatch(t, []int64{200, 300}, sender.chats())
	assert.Contains(t, sender.sent[0].Text, "Rosa &lt;script&gt;")
	assert.Contains(t, sender.sent[0].Text, "https://helpdesk.example.com/tickets/5")
	assert.Equal(t, tgbotapi.ModeHTML, sender.sent[0].ParseMode)
	assert.Equal(t, []producedEvent{
		{kafka.EventTicketCreated, 5},
		{kafka.EventTicketUpdated, 5},
		{kafka.EventTicketDeleted, 5},
	}, producer.events)
}

func TestDispatcherAssignmentNotifiesLinkedAssignee(t *testing.T) {
	users := &fakeUsers{byID: map[uint64]*model.User{
		2: {ID: 2, Role: model.RoleTechnician, IsActive: true, TelegramID: i64(200)},
		4: {ID: 4, Role: model.RoleTechnician, IsActive: true},
	}}
	d, q, sender, producer := newDispatcher(t, users)

	d.TicketAssigned(&model.Ticket{ID: 8, AssigneeID: uptr(2)}, 2)
	d.TicketAssigned(&model.Ticket{ID: 9, AssigneeID: uptr(4)}, 4)
	q.Stop()

	assert.Equal(t, []int64{200}, sender.chats())
	assert.Len(t, producer.events, 2)
}

func TestDisabledTelegramIsNoop(t *testing.T) {
	tg := NewTelegram(nil, "")
	assert.False(t, tg.Enabled())
	assert.NoError(t, tg.SendText(context.Background(), 1, "x"))
}

func TestBotReplies(t *testing.T) {
	users := &fakeUsers{byID: map[uint64]*model.User{
		2: {ID: 2, Role: model.RoleTechnician, IsActive: true, TelegramID: i64(200)},
		3: {ID: 3, Role: model.RoleTechnician, IsActive: true, TelegramID: i64(300)},
	}}
	tickets := fakeTickets{2: {
		{ID: 11, Status: model.TicketStatusInProgress, Priority: model.PriorityHigh, Description: "El proyector de la sala de juntas no enciende desde el lunes"},
	}}
	tg := &Telegram{api: &fakeSender{}, frontendURL: "https://helpdesk.example.com"}
	b := NewBot(nil, tg, users, tickets, discard())
	ctx := context.Background()

	assert.Equal(t, textStart, b.Reply(ctx, 200, "start"))
	assert.Equal(t, textHelp, b.Reply(ctx, 200, "ayuda"))
	assert.Equal(t, textUnknown, b.Reply(ctx, 200, ""))
	assert.Equal(t, textNotLinked, b.Reply(ctx, 999, "mistickets"))
	assert.Equal(t, "No tienes tickets asignados.", b.Reply(ctx, 300, "mistickets"))

	list := b.Reply(ctx, 200, "mistickets")
	assert.Contains(t, list, "Tus tickets asignados (1)")
	assert.Contains(t, list, "<b>#11</b> - En Progreso - Alta")
	assert.Contains(t, list, "El proyector de la sala de juntas no enciende desd...")
	assert.Contains(t, list, `href="https://helpdesk.example.com/tickets/11"`)
}

func uptr(v uint64) *uint64 { return &v }
