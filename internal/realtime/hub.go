// Package realtime — доставка событий тикетов и чата подключённым WebSocket-клиентам.
//
// Реестр соединений (пользователи, комнаты тикетов) принадлежит одной горутине Hub.Run:
// публичные методы только ставят операцию в очередь, поэтому мьютексы не нужны,
// а порядок событий в комнате совпадает с порядком вызовов.
package realtime

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/psds-microservice/helpdesk-service/internal/model"
)

const (
	sendBufferSize = 64
	opsBufferSize  = 1024
)

var (
	wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "helpdesk_ws_connections",
		Help: "Открытые WebSocket-соединения.",
	})
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helpdesk_realtime_events_total",
		Help: "Опубликованные realtime-события.",
	}, []string{"event"})
	droppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helpdesk_realtime_dropped_total",
		Help: "Недоставленные realtime-события.",
	}, []string{"reason"})
)

// Client — одно соединение. Поля ниже send меняет только горутина хаба.
type Client struct {
	id   string
	send chan []byte

	userID     uint64
	role       model.Role
	rooms      map[uint64]struct{}
	registered bool
}

func NewClient() *Client {
	return &Client{
		id:    uuid.NewString(),
		send:  make(chan []byte, sendBufferSize),
		rooms: make(map[uint64]struct{}),
	}
}

func (c *Client) ID() string { return c.id }

// Send — исходящие кадры; закрывается хабом при отключении.
func (c *Client) Send() <-chan []byte { return c.send }

type Hub struct {
	ops  chan func()
	done chan struct{}

	clients map[*Client]struct{}
	users   map[uint64]map[*Client]struct{}
	rooms   map[uint64]map[*Client]struct{}

	log *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		ops:     make(chan func(), opsBufferSize),
		done:    make(chan struct{}),
		clients: make(map[*Client]struct{}),
		users:   make(map[uint64]map[*Client]struct{}),
		rooms:   make(map[uint64]map[*Client]struct{}),
		log:     log.With("component", "realtime_hub"),
	}
}

// Run выполняет операции до отмены ctx, затем закрывает все соединения.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case op := <-h.ops:
			op()
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			h.log.Info("hub stopped")
			return
		}
	}
}

// Done закрывается после остановки Run.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) do(op func()) bool {
	select {
	case h.ops <- op:
		return true
	case <-h.done:
		return false
	}
}

func query[T any](h *Hub, f func() T) T {
	res := make(chan T, 1)
	var zero T
	if !h.do(func() { res <- f() }) {
		return zero
	}
	select {
	case v := <-res:
		return v
	case <-h.done:
		return zero
	}
}

func (h *Hub) Register(c *Client) {
	h.do(func() {
		c.registered = true
		h.clients[c] = struct{}{}
		wsConnections.Inc()
	})
}

// Unregister убирает соединение из всех комнат и закрывает его канал. Повторный вызов безопасен.
func (h *Hub) Unregister(c *Client) {
	h.do(func() { h.drop(c) })
}

// Authenticate привязывает соединение к пользователю (личный канал).
// Смена личности или роли выводит соединение из всех комнат: подписки проверялись для прежнего пользователя.
func (h *Hub) Authenticate(c *Client, u *model.User) {
	h.do(func() {
		if !c.registered {
			return
		}
		if c.userID != 0 {
			removeFrom(h.users, c.userID, c)
			if c.userID != u.ID || c.role != u.Role {
				h.leaveAll(c)
			}
		}
		c.userID = u.ID
		c.role = u.Role
		addTo(h.users, u.ID, c)
	})
}

func (h *Hub) Join(c *Client, ticketID uint64) {
	h.do(func() {
		if !c.registered || c.userID == 0 {
			return
		}
		c.rooms[ticketID] = struct{}{}
		addTo(h.rooms, ticketID, c)
	})
}

func (h *Hub) Leave(c *Client, ticketID uint64) {
	h.do(func() {
		delete(c.rooms, ticketID)
		removeFrom(h.rooms, ticketID, c)
	})
}

func (h *Hub) Online(userID uint64) bool {
	return query(h, func() bool { return len(h.users[userID]) > 0 })
}

func (h *Hub) ConnectionCount() int {
	return query(h, func() int { return len(h.clients) })
}

// RoomSize — число соединений в комнате тикета.
func (h *Hub) RoomSize(ticketID uint64) int {
	return query(h, func() int { return len(h.rooms[ticketID]) })
}

// Broadcast — всем аутентифицированным соединениям (ticket:created/updated/deleted).
func (h *Hub) Broadcast(event string, data interface{}) {
	frame, ok := h.encode(event, data)
	if !ok {
		return
	}
	h.do(func() {
		for c := range h.clients {
			if c.userID != 0 {
				h.deliver(c, frame)
			}
		}
	})
}

// BroadcastTicket — соединениям в комнате тикета; staffOnly оставляет только technician/admin.
func (h *Hub) BroadcastTicket(ticketID uint64, event string, data interface{}, staffOnly bool) {
	frame, ok := h.encode(event, data)
	if !ok {
		return
	}
	h.do(func() {
		for c := range h.rooms[ticketID] {
			if staffOnly && !c.role.IsStaff() {
				continue
			}
			h.deliver(c, frame)
		}
	})
}

// SendToUser — во все соединения пользователя; офлайн — событие теряется.
func (h *Hub) SendToUser(userID uint64, event string, data interface{}) {
	frame, ok := h.encode(event, data)
	if !ok {
		return
	}
	h.do(func() {
		conns := h.users[userID]
		if len(conns) == 0 {
			droppedTotal.WithLabelValues("offline").Inc()
			return
		}
		for c := range conns {
			h.deliver(c, frame)
		}
	})
}

// Relay пересылает событие остальным участникам комнаты; отправитель должен в ней состоять.
func (h *Hub) Relay(from *Client, ticketID uint64, event string, data interface{}) {
	frame, ok := h.encode(event, data)
	if !ok {
		return
	}
	h.do(func() {
		if _, joined := from.rooms[ticketID]; !joined {
			return
		}
		for c := range h.rooms[ticketID] {
			if c != from {
				h.deliver(c, frame)
			}
		}
	})
}

// Reply — ответ одному соединению (authenticated, error).
func (h *Hub) Reply(c *Client, event string, data interface{}) {
	frame, ok := h.encode(event, data)
	if !ok {
		return
	}
	h.do(func() {
		if c.registered {
			h.deliver(c, frame)
		}
	})
}

func (h *Hub) encode(event string, data interface{}) ([]byte, bool) {
	frame, err := encode(event, data)
	if err != nil {
		h.log.Error("encode event", "event", event, "error", err)
		droppedTotal.WithLabelValues("encode").Inc()
		return nil, false
	}
	eventsTotal.WithLabelValues(event).Inc()
	return frame, true
}

// deliver не блокирует: переполненный буфер означает медленного клиента, его отключаем.
func (h *Hub) deliver(c *Client, frame []byte) {
	select {
	case c.send <- frame:
	default:
		droppedTotal.WithLabelValues("slow_consumer").Inc()
		h.log.Warn("dropping slow connection", "conn_id", c.id, "user_id", c.userID)
		h.drop(c)
	}
}

func (h *Hub) drop(c *Client) {
	if !c.registered {
		return
	}
	c.registered = false
	delete(h.clients, c)
	if c.userID != 0 {
		removeFrom(h.users, c.userID, c)
	}
	h.leaveAll(c)
	close(c.send)
	wsConnections.Dec()
}

func (h *Hub) leaveAll(c *Client) {
	for id := range c.rooms {
		removeFrom(h.rooms, id, c)
	}
	c.rooms = make(map[uint64]struct{})
}

func addTo(m map[uint64]map[*Client]struct{}, key uint64, c *Client) {
	set, ok := m[key]
	if !ok {
		set = make(map[*Client]struct{})
		m[key] = set
	}
	set[c] = struct{}{}
}

func removeFrom(m map[uint64]map[*Client]struct{}, key uint64, c *Client) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(m, key)
	}
}
