package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psds-microservice/helpdesk-service/internal/model"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return h
}

func connect(h *Hub, u *model.User) *Client {
	c := NewClient()
	h.Register(c)
	if u != nil {
		h.Authenticate(c, u)
	}
	return c
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func next(t *testing.T, c *Client) frame {
	t.Helper()
	select {
	case raw, ok := <-c.Send():
		require.True(t, ok, "connection closed")
		var f frame
		require.NoError(t, json.Unmarshal(raw, &f))
		return f
	case <-time.After(time.Second):
		t.Fatal("no frame received")
		return frame{}
	}
}

// flush дожидается выполнения всех ранее поставленных операций.
func flush(h *Hub) { h.ConnectionCount() }

func assertSilent(t *testing.T, h *Hub, c *Client) {
	t.Helper()
	flush(h)
	select {
	case raw := <-c.Send():
		t.Fatalf("unexpected frame %s", raw)
	default:
	}
}

func TestBroadcastReachesAuthenticatedConnections(t *testing.T) {
	h := startHub(t)
	a := connect(h, &model.User{ID: 1, Role: model.RoleRequester})
	b := connect(h, &model.User{ID: 2, Role: model.RoleTechnician})
	anon := connect(h, nil)

	h.Broadcast(EventTicketCreated, map[string]int{"id": 7})

	assert.Equal(t, EventTicketCreated, next(t, a).Event)
	f := next(t, b)
	assert.JSONEq(t, `{"id":7}`, string(f.Data))
	assertSilent(t, h, anon)
	assert.Equal(t, 3, h.ConnectionCount())
}

func TestTicketRoomAndStaffOnly(t *testing.T) {
	h := startHub(t)
	req := connect(h, &model.User{ID: 1, Role: model.RoleRequester})
	tech := connect(h, &model.User{ID: 2, Role: model.RoleTechnician})
	outside := connect(h, &model.User{ID: 3, Role: model.RoleAdmin})
	h.Join(req, 10)
	h.Join(tech, 10)
	h.Join(outside, 11)

	h.BroadcastTicket(10, EventChatNewMessage, map[string]string{"message": "hola"}, false)
	h.BroadcastTicket(10, EventChatNewMessage, map[string]string{"message": "interno"}, true)

	assert.JSONEq(t, `{"message":"hola"}`, string(next(t, req).Data))
	assertSilent(t, h, req)
	assert.JSONEq(t, `{"message":"hola"}`, string(next(t, tech).Data))
	assert.JSONEq(t, `{"message":"interno"}`, string(next(t, tech).Data))
	assertSilent(t, h, outside)

	h.Leave(tech, 10)
	h.BroadcastTicket(10, EventChatMessageDeleted, map[string]int{"id": 1}, false)
	assert.Equal(t, EventChatMessageDeleted, next(t, req).Event)
	assertSilent(t, h, tech)
	assert.Equal(t, 1, h.RoomSize(10))
}

func TestRoomOrderFollowsPublishOrder(t *testing.T) {
	h := startHub(t)
	c := connect(h, &model.User{ID: 1, Role: model.RoleAdmin})
	h.Join(c, 5)
	for i := 0; i < 20; i++ {
		h.BroadcastTicket(5, EventChatNewMessage, map[string]int{"n": i}, false)
	}
	for i := 0; i < 20; i++ {
		var d map[string]int
		require.NoError(t, json.Unmarshal(next(t, c).Data, &d))
		assert.Equal(t, i, d["n"])
	}
}

func TestSendToUserReachesAllDevices(t *testing.T) {
	h := startHub(t)
	u := &model.User{ID: 9, Role: model.RoleTechnician}
	phone := connect(h, u)
	laptop := connect(h, u)
	other := connect(h, &model.User{ID: 10, Role: model.RoleTechnician})

	assert.True(t, h.Online(9))
	assert.False(t, h.Online(77))

	h.SendToUser(9, EventTicketAssigned, map[string]int{"id": 1})
	h.SendToUser(77, EventTicketAssigned, map[string]int{"id": 1})

	assert.Equal(t, EventTicketAssigned, next(t, phone).Event)
	assert.Equal(t, EventTicketAssigned, next(t, laptop).Event)
	assertSilent(t, h, other)

	h.Unregister(phone)
	assert.True(t, h.Online(9))
	h.Unregister(laptop)
	h.Unregister(laptop)
	assert.False(t, h.Online(9))
	_, ok := <-phone.Send()
	assert.False(t, ok)
}

func TestRelayExcludesSenderAndRequiresMembership(t *testing.T) {
	h := startHub(t)
	a := connect(h, &model.User{ID: 1, Role: model.RoleRequester})
	b := connect(h, &model.User{ID: 2, Role: model.RoleTechnician})
	stranger := connect(h, &model.User{ID: 3, Role: model.RoleRequester})
	h.Join(a, 4)
	h.Join(b, 4)

	h.Relay(a, 4, EventUserTyping, TypingEvent{UserID: 1, TicketID: 4, IsTyping: true})
	h.Relay(stranger, 4, EventUserTyping, TypingEvent{UserID: 3, TicketID: 4, IsTyping: true})

	assert.JSONEq(t, `{"user_id":1,"ticket_id":4,"is_typing":true}`, string(next(t, b).Data))
	assertSilent(t, h, a)
	assertSilent(t, h, b)
}

func TestReauthenticationLeavesRooms(t *testing.T) {
	h := startHub(t)
	c := connect(h, &model.User{ID: 5, Role: model.RoleTechnician})
	h.Join(c, 7)
	require.Equal(t, 1, h.RoomSize(7))

	h.Authenticate(c, &model.User{ID: 5, Role: model.RoleTechnician})
	assert.Equal(t, 1, h.RoomSize(7))

	h.Authenticate(c, &model.User{ID: 2, Role: model.RoleRequester})
	assert.Equal(t, 0, h.RoomSize(7))
	assert.False(t, h.Online(5))
	assert.True(t, h.Online(2))

	h.BroadcastTicket(7, EventChatNewMessage, map[string]string{"message": "hola"}, false)
	assertSilent(t, h, c)
	h.Relay(c, 7, EventUserTyping, TypingEvent{UserID: 2, TicketID: 7, IsTyping: true})
	assertSilent(t, h, c)
}

func TestRoleChangeLeavesRooms(t *testing.T) {
	h := startHub(t)
	c := connect(h, &model.User{ID: 5, Role: model.RoleTechnician})
	h.Join(c, 7)

	h.Authenticate(c, &model.User{ID: 5, Role: model.RoleRequester})
	assert.Equal(t, 0, h.RoomSize(7))
	assert.True(t, h.Online(5))
}

func TestSlowConsumerIsDropped(t *testing.T) {
	h := startHub(t)
	slow := connect(h, &model.User{ID: 1, Role: model.RoleAdmin})
	for i := 0; i < sendBufferSize+1; i++ {
		h.Broadcast(EventTicketUpdated, map[string]int{"n": i})
	}
	assert.Equal(t, 0, h.ConnectionCount())
	assert.False(t, h.Online(1))

	n := 0
	for range slow.Send() {
		n++
	}
	assert.Equal(t, sendBufferSize, n)
}

func TestStoppedHubClosesConnections(t *testing.T) {
	h := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	c := connect(h, &model.User{ID: 1, Role: model.RoleAdmin})
	flush(h)

	cancel()
	<-h.Done()
	_, ok := <-c.Send()
	assert.False(t, ok)
	assert.Equal(t, 0, h.ConnectionCount())
	h.Broadcast(EventTicketCreated, nil)
}
