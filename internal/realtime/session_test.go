package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psds-microservice/helpdesk-service/internal/errs"
	"github.com/psds-microservice/helpdesk-service/internal/model"
)

type tokenAuth map[string]*model.User

func (a tokenAuth) Authenticate(_ context.Context, token string) (*model.User, error) {
	u, ok := a[token]
	if !ok {
		return nil, errs.ErrInvalidToken
	}
	return u, nil
}

// ticketACL: ticket id -> пользователи, которым разрешено подписываться.
type ticketACL map[uint64][]uint64

func (a ticketACL) CanJoin(_ context.Context, actor *model.User, ticketID uint64) error {
	ids, ok := a[ticketID]
	if !ok {
		return errs.ErrTicketNotFound
	}
	for _, id := range ids {
		if id == actor.ID {
			return nil
		}
	}
	return errs.ErrForbidden
}

var (
	rosa    = &model.User{ID: 1, Username: "rosa", Role: model.RoleRequester, IsActive: true}
	tecnico = &model.User{ID: 2, Username: "tecnico", Role: model.RoleTechnician, IsActive: true}
)

func startServer(t *testing.T) (*Hub, string) {
	t.Helper()
	h := startHub(t)
	auth := tokenAuth{"rosa-token": rosa, "tec-token": tecnico}
	acl := ticketACL{7: {1, 2}, 8: {2}}
	srv := httptest.NewServer(NewServer(h, auth, acl, nil, slog.New(slog.NewTextHandler(io.Discard, nil))))
	t.Cleanup(srv.Close)
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(outgoing{Event: event, Data: data}))
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func errorCode(t *testing.T, f frame) string {
	t.Helper()
	require.Equal(t, EventError, f.Event)
	var e ErrorEvent
	require.NoError(t, json.Unmarshal(f.Data, &e))
	return e.Code
}

func TestSessionRequiresAuthentication(t *testing.T) {
	_, url := startServer(t)
	conn := dial(t, url)

	send(t, conn, ClientJoinTicket, ticketPayload{TicketID: 7})
	assert.Equal(t, "unauthorized", errorCode(t, read(t, conn)))

	send(t, conn, ClientAuthenticate, authenticatePayload{Token: "bogus"})
	assert.Equal(t, "unauthorized", errorCode(t, read(t, conn)))

	send(t, conn, ClientAuthenticate, authenticatePayload{Token: "rosa-token"})
	f := read(t, conn)
	require.Equal(t, EventAuthenticated, f.Event)
	assert.JSONEq(t, `{"user":{"id":1,"username":"rosa","role":"usuario"}}`, string(f.Data))
}

func TestSessionJoinIsAuthorized(t *testing.T) {
	h, url := startServer(t)
	conn := dial(t, url)
	send(t, conn, ClientAuthenticate, authenticatePayload{Token: "rosa-token"})
	require.Equal(t, EventAuthenticated, read(t, conn).Event)

	send(t, conn, ClientJoinTicket, ticketPayload{TicketID: 8})
	assert.Equal(t, "forbidden", errorCode(t, read(t, conn)))
	send(t, conn, ClientJoinTicket, 99)
	assert.Equal(t, "not_found", errorCode(t, read(t, conn)))

	send(t, conn, ClientJoinTicket, 7)
	assert.Equal(t, EventJoined, read(t, conn).Event)
	assert.Equal(t, 1, h.RoomSize(7))
	assert.Equal(t, 0, h.RoomSize(8))

	h.BroadcastTicket(7, EventChatNewMessage, map[string]string{"message": "hola"}, false)
	assert.Equal(t, EventChatNewMessage, read(t, conn).Event)

	send(t, conn, ClientLeaveTicket, ticketPayload{TicketID: 7})
	assert.Equal(t, EventLeft, read(t, conn).Event)
	assert.Equal(t, 0, h.RoomSize(7))
}

func TestSessionTypingRelay(t *testing.T) {
	_, url := startServer(t)
	a := dial(t, url)
	b := dial(t, url)
	for conn, token := range map[*websocket.Conn]string{a: "rosa-token", b: "tec-token"} {
		send(t, conn, ClientAuthenticate, authenticatePayload{Token: token})
		require.Equal(t, EventAuthenticated, read(t, conn).Event)
		send(t, conn, ClientJoinTicket, 7)
		require.Equal(t, EventJoined, read(t, conn).Event)
	}

	send(t, a, ClientTyping, map[string]interface{}{"ticket_id": 7})
	f := read(t, b)
	require.Equal(t, EventUserTyping, f.Event)
	assert.JSONEq(t, `{"user_id":1,"ticket_id":7,"is_typing":true}`, string(f.Data))

	send(t, b, ClientTyping, map[string]interface{}{"ticket_id": 7, "is_typing": false})
	f = read(t, a)
	assert.JSONEq(t, `{"user_id":2,"ticket_id":7,"is_typing":false}`, string(f.Data))
}

func TestSessionRejectsMalformedFrames(t *testing.T) {
	h, url := startServer(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, "invalid_event", errorCode(t, read(t, conn)))

	send(t, conn, ClientAuthenticate, authenticatePayload{Token: "tec-token"})
	require.Equal(t, EventAuthenticated, read(t, conn).Event)
	send(t, conn, "explode", nil)
	assert.Equal(t, "invalid_event", errorCode(t, read(t, conn)))
	send(t, conn, ClientJoinTicket, map[string]string{"ticket_id": "x"})
	assert.Equal(t, "invalid_payload", errorCode(t, read(t, conn)))

	assert.True(t, h.Online(tecnico.ID))
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return !h.Online(tecnico.ID) }, 2*time.Second, 20*time.Millisecond)
}

func TestSessionReauthenticationDropsRooms(t *testing.T) {
	h, url := startServer(t)
	conn := dial(t, url)
	send(t, conn, ClientAuthenticate, authenticatePayload{Token: "tec-token"})
	require.Equal(t, EventAuthenticated, read(t, conn).Event)
	send(t, conn, ClientJoinTicket, 8)
	require.Equal(t, EventJoined, read(t, conn).Event)
	require.Equal(t, 1, h.RoomSize(8))

	send(t, conn, ClientAuthenticate, authenticatePayload{Token: "rosa-token"})
	require.Equal(t, EventAuthenticated, read(t, conn).Event)
	assert.Equal(t, 0, h.RoomSize(8))

	h.BroadcastTicket(8, EventChatNewMessage, map[string]string{"message": "solo tecnico"}, false)
	h.Broadcast(EventTicketUpdated, map[string]int{"id": 8})
	assert.Equal(t, EventTicketUpdated, read(t, conn).Event)

	send(t, conn, ClientJoinTicket, 8)
	assert.Equal(t, "forbidden", errorCode(t, read(t, conn)))
}
