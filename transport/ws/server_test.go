package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"chat-relay/protocol"
	"chat-relay/relay"
)

func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	r := relay.New(log, clock.New(), relay.Config{})
	srv := httptest.NewServer(NewServer(log, r).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) (protocol.Type, []byte) {
	t.Helper()
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var head struct {
		Type protocol.Type `json:"type"`
	}
	require.NoError(t, json.Unmarshal(raw, &head))
	return head.Type, raw
}

func register(t *testing.T, conn *websocket.Conn, name string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "set_username", "username": name}))
	kind, _ := readEnvelope(t, conn)
	require.Equal(t, protocol.TypeUsernameAccepted, kind)
	// welcome notice and roster follow the acceptance
	kind, _ = readEnvelope(t, conn)
	require.Equal(t, protocol.TypeSystem, kind)
	kind, _ = readEnvelope(t, conn)
	require.Equal(t, protocol.TypeOnlineUsers, kind)
}

func TestServer_SessionEndToEnd(t *testing.T) {
	req := require.New(t)
	srv := startServer(t)

	// Given Bob registered over a live websocket
	bob := dial(t, srv)
	register(t, bob, "Bob")

	// When Bob sends a chat message
	req.NoError(bob.WriteJSON(map[string]string{"type": "chat", "message": "hello room"}))

	// Then the echo comes back to him
	kind, raw := readEnvelope(t, bob)
	req.Equal(protocol.TypeChat, kind)
	var msg protocol.ChatMessage
	req.NoError(json.Unmarshal(raw, &msg))
	req.Equal("Bob", msg.Username)
	req.Equal("hello room", msg.Message)

	// And a late joiner gets the message replayed plus Bob gets the join
	carol := dial(t, srv)
	req.NoError(carol.WriteJSON(map[string]string{"type": "set_username", "username": "Carol"}))
	kinds := make([]protocol.Type, 0, 4)
	for i := 0; i < 4; i++ {
		kind, _ := readEnvelope(t, carol)
		kinds = append(kinds, kind)
	}
	req.Equal([]protocol.Type{
		protocol.TypeUsernameAccepted,
		protocol.TypeSystem,
		protocol.TypeOnlineUsers,
		protocol.TypeHistory,
	}, kinds)

	kind, raw = readEnvelope(t, bob)
	req.Equal(protocol.TypeUserJoin, kind)
	var joined protocol.PresenceEvent
	req.NoError(json.Unmarshal(raw, &joined))
	req.Equal("Carol", joined.Username)
	req.Equal([]string{"Bob", "Carol"}, joined.UsersList)
}

func TestServer_DisconnectBroadcastsLeave(t *testing.T) {
	req := require.New(t)
	srv := startServer(t)

	bob := dial(t, srv)
	register(t, bob, "Bob")
	carol := dial(t, srv)
	req.NoError(carol.WriteJSON(map[string]string{"type": "set_username", "username": "Carol"}))
	for i := 0; i < 3; i++ {
		readEnvelope(t, carol)
	}
	kind, _ := readEnvelope(t, bob)
	req.Equal(protocol.TypeUserJoin, kind)

	// When Carol's connection drops without an explicit leave
	req.NoError(carol.Close())

	// Then Bob hears the departure
	kind, raw := readEnvelope(t, bob)
	req.Equal(protocol.TypeUserLeave, kind)
	var left protocol.PresenceEvent
	req.NoError(json.Unmarshal(raw, &left))
	req.Equal("Carol", left.Username)
	req.Equal([]string{"Bob"}, left.UsersList)
}

func TestServer_HealthEndpointReportsOnlineCount(t *testing.T) {
	req := require.New(t)
	srv := startServer(t)

	bob := dial(t, srv)
	register(t, bob, "Bob")

	resp, err := http.Get(srv.URL + "/healthz")
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)

	var body struct {
		Status string `json:"status"`
		Online int    `json:"online"`
	}
	req.NoError(json.NewDecoder(resp.Body).Decode(&body))
	req.Equal("ok", body.Status)
	req.Equal(1, body.Online)
}
