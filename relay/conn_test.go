package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"chat-relay/protocol"
)

// captureChannel records every payload delivered to a session so tests
// can assert on the outbound traffic. Conns are single-goroutine, so no
// locking is needed here.
type captureChannel struct {
	sent   [][]byte
	closed bool
}

func (c *captureChannel) Send(_ context.Context, payload []byte) error {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	c.sent = append(c.sent, cp)
	return nil
}

func (c *captureChannel) Close() error {
	c.closed = true
	return nil
}

func (c *captureChannel) reset() { c.sent = nil }

func (c *captureChannel) types(t *testing.T) []protocol.Type {
	t.Helper()
	out := make([]protocol.Type, 0, len(c.sent))
	for _, payload := range c.sent {
		var head struct {
			Type protocol.Type `json:"type"`
		}
		require.NoError(t, json.Unmarshal(payload, &head))
		out = append(out, head.Type)
	}
	return out
}

func (c *captureChannel) decodeLast(t *testing.T, v any) {
	t.Helper()
	require.NotEmpty(t, c.sent)
	require.NoError(t, json.Unmarshal(c.sent[len(c.sent)-1], v))
}

func newTestRelay() (*Relay, *clock.Mock) {
	clk := clock.NewMock()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	return New(log, clk, Config{}), clk
}

func join(t *testing.T, r *Relay, name string) (*Conn, *captureChannel) {
	t.Helper()
	ch := &captureChannel{}
	conn := r.Attach(ch)
	conn.HandleRaw(context.Background(), []byte(fmt.Sprintf(`{"type":"set_username","username":%q}`, name)))
	require.Equal(t, StateActive, conn.State())
	ch.reset()
	return conn, ch
}

func TestConn_HandshakeAcceptsIdentity(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRelay()

	// Given a fresh connection
	ch := &captureChannel{}
	conn := r.Attach(ch)
	req.Equal(StateHandshaking, conn.State())

	// When it claims a username
	conn.HandleRaw(context.Background(), []byte(`{"type":"set_username","username":"Bob"}`))

	// Then the session is active and received acceptance, welcome and roster
	req.Equal(StateActive, conn.State())
	req.Equal([]protocol.Type{
		protocol.TypeUsernameAccepted,
		protocol.TypeSystem,
		protocol.TypeOnlineUsers,
	}, ch.types(t))

	var roster protocol.OnlineUsers
	ch.decodeLast(t, &roster)
	req.Equal([]string{"Bob"}, roster.Users)
	req.Equal(1, roster.Count)
}

func TestConn_HandshakeRejectsTakenIdentity(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRelay()
	join(t, r, "Alice")

	// Given a second connection trying a different casing of a taken name
	ch := &captureChannel{}
	conn := r.Attach(ch)
	conn.HandleRaw(context.Background(), []byte(`{"type":"set_username","username":"alice"}`))

	// Then the claim is rejected and the handshake stays open
	req.Equal(StateHandshaking, conn.State())
	var rejection protocol.Notice
	ch.decodeLast(t, &rejection)
	req.Equal(protocol.TypeUsernameError, rejection.Type)
	req.Equal("Username 'alice' is already taken. Please choose another one.", rejection.Message)
	req.Equal([]string{"Alice"}, r.OnlineUsers())

	// And a retry with a free name succeeds on the same connection
	ch.reset()
	conn.HandleRaw(context.Background(), []byte(`{"type":"set_username","username":"Carol"}`))
	req.Equal(StateActive, conn.State())
}

func TestConn_HandshakeRejectsEmptyIdentity(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRelay()

	ch := &captureChannel{}
	conn := r.Attach(ch)
	conn.HandleRaw(context.Background(), []byte(`{"type":"set_username","username":"   "}`))

	req.Equal(StateHandshaking, conn.State())
	var rejection protocol.Notice
	ch.decodeLast(t, &rejection)
	req.Equal(protocol.TypeUsernameError, rejection.Type)
	req.Equal("Username cannot be empty", rejection.Message)
}

func TestConn_PreHandshakeChatIsDropped(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRelay()

	// Given a connection that has not registered yet
	ch := &captureChannel{}
	conn := r.Attach(ch)

	// When it sends a chat message
	conn.HandleRaw(context.Background(), []byte(`{"type":"chat","message":"too early"}`))

	// Then the message is silently dropped, not rejected
	req.Empty(ch.sent)
	req.Equal(StateHandshaking, conn.State())
	req.Equal(0, r.history.Len())
}

func TestConn_ChatEchoesToSenderAndBroadcasts(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRelay()
	bob, bobCh := join(t, r, "Bob")
	_, carolCh := join(t, r, "Carol")
	bobCh.reset()

	// When Bob sends a message
	bob.HandleRaw(context.Background(), []byte(`{"type":"chat","message":"hi there"}`))

	// Then Bob gets exactly one copy back and Carol gets one too
	req.Equal([]protocol.Type{protocol.TypeChat}, bobCh.types(t))
	req.Equal([]protocol.Type{protocol.TypeChat}, carolCh.types(t))

	var msg protocol.ChatMessage
	carolCh.decodeLast(t, &msg)
	req.Equal("Bob", msg.Username)
	req.Equal("hi there", msg.Message)
	req.Equal(1, r.history.Len())
}

func TestConn_LateJoinerReceivesHistoryReplay(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRelay()
	bob, bobCh := join(t, r, "Bob")

	// Given a message sent before Carol connected
	bob.HandleRaw(context.Background(), []byte(`{"type":"chat","message":"hello early birds"}`))
	bobCh.reset()

	// When Carol joins
	ch := &captureChannel{}
	conn := r.Attach(ch)
	conn.HandleRaw(context.Background(), []byte(`{"type":"set_username","username":"Carol"}`))
	req.Equal(StateActive, conn.State())

	// Then the replay carries Bob's message
	req.Equal([]protocol.Type{
		protocol.TypeUsernameAccepted,
		protocol.TypeSystem,
		protocol.TypeOnlineUsers,
		protocol.TypeHistory,
	}, ch.types(t))
	var replay protocol.History
	ch.decodeLast(t, &replay)
	req.Len(replay.Messages, 1)
	req.Equal("Bob", replay.Messages[0].Username)
	req.Equal("hello early birds", replay.Messages[0].Message)

	// And Bob was told about the join, with the updated roster
	req.Equal([]protocol.Type{protocol.TypeUserJoin}, bobCh.types(t))
	var joined protocol.PresenceEvent
	bobCh.decodeLast(t, &joined)
	req.Equal("Carol", joined.Username)
	req.Equal([]string{"Bob", "Carol"}, joined.UsersList)
	req.Equal(2, joined.OnlineUsers)
}

func TestConn_MalformedPayloadKeepsSessionAlive(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRelay()
	bob, bobCh := join(t, r, "Bob")

	// When Bob sends something that is not valid JSON
	bob.HandleRaw(context.Background(), []byte(`{not json`))

	// Then he gets an error but stays connected
	var notice protocol.Notice
	bobCh.decodeLast(t, &notice)
	req.Equal(protocol.TypeError, notice.Type)
	req.Equal("Invalid message format", notice.Message)
	req.Equal(StateActive, bob.State())
	req.Equal([]string{"Bob"}, r.OnlineUsers())
}

func TestConn_MissingTypeIsMalformed(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRelay()
	bob, bobCh := join(t, r, "Bob")

	bob.HandleRaw(context.Background(), []byte(`{"message":"no type"}`))

	var notice protocol.Notice
	bobCh.decodeLast(t, &notice)
	req.Equal(protocol.TypeError, notice.Type)
	req.Equal(StateActive, bob.State())
}

func TestConn_UnknownTypeGetsErrorReply(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRelay()
	bob, bobCh := join(t, r, "Bob")

	bob.HandleRaw(context.Background(), []byte(`{"type":"dance"}`))

	var notice protocol.Notice
	bobCh.decodeLast(t, &notice)
	req.Equal(protocol.TypeError, notice.Type)
	req.Equal("Unknown message type: dance", notice.Message)
	req.Equal(StateActive, bob.State())
}

func TestConn_PingAnswersPongAndRefreshesPresence(t *testing.T) {
	req := require.New(t)
	r, clk := newTestRelay()
	bob, bobCh := join(t, r, "Bob")

	// Given Bob pinging before the presence timeout elapses
	clk.Add(40 * time.Second)
	bob.HandleRaw(context.Background(), []byte(`{"type":"ping"}`))
	req.Equal([]protocol.Type{protocol.TypePong}, bobCh.types(t))

	// When the sweep runs with Bob's last ping still recent
	clk.Add(30 * time.Second)

	// Then Bob survives: 70s since join, but only 30s since the ping
	req.Empty(r.SweepStale(context.Background()))
	req.Equal([]string{"Bob"}, r.OnlineUsers())
}

func TestConn_GetUsersReturnsRoster(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRelay()
	bob, bobCh := join(t, r, "Bob")
	join(t, r, "Carol")
	bobCh.reset()

	bob.HandleRaw(context.Background(), []byte(`{"type":"get_users"}`))

	var roster protocol.OnlineUsers
	bobCh.decodeLast(t, &roster)
	req.Equal(protocol.TypeOnlineUsers, roster.Type)
	req.Equal([]string{"Bob", "Carol"}, roster.Users)
	req.Equal(2, roster.Count)
}

func TestConn_LeaveAnnouncesDeparture(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRelay()
	bob, bobCh := join(t, r, "Bob")
	_, carolCh := join(t, r, "Carol")
	bobCh.reset()

	// When Bob leaves
	bob.HandleRaw(context.Background(), []byte(`{"type":"leave"}`))

	// Then the remaining session hears about it with the shrunk roster
	req.Equal(StateClosed, bob.State())
	req.Empty(bobCh.sent)
	var left protocol.PresenceEvent
	carolCh.decodeLast(t, &left)
	req.Equal(protocol.TypeUserLeave, left.Type)
	req.Equal("Bob", left.Username)
	req.Equal([]string{"Carol"}, left.UsersList)
	req.Equal([]string{"Carol"}, r.OnlineUsers())

	// And a duplicate close stays quiet
	carolCh.reset()
	bob.Close(context.Background())
	req.Empty(carolCh.sent)
}

func TestRelay_SweepStaleEvictsAndAnnouncesTimeout(t *testing.T) {
	req := require.New(t)
	r, clk := newTestRelay()
	bob, bobCh := join(t, r, "Bob")
	carol, carolCh := join(t, r, "Carol")

	// Given Bob staying alive while Carol goes silent
	clk.Add(40 * time.Second)
	bob.HandleRaw(context.Background(), []byte(`{"type":"ping"}`))
	bobCh.reset()
	clk.Add(30 * time.Second)

	// When the sweep runs
	evicted := r.SweepStale(context.Background())

	// Then Carol is evicted, her channel closed, and Bob is told
	req.Len(evicted, 1)
	req.Equal("Carol", evicted[0].String())
	req.True(carolCh.closed)
	req.Equal([]string{"Bob"}, r.OnlineUsers())

	var timedOut protocol.PresenceEvent
	bobCh.decodeLast(t, &timedOut)
	req.Equal(protocol.TypeUserTimeout, timedOut.Type)
	req.Equal("Carol", timedOut.Username)
	req.Equal([]string{"Bob"}, timedOut.UsersList)

	// And Carol's transport teardown does not add a second leave event
	bobCh.reset()
	carol.Close(context.Background())
	req.Empty(bobCh.sent)
}
