package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/protocol"
	"chat-relay/relay"
)

type RelayConfig struct {
	HistorySize     int
	ReplayWindow    int
	PresenceTimeout time.Duration
	BackoffInitial  time.Duration
	BackoffCap      time.Duration
}

func (c RelayConfig) withDefaults() RelayConfig {
	if c.HistorySize <= 0 {
		c.HistorySize = relay.DefaultHistorySize
	}
	if c.ReplayWindow <= 0 {
		c.ReplayWindow = relay.DefaultReplayWindow
	}
	if c.PresenceTimeout <= 0 {
		c.PresenceTimeout = relay.DefaultPresenceTimeout
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = DefaultBackoffInitial
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = DefaultBackoffCap
	}
	return c
}

// Relay is the server side of the broker shape. It holds the roster and
// the history while all traffic flows over topics: presence updates and
// chat arrive as publications, targeted replies leave on per-user
// private topics. It never holds a channel per user, so delivery is
// best-effort by construction and missed messages are not replayed.
type Relay struct {
	log      *slog.Logger
	clk      clock.Clock
	cfg      RelayConfig
	conn     contract.BrokerConn
	presence *relay.Presence
	history  *relay.History

	mu      sync.Mutex
	state   ConnState
	baseCtx context.Context
}

func NewRelay(log *slog.Logger, clk clock.Clock, conn contract.BrokerConn, cfg RelayConfig) *Relay {
	cfg = cfg.withDefaults()
	return &Relay{
		log:      log,
		clk:      clk,
		cfg:      cfg,
		conn:     conn,
		presence: relay.NewPresence(clk),
		history:  relay.NewHistory(cfg.HistorySize),
		state:    StateConnecting,
		baseCtx:  context.Background(),
	}
}

func (r *Relay) State() ConnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Relay) setState(s ConnState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
}

// OnlineUsers returns the roster snapshot.
func (r *Relay) OnlineUsers() []string {
	return r.presence.Identities()
}

// Run owns the connection lifecycle for the lifetime of the process:
// connect, resubscribe, wait for loss, reconnect with backoff.
// Implements contract.Worker.
func (r *Relay) Run(ctx context.Context) error {
	r.mu.Lock()
	r.baseCtx = ctx
	r.mu.Unlock()

	backoff := NewBackoff(r.cfg.BackoffInitial, r.cfg.BackoffCap)
	for {
		if err := r.connect(ctx, backoff); err != nil {
			r.setState(StateClosed)
			return err
		}
		backoff.Reset()

		select {
		case <-ctx.Done():
			r.setState(StateClosed)
			_ = r.conn.Close()
			return ctx.Err()
		case err := <-r.conn.Lost():
			// No replay of whatever flowed past while away; the shape is
			// best-effort only.
			r.log.Warn("Broker connection lost", "error", err)
			r.setState(StateReconnecting)
		}
	}
}

// connect retries until the broker accepts, sleeping the backoff delay
// after every failure. Subscriptions are re-established on each success
// because they do not survive a reconnect.
func (r *Relay) connect(ctx context.Context, backoff *Backoff) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := r.conn.Connect(ctx)
		if err == nil {
			if err = r.subscribe(ctx); err == nil {
				r.setState(StateActive)
				r.log.Info("Connected to broker")
				return nil
			}
		}

		delay := backoff.Next()
		r.log.Warn("Broker connect failed", "error", err, "retry_in", delay)
		timer := r.clk.Timer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *Relay) subscribe(ctx context.Context) error {
	subs := []struct {
		topic   string
		handler contract.MessageHandler
	}{
		{TopicChat, r.onChat},
		{TopicPresence, r.onPresence},
		{TopicRequestUsers, r.onUsersRequest},
		{TopicRequestHistory, r.onHistoryRequest},
	}
	for _, s := range subs {
		if err := r.conn.Subscribe(ctx, s.topic, s.handler); err != nil {
			return fmt.Errorf("subscribing %s: %w", s.topic, err)
		}
	}
	return nil
}

// onChat stores the message in history; fan-out already happened at the
// broker, so the relay only archives and refreshes presence.
func (r *Relay) onChat(_ string, payload []byte) {
	var m protocol.ChatMessage
	if err := decode(payload, &m); err != nil {
		r.log.Debug("Malformed chat payload", "error", err)
		return
	}
	sender, err := domain.ParseIdentity(m.Username)
	if err != nil {
		r.log.Debug("Chat without sender dropped")
		return
	}
	at, err := time.Parse(time.RFC3339, m.Timestamp)
	if err != nil {
		at = r.clk.Now()
	}
	r.history.Append(event.NewChat(sender, m.Message, at))
	r.presence.Touch(sender)
	r.log.Info("Chat", "user", sender.String(), "message", m.Message)
}

func (r *Relay) onPresence(_ string, payload []byte) {
	var p protocol.PresenceUpdate
	if err := decode(payload, &p); err != nil {
		r.log.Debug("Malformed presence payload", "error", err)
		return
	}
	identity, err := domain.ParseIdentity(p.Username)
	if err != nil {
		r.log.Debug("Presence without username dropped", "action", string(p.Action))
		return
	}

	switch p.Action {
	case protocol.ActionJoin:
		// A join for a name already online is ignored: reconnecting
		// clients must not create duplicate roster entries.
		if !r.presence.Track(identity) {
			return
		}
		r.log.Info("User joined", "user", identity.String(), "online", r.presence.Len())
		r.announce(protocol.TypeUserJoin, identity, fmt.Sprintf("%s joined the chat", identity))

	case protocol.ActionLeave:
		if !r.presence.Forget(identity) {
			return
		}
		r.log.Info("User left", "user", identity.String(), "online", r.presence.Len())
		r.announce(protocol.TypeUserLeave, identity, fmt.Sprintf("%s left the chat", identity))

	case protocol.ActionHeartbeat:
		// Heartbeats from identities that never joined are dropped until
		// the join arrives.
		r.presence.Touch(identity)

	default:
		r.log.Debug("Unknown presence action", "action", string(p.Action))
	}
}

func (r *Relay) onUsersRequest(_ string, payload []byte) {
	var req protocol.Request
	if err := decode(payload, &req); err != nil {
		r.log.Debug("Malformed users request", "error", err)
		return
	}
	roster := r.presence.Identities()
	reply := protocol.OnlineUsers{
		Type:      protocol.TypeOnlineUsers,
		Users:     roster,
		Count:     len(roster),
		Timestamp: protocol.Stamp(r.clk.Now()),
	}
	topic := TopicUsers
	if req.Requester != "" {
		topic = PrivateTopic(req.Requester)
	}
	r.publish(topic, reply)
}

func (r *Relay) onHistoryRequest(_ string, payload []byte) {
	var req protocol.Request
	if err := decode(payload, &req); err != nil || req.Requester == "" {
		r.log.Debug("Malformed history request", "error", err)
		return
	}
	recent := r.history.Recent(r.cfg.ReplayWindow)
	if len(recent) == 0 {
		return
	}
	r.publish(PrivateTopic(req.Requester), protocol.HistoryOf(recent, r.clk.Now()))
}

// SweepStale evicts identities silent past the timeout and announces
// each eviction on the system topic. Skipped while disconnected: the
// clients could not have heartbeated through a broker that is away.
// Implements contract.Sweeper.
func (r *Relay) SweepStale(_ context.Context) []domain.Identity {
	if r.State() != StateActive {
		r.log.Debug("Skipping sweep, not connected")
		return nil
	}
	evicted := r.presence.Sweep(r.cfg.PresenceTimeout)
	for _, identity := range evicted {
		r.log.Info("User timed out", "user", identity.String(), "online", r.presence.Len())
		r.announce(protocol.TypeUserTimeout, identity, fmt.Sprintf("%s timed out", identity))
	}
	return evicted
}

func (r *Relay) announce(kind protocol.Type, identity domain.Identity, message string) {
	roster := r.presence.Identities()
	r.publish(TopicSystem, protocol.PresenceEvent{
		Type:        kind,
		Username:    identity.String(),
		Message:     message,
		Timestamp:   protocol.Stamp(r.clk.Now()),
		OnlineUsers: len(roster),
		UsersList:   roster,
	})
}

func (r *Relay) publish(topic string, v any) {
	payload, err := protocol.Encode(v)
	if err != nil {
		r.log.Error("Encoding publication", "topic", topic, "error", err)
		return
	}
	r.mu.Lock()
	ctx := r.baseCtx
	r.mu.Unlock()
	if err := r.conn.Publish(ctx, topic, payload); err != nil {
		r.log.Warn("Publish failed", "topic", topic, "error", err)
	}
}
