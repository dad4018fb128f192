package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/protocol"
)

const defaultEventBuffer = 64

type ClientConfig struct {
	Username       string
	BackoffInitial time.Duration
	BackoffCap     time.Duration
	EventBuffer    int
}

// Event is one decoded inbound item surfaced to the application. Exactly
// one field is set.
type Event struct {
	Chat    *protocol.ChatMessage
	System  *protocol.PresenceEvent
	Users   *protocol.OnlineUsers
	History *protocol.History
}

// Client is the user side of the broker shape. On every successful
// connection it announces itself on the presence topic and asks for the
// history replay and the roster; a heartbeat keeps it on the roster (see
// workers.HeartbeatWorker). Inbound traffic is surfaced on Events.
type Client struct {
	log      *slog.Logger
	clk      clock.Clock
	cfg      ClientConfig
	conn     contract.BrokerConn
	username domain.Identity
	events   chan Event

	mu      sync.Mutex
	state   ConnState
	baseCtx context.Context
}

func NewClient(log *slog.Logger, clk clock.Clock, conn contract.BrokerConn, cfg ClientConfig) (*Client, error) {
	username, err := domain.ParseIdentity(cfg.Username)
	if err != nil {
		return nil, err
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = DefaultBackoffInitial
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultBackoffCap
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	return &Client{
		log:      log,
		clk:      clk,
		cfg:      cfg,
		conn:     conn,
		username: username,
		events:   make(chan Event, cfg.EventBuffer),
		state:    StateConnecting,
		baseCtx:  context.Background(),
	}, nil
}

func (c *Client) Username() domain.Identity { return c.username }

// Events delivers decoded inbound traffic. Slow consumers have events
// dropped rather than stalling the broker callbacks.
func (c *Client) Events() <-chan Event { return c.events }

func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// Run owns the connection lifecycle. Implements contract.Worker.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	c.baseCtx = ctx
	c.mu.Unlock()

	backoff := NewBackoff(c.cfg.BackoffInitial, c.cfg.BackoffCap)
	for {
		if err := c.connect(ctx, backoff); err != nil {
			c.setState(StateClosed)
			return err
		}
		backoff.Reset()

		select {
		case <-ctx.Done():
			c.leave()
			c.setState(StateClosed)
			_ = c.conn.Close()
			return ctx.Err()
		case err := <-c.conn.Lost():
			c.log.Warn("Broker connection lost", "error", err)
			c.setState(StateReconnecting)
		}
	}
}

func (c *Client) connect(ctx context.Context, backoff *Backoff) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.conn.Connect(ctx)
		if err == nil {
			if err = c.subscribe(ctx); err == nil {
				c.setState(StateActive)
				c.log.Info("Connected to broker", "user", c.username.String())
				c.joinAndSync(ctx)
				return nil
			}
		}

		delay := backoff.Next()
		c.log.Warn("Broker connect failed", "error", err, "retry_in", delay)
		timer := c.clk.Timer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) subscribe(ctx context.Context) error {
	subs := []struct {
		topic   string
		handler contract.MessageHandler
	}{
		{TopicChat, c.onChat},
		{TopicSystem, c.onSystem},
		{TopicUsers, c.onTargeted},
		{PrivateTopic(c.username.String()), c.onTargeted},
	}
	for _, s := range subs {
		if err := c.conn.Subscribe(ctx, s.topic, s.handler); err != nil {
			return err
		}
	}
	return nil
}

// joinAndSync announces presence and requests the replayed state. A
// reconnect repeats it; the relay ignores the duplicate join.
func (c *Client) joinAndSync(ctx context.Context) {
	c.publish(ctx, TopicPresence, protocol.PresenceUpdate{
		Action:    protocol.ActionJoin,
		Username:  c.username.String(),
		Timestamp: c.stamp(),
	})
	request := protocol.Request{Requester: c.username.String(), Timestamp: c.stamp()}
	c.publish(ctx, TopicRequestHistory, request)
	c.publish(ctx, TopicRequestUsers, request)
}

// Send publishes a chat message under this client's identity.
func (c *Client) Send(ctx context.Context, message string) error {
	if c.State() != StateActive {
		return errors.ErrNotConnected
	}
	payload, err := protocol.Encode(protocol.ChatMessage{
		Type:      protocol.TypeChat,
		Username:  c.username.String(),
		Message:   message,
		Timestamp: c.stamp(),
	})
	if err != nil {
		return err
	}
	return c.conn.Publish(ctx, TopicChat, payload)
}

// Heartbeat refreshes this client's presence record.
func (c *Client) Heartbeat(ctx context.Context) error {
	if c.State() != StateActive {
		return errors.ErrNotConnected
	}
	payload, err := protocol.Encode(protocol.PresenceUpdate{
		Action:    protocol.ActionHeartbeat,
		Username:  c.username.String(),
		Timestamp: c.stamp(),
	})
	if err != nil {
		return err
	}
	return c.conn.Publish(ctx, TopicPresence, payload)
}

// RequestUsers asks for the roster; the reply arrives as an Event.
func (c *Client) RequestUsers(ctx context.Context) error {
	if c.State() != StateActive {
		return errors.ErrNotConnected
	}
	payload, err := protocol.Encode(protocol.Request{
		Requester: c.username.String(),
		Timestamp: c.stamp(),
	})
	if err != nil {
		return err
	}
	return c.conn.Publish(ctx, TopicRequestUsers, payload)
}

// leave is the best-effort farewell on shutdown; the sweep would evict
// us anyway if it never lands.
func (c *Client) leave() {
	if c.State() != StateActive {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.publish(ctx, TopicPresence, protocol.PresenceUpdate{
		Action:    protocol.ActionLeave,
		Username:  c.username.String(),
		Timestamp: c.stamp(),
	})
}

func (c *Client) onChat(_ string, payload []byte) {
	var m protocol.ChatMessage
	if err := decode(payload, &m); err != nil {
		c.log.Debug("Malformed chat payload", "error", err)
		return
	}
	// Own messages already rendered locally on send.
	if domain.Identity(m.Username).Key() == c.username.Key() {
		return
	}
	c.emit(Event{Chat: &m})
}

func (c *Client) onSystem(_ string, payload []byte) {
	var p protocol.PresenceEvent
	if err := decode(payload, &p); err != nil {
		c.log.Debug("Malformed system payload", "error", err)
		return
	}
	c.emit(Event{System: &p})
}

// onTargeted handles the users topic and the private topic, both of
// which carry either a roster or a history replay.
func (c *Client) onTargeted(_ string, payload []byte) {
	var head struct {
		Type protocol.Type `json:"type"`
	}
	if err := decode(payload, &head); err != nil {
		c.log.Debug("Malformed targeted payload", "error", err)
		return
	}
	switch head.Type {
	case protocol.TypeOnlineUsers:
		var users protocol.OnlineUsers
		if err := decode(payload, &users); err == nil {
			c.emit(Event{Users: &users})
		}
	case protocol.TypeHistory:
		var history protocol.History
		if err := decode(payload, &history); err == nil {
			c.emit(Event{History: &history})
		}
	default:
		c.log.Debug("Unexpected targeted payload", "type", string(head.Type))
	}
}

func (c *Client) emit(e Event) {
	select {
	case c.events <- e:
	default:
		c.log.Debug("Event dropped, consumer too slow")
	}
}

func (c *Client) publish(ctx context.Context, topic string, v any) {
	payload, err := protocol.Encode(v)
	if err != nil {
		c.log.Error("Encoding publication", "topic", topic, "error", err)
		return
	}
	if err := c.conn.Publish(ctx, topic, payload); err != nil {
		c.log.Warn("Publish failed", "topic", topic, "error", err)
	}
}

func (c *Client) stamp() string {
	return protocol.Stamp(c.clk.Now())
}
