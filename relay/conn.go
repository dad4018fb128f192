package relay

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"chat-relay/contract"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/protocol"
)

type State int

const (
	// StateHandshaking awaits the identity registration; the transport
	// connection itself is already established when a Conn exists.
	StateHandshaking State = iota
	StateActive
	StateClosing
	StateClosed
)

type EffectKind int

const (
	// EffectReply is a unicast back to this session.
	EffectReply EffectKind = iota
	// EffectBroadcast goes to every other session.
	EffectBroadcast
)

// Effect is one outbound delivery produced by a state transition. The
// payload is encoded exactly once, so a broadcast shares its bytes
// across all recipients.
type Effect struct {
	Kind    EffectKind
	Payload []byte
}

// Conn is the relay-side state machine for one session. Step computes
// state transitions and returns deliveries as data; Apply performs them.
// The split keeps dispatch deterministic and testable without a live
// transport. A Conn must be driven by a single goroutine.
type Conn struct {
	relay   *Relay
	channel contract.SessionChannel
	state   State
	session *Session
}

func (c *Conn) State() State { return c.state }

// Session returns the registered session, or nil while handshaking.
func (c *Conn) Session() *Session { return c.session }

// HandleRaw processes one inbound payload end to end.
func (c *Conn) HandleRaw(ctx context.Context, raw []byte) {
	c.Apply(ctx, c.Step(raw))
}

// Step consumes one raw inbound payload, applies the state mutations,
// and returns the outbound effects. Malformed payloads cost an error
// reply, never the session.
func (c *Conn) Step(raw []byte) []Effect {
	if c.state == StateClosing || c.state == StateClosed {
		return nil
	}
	in, err := protocol.DecodeInbound(raw)
	if err != nil {
		c.relay.log.Debug("Malformed payload", "error", err)
		return c.reply(protocol.Notice{
			Type:      protocol.TypeError,
			Message:   "Invalid message format",
			Timestamp: c.stamp(),
		})
	}
	switch c.state {
	case StateHandshaking:
		return c.stepHandshake(in)
	default:
		return c.stepActive(in)
	}
}

// stepHandshake accepts only set_username. Anything else arriving before
// registration is dropped on purpose, not rejected.
func (c *Conn) stepHandshake(in protocol.Inbound) []Effect {
	if in.Type != protocol.TypeSetUsername {
		c.relay.log.Debug("Dropping pre-handshake message", "type", string(in.Type))
		return nil
	}

	session, err := c.relay.registry.Register(in.Username, c.channel)
	if err != nil {
		return c.reply(protocol.Notice{
			Type:      protocol.TypeUsernameError,
			Message:   rejectionMessage(in.Username, err),
			Timestamp: c.stamp(),
		})
	}
	c.session = session
	c.state = StateActive

	name := session.Identity.String()
	roster := c.relay.registry.Identities()
	c.relay.log.Info("User joined", "user", name, "online", len(roster))

	effects := c.reply(protocol.Accepted{
		Type:      protocol.TypeUsernameAccepted,
		Username:  name,
		Timestamp: c.stamp(),
	})
	effects = append(effects, c.reply(protocol.Notice{
		Type:      protocol.TypeSystem,
		Message:   fmt.Sprintf("Welcome to the chat room, %s!", name),
		Timestamp: c.stamp(),
	})...)
	effects = append(effects, c.reply(protocol.OnlineUsers{
		Type:      protocol.TypeOnlineUsers,
		Users:     roster,
		Count:     len(roster),
		Timestamp: c.stamp(),
	})...)
	if recent := c.relay.history.Recent(c.relay.cfg.ReplayWindow); len(recent) > 0 {
		effects = append(effects, c.reply(protocol.HistoryOf(recent, c.relay.clk.Now()))...)
	}
	effects = append(effects, c.broadcast(protocol.PresenceEvent{
		Type:        protocol.TypeUserJoin,
		Username:    name,
		Message:     fmt.Sprintf("%s joined the chat", name),
		Timestamp:   c.stamp(),
		OnlineUsers: len(roster),
		UsersList:   roster,
	})...)
	return effects
}

func (c *Conn) stepActive(in protocol.Inbound) []Effect {
	switch in.Type {
	case protocol.TypeChat:
		c.relay.presence.Touch(c.session.Identity)
		e := event.NewChat(c.session.Identity, in.Message, c.relay.clk.Now())
		c.relay.history.Append(e)
		payload, err := protocol.Encode(protocol.FromEvent(e))
		if err != nil {
			c.relay.log.Error("Encoding chat message", "error", err)
			return nil
		}
		// Sender gets its own message back as a direct echo, everyone
		// else via the broadcast.
		return []Effect{
			{Kind: EffectReply, Payload: payload},
			{Kind: EffectBroadcast, Payload: payload},
		}

	case protocol.TypePing:
		c.relay.presence.Touch(c.session.Identity)
		return c.reply(protocol.Notice{Type: protocol.TypePong, Timestamp: c.stamp()})

	case protocol.TypeGetUsers:
		c.relay.presence.Touch(c.session.Identity)
		roster := c.relay.registry.Identities()
		return c.reply(protocol.OnlineUsers{
			Type:      protocol.TypeOnlineUsers,
			Users:     roster,
			Count:     len(roster),
			Timestamp: c.stamp(),
		})

	case protocol.TypeLeave:
		return c.closeOut()

	default:
		return c.reply(protocol.Notice{
			Type:      protocol.TypeError,
			Message:   fmt.Sprintf("Unknown message type: %s", in.Type),
			Timestamp: c.stamp(),
		})
	}
}

// Close tears the session down after an explicit leave, a transport
// drop, or an eviction. Safe to call more than once.
func (c *Conn) Close(ctx context.Context) {
	c.Apply(ctx, c.closeOut())
}

func (c *Conn) closeOut() []Effect {
	if c.state == StateClosing || c.state == StateClosed {
		return nil
	}
	c.state = StateClosing
	var effects []Effect
	// Remove reports false when the sweep already evicted this session;
	// a timeout announcement went out then, so no leave event here.
	if c.session != nil && c.relay.registry.Remove(c.session) {
		name := c.session.Identity.String()
		roster := c.relay.registry.Identities()
		c.relay.log.Info("User left", "user", name, "online", len(roster))
		effects = c.broadcast(protocol.PresenceEvent{
			Type:        protocol.TypeUserLeave,
			Username:    name,
			Message:     fmt.Sprintf("%s left the chat", name),
			Timestamp:   c.stamp(),
			OnlineUsers: len(roster),
			UsersList:   roster,
		})
	}
	c.state = StateClosed
	return effects
}

// Apply performs the deliveries Step produced. Cancelling ctx abandons
// only this session's pending deliveries.
func (c *Conn) Apply(ctx context.Context, effects []Effect) {
	for _, e := range effects {
		if len(e.Payload) == 0 {
			continue
		}
		switch e.Kind {
		case EffectReply:
			if err := c.relay.router.Unicast(ctx, e.Payload, c.channel); err != nil {
				c.relay.log.Warn("Reply failed", "error", err)
			}
		case EffectBroadcast:
			c.relay.router.Broadcast(ctx, e.Payload, c.session)
		}
	}
}

func (c *Conn) reply(v any) []Effect {
	payload, err := protocol.Encode(v)
	if err != nil {
		c.relay.log.Error("Encoding reply", "error", err)
		return nil
	}
	return []Effect{{Kind: EffectReply, Payload: payload}}
}

func (c *Conn) broadcast(v any) []Effect {
	payload, err := protocol.Encode(v)
	if err != nil {
		c.relay.log.Error("Encoding broadcast", "error", err)
		return nil
	}
	return []Effect{{Kind: EffectBroadcast, Payload: payload}}
}

func (c *Conn) stamp() string {
	return protocol.Stamp(c.relay.clk.Now())
}

func rejectionMessage(raw string, err error) string {
	if stderrors.Is(err, errors.ErrIdentityTaken) {
		return fmt.Sprintf("Username '%s' is already taken. Please choose another one.", strings.TrimSpace(raw))
	}
	return "Username cannot be empty"
}
