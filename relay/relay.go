// Package relay implements the chat relay core: session registration
// with unique identities, bounded history replay, presence tracking with
// liveness timeouts, and best-effort fan-out to every other session.
// Transports stay outside; they hand over a contract.SessionChannel and
// drive the per-session state machine with raw inbound payloads.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/protocol"
)

const (
	DefaultHistorySize     = 50
	DefaultReplayWindow    = 20
	DefaultPresenceTimeout = 60 * time.Second
	DefaultSendTimeout     = 5 * time.Second
)

type Config struct {
	HistorySize     int
	ReplayWindow    int
	PresenceTimeout time.Duration
	SendTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.ReplayWindow <= 0 {
		c.ReplayWindow = DefaultReplayWindow
	}
	if c.PresenceTimeout <= 0 {
		c.PresenceTimeout = DefaultPresenceTimeout
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	return c
}

// Relay owns the shared chat state and hands out per-session state
// machines to the transport. One Relay is one chat room.
type Relay struct {
	log      *slog.Logger
	clk      clock.Clock
	cfg      Config
	presence *Presence
	registry *Registry
	history  *History
	router   *Router
}

func New(log *slog.Logger, clk clock.Clock, cfg Config) *Relay {
	cfg = cfg.withDefaults()
	presence := NewPresence(clk)
	registry := NewRegistry(clk, presence)
	return &Relay{
		log:      log,
		clk:      clk,
		cfg:      cfg,
		presence: presence,
		registry: registry,
		history:  NewHistory(cfg.HistorySize),
		router:   NewRouter(log, registry, cfg.SendTimeout),
	}
}

// Attach creates the state machine for a freshly connected session. The
// transport owns the returned Conn and must drive it from one goroutine.
func (r *Relay) Attach(ch contract.SessionChannel) *Conn {
	return &Conn{relay: r, channel: ch, state: StateHandshaking}
}

// OnlineUsers returns the current roster snapshot.
func (r *Relay) OnlineUsers() []string {
	return r.registry.Identities()
}

// SweepStale evicts every identity silent past the presence timeout,
// closes its channel, and announces the timeout to the remaining
// sessions. Implements contract.Sweeper; runs on its own period,
// independent of message traffic.
func (r *Relay) SweepStale(ctx context.Context) []domain.Identity {
	evicted := r.presence.Sweep(r.cfg.PresenceTimeout)
	for _, identity := range evicted {
		if s := r.registry.RemoveIdentity(identity); s != nil {
			if err := s.Channel.Close(); err != nil {
				r.log.Debug("Closing timed-out channel", "user", identity.String(), "error", err)
			}
		}
		r.log.Info("User timed out", "user", identity.String(), "online", r.registry.Len())
		r.announce(ctx, event.KindTimeout, identity, fmt.Sprintf("%s timed out", identity), nil)
	}
	return evicted
}

// announce broadcasts a join/leave/timeout event carrying the roster
// after the change.
func (r *Relay) announce(ctx context.Context, kind event.Kind, identity domain.Identity, message string, exclude *Session) {
	roster := r.registry.Identities()
	payload, err := protocol.Encode(protocol.PresenceEvent{
		Type:        protocol.Type(kind),
		Username:    identity.String(),
		Message:     message,
		Timestamp:   protocol.Stamp(r.clk.Now()),
		OnlineUsers: len(roster),
		UsersList:   roster,
	})
	if err != nil {
		r.log.Error("Encoding presence event", "error", err)
		return
	}
	r.router.Broadcast(ctx, payload, exclude)
}
