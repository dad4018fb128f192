package relay

import (
	"context"
	"log/slog"
	"time"

	"chat-relay/contract"
)

// Router fans one serialized event out to registered sessions. Delivery
// is best-effort per recipient: a broken channel is logged and counted,
// never aborting the loop, and the recipient is left for its own read
// loop or the presence sweep to evict.
type Router struct {
	log         *slog.Logger
	registry    *Registry
	sendTimeout time.Duration
}

func NewRouter(log *slog.Logger, registry *Registry, sendTimeout time.Duration) *Router {
	return &Router{log: log, registry: registry, sendTimeout: sendTimeout}
}

// Broadcast delivers payload to every session except exclude and returns
// the failure count. The payload must already be encoded; it is shared,
// not re-serialized per recipient.
func (r *Router) Broadcast(ctx context.Context, payload []byte, exclude *Session) int {
	failed := 0
	for _, s := range r.registry.Snapshot() {
		if s == exclude {
			continue
		}
		if err := r.send(ctx, payload, s); err != nil {
			failed++
			r.log.Warn("Delivery failed", "recipient", s.Identity.String(), "error", err)
		}
	}
	return failed
}

// Unicast delivers payload to one channel. It takes the channel rather
// than a Session because private replies also go to sessions still in
// the handshake, which have no Session yet.
func (r *Router) Unicast(ctx context.Context, payload []byte, ch contract.SessionChannel) error {
	sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()
	return ch.Send(sendCtx, payload)
}

// The per-recipient timeout bounds tail latency: one stuck channel must
// not stall delivery to everyone behind it.
func (r *Router) send(ctx context.Context, payload []byte, s *Session) error {
	return r.Unicast(ctx, payload, s.Channel)
}
