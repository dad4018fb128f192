package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

const DefaultHeartbeatInterval = 30 * time.Second

// Heartbeater refreshes one identity's presence record upstream.
type Heartbeater interface {
	Heartbeat(ctx context.Context) error
}

// HeartbeatWorker keeps a broker client on the roster by publishing a
// presence heartbeat on a fixed period. The relay evicts identities
// silent past its timeout, so a dead client stops heartbeating and falls
// off on the next sweep.
type HeartbeatWorker struct {
	log      *slog.Logger
	clk      clock.Clock
	target   Heartbeater
	interval time.Duration
}

func NewHeartbeatWorker(log *slog.Logger, clk clock.Clock, target Heartbeater, interval time.Duration) *HeartbeatWorker {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &HeartbeatWorker{log: log, clk: clk, target: target, interval: interval}
}

func (w *HeartbeatWorker) Run(ctx context.Context) error {
	ticker := w.clk.Ticker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.target.Heartbeat(ctx); err != nil {
				// Not fatal: the reconnect loop restores the connection
				// and the next tick tries again.
				w.log.Warn("Heartbeat failed", "err", err)
			}
		}
	}
}
