package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"chat-relay/contract"
)

const DefaultSweepInterval = 30 * time.Second

// SweepWorker drives the presence sweep on a fixed period, independent
// of message traffic, bounding staleness detection to one interval. It
// lives for the whole process; closing one session never stops it.
type SweepWorker struct {
	log      *slog.Logger
	clk      clock.Clock
	sweeper  contract.Sweeper
	interval time.Duration
}

func NewSweepWorker(log *slog.Logger, clk clock.Clock, sweeper contract.Sweeper, interval time.Duration) *SweepWorker {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &SweepWorker{log: log, clk: clk, sweeper: sweeper, interval: interval}
}

func (w *SweepWorker) Run(ctx context.Context) error {
	ticker := w.clk.Ticker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping sweep worker")
			return ctx.Err()
		case <-ticker.C:
			if evicted := w.sweeper.SweepStale(ctx); len(evicted) > 0 {
				w.log.Info("Presence sweep evicted users", "count", len(evicted))
			}
		}
	}
}
