package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

// StatsWorker logs the relay's own resource usage (RSS, CPU, OS status)
// on a fixed interval so an operator can spot a leaking or spinning
// relay without external tooling.
type StatsWorker struct {
	log      *slog.Logger
	interval time.Duration
	online   func() int
}

func NewStatsWorker(log *slog.Logger, interval time.Duration, online func() int) *StatsWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &StatsWorker{log: log, interval: interval, online: online}
}

func (w *StatsWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rss, cpu, status, err := selfStats(p)
			if err != nil {
				w.log.Error("Failed to collect self stats", "err", err)
				continue
			}
			w.log.Info("Relay stats",
				"ram_bytes", rss,
				"cpu_percent", cpu,
				"status", status,
				"online_users", w.online(),
			)
		}
	}
}

// selfStats retrieves technical metrics (Memory, CPU, and OS Status) for the given process.
func selfStats(p *process.Process) (uint64, float64, string, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, "", err
	}

	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, "", err
	}

	status, err := p.Status()
	if err != nil {
		return 0, 0, "", err
	}
	return memInfo.RSS, cpuPercent, status, nil
}
