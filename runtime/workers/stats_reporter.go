package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"

	"chat-hub/hub"
	"chat-hub/observability"
)

// StatsReporterWorker periodically snapshots the hub counters together with
// the process's CPU and resident memory, and logs the result. The snapshot is
// also kept in the monitor for the debug endpoint to serve.
type StatsReporterWorker struct {
	log            *slog.Logger
	monitor        *observability.Monitor
	presence       *hub.PresenceRegistry
	metricInterval time.Duration
}

func NewStatsReporterWorker(
	log *slog.Logger,
	monitor *observability.Monitor,
	presence *hub.PresenceRegistry,
	metricInterval time.Duration,
) *StatsReporterWorker {
	return &StatsReporterWorker{
		log:            log,
		monitor:        monitor,
		presence:       presence,
		metricInterval: metricInterval,
	}
}

func (w *StatsReporterWorker) Run(ctx context.Context) error {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping stats reporter")
			return nil
		case <-ticker.C:
			var cpu float64
			var rss uint64
			if cpu, err = proc.CPUPercent(); err != nil {
				w.log.Error("Error while finding process cpu usage", "err", err)
			}
			if memory, err := proc.MemoryInfo(); err != nil {
				w.log.Error("Error while finding process memory usage", "err", err)
			} else {
				rss = memory.RSS
			}

			stats := w.monitor.Collect(len(w.presence.OnlineUserIDs()), cpu, rss)
			w.log.Info("Hub stats",
				"online_users", stats.OnlineUsers,
				"open_connections", stats.OpenConnections,
				"messages_delivered", stats.MessagesDelivered,
				"messages_dropped", stats.MessagesDropped,
				"reactions_merged", stats.ReactionsMerged,
				"typing_relayed", stats.TypingRelayed,
				"slow_client_drops", stats.SlowClientDrops,
				"alloc_mem_mb", stats.AllocMemMb,
				"cpu_percent", stats.CPUPercent,
				"ram_bytes", stats.RSSBytes,
			)
		}
	}
}
