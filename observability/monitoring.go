package observability

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// HubStats aggregates hub counters with process-level metrics.
type HubStats struct {
	OnlineUsers         int     `json:"online_users"`
	OpenConnections     int64   `json:"open_connections"`
	ConnectionsAdmitted uint64  `json:"connections_admitted"`
	ConnectionsRejected uint64  `json:"connections_rejected"`
	MessagesDelivered   uint64  `json:"messages_delivered"`
	MessagesDropped     uint64  `json:"messages_dropped"`
	ReactionsMerged     uint64  `json:"reactions_merged"`
	TypingRelayed       uint64  `json:"typing_relayed"`
	SlowClientDrops     uint64  `json:"slow_client_drops"`
	AllocMemMb          uint64  `json:"alloc_mem_mb"`
	NumGC               uint32  `json:"num_gc"`
	CPUPercent          float64 `json:"cpu_percent"`
	RSSBytes            uint64  `json:"ram_bytes"`
	CollectedAt         string  `json:"collected_at"`
}

// Monitor collects hub telemetry. All counters are atomic so the hot paths
// (fan-out, typing relay) never take a lock to report.
type Monitor struct {
	log *slog.Logger

	openConnections     int64
	connectionsAdmitted uint64
	connectionsRejected uint64
	messagesDelivered   uint64
	messagesDropped     uint64
	reactionsMerged     uint64
	typingRelayed       uint64
	slowClientDrops     uint64

	mu     sync.RWMutex
	latest HubStats
}

func NewMonitor(log *slog.Logger) *Monitor {
	return &Monitor{log: log}
}

func (m *Monitor) ConnOpened() {
	atomic.AddInt64(&m.openConnections, 1)
	atomic.AddUint64(&m.connectionsAdmitted, 1)
}

func (m *Monitor) ConnClosed() {
	atomic.AddInt64(&m.openConnections, -1)
}

func (m *Monitor) IncrConnectionsRejected() {
	atomic.AddUint64(&m.connectionsRejected, 1)
}

func (m *Monitor) IncrMessagesDelivered(n uint64) {
	atomic.AddUint64(&m.messagesDelivered, n)
}

func (m *Monitor) IncrMessagesDropped() {
	atomic.AddUint64(&m.messagesDropped, 1)
}

func (m *Monitor) IncrReactionsMerged() {
	atomic.AddUint64(&m.reactionsMerged, 1)
}

func (m *Monitor) IncrTypingRelayed() {
	atomic.AddUint64(&m.typingRelayed, 1)
}

func (m *Monitor) IncrSlowClientDrops() {
	atomic.AddUint64(&m.slowClientDrops, 1)
}

// Collect refreshes the latest snapshot with counter values, Go memory stats,
// and the process metrics supplied by the caller (CPU percent, resident set).
func (m *Monitor) Collect(onlineUsers int, cpuPercent float64, rssBytes uint64) HubStats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := HubStats{
		OnlineUsers:         onlineUsers,
		OpenConnections:     atomic.LoadInt64(&m.openConnections),
		ConnectionsAdmitted: atomic.LoadUint64(&m.connectionsAdmitted),
		ConnectionsRejected: atomic.LoadUint64(&m.connectionsRejected),
		MessagesDelivered:   atomic.LoadUint64(&m.messagesDelivered),
		MessagesDropped:     atomic.LoadUint64(&m.messagesDropped),
		ReactionsMerged:     atomic.LoadUint64(&m.reactionsMerged),
		TypingRelayed:       atomic.LoadUint64(&m.typingRelayed),
		SlowClientDrops:     atomic.LoadUint64(&m.slowClientDrops),
		AllocMemMb:          memStats.Alloc / 1024 / 1024,
		NumGC:               memStats.NumGC,
		CPUPercent:          cpuPercent,
		RSSBytes:            rssBytes,
		CollectedAt:         time.Now().UTC().Format(time.RFC3339),
	}

	m.mu.Lock()
	m.latest = stats
	m.mu.Unlock()
	return stats
}

func (m *Monitor) GetLatest() HubStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}
