package hub

import (
	"sort"
	"sync"
	"sync/atomic"
)

// PresenceRegistry tracks which users currently hold at least one admitted
// connection. Presence is a SET of session handles per user, so a user with
// several devices stays online until the last one disconnects, and a
// disconnect racing a fresh reconnect can only ever remove its own handle.
type PresenceRegistry struct {
	mu       sync.Mutex
	seq      uint64
	sessions map[string]map[uint64]struct{}
}

func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{sessions: make(map[string]map[uint64]struct{})}
}

// NextSession issues a monotonically increasing handle for one admission.
func (p *PresenceRegistry) NextSession() uint64 {
	return atomic.AddUint64(&p.seq, 1)
}

// MarkOnline records the session as a liveness witness for the user.
// It reports whether this is the user's first live connection.
func (p *PresenceRegistry) MarkOnline(userID string, session uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.sessions[userID]
	if !ok {
		set = make(map[uint64]struct{})
		p.sessions[userID] = set
	}
	set[session] = struct{}{}
	return len(set) == 1
}

// MarkOffline removes one session. It reports whether the user went offline,
// which is only the case when no other session remains. Removing an unknown
// session is a no-op so a stale disconnect handler cannot clear presence.
func (p *PresenceRegistry) MarkOffline(userID string, session uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.sessions[userID]
	if !ok {
		return false
	}
	if _, held := set[session]; !held {
		return false
	}
	delete(set, session)
	if len(set) == 0 {
		delete(p.sessions, userID)
		return true
	}
	return false
}

// OnlineUserIDs returns a stable-sorted snapshot of online user ids.
func (p *PresenceRegistry) OnlineUserIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.sessions))
	for id := range p.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p *PresenceRegistry) IsOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions[userID]) > 0
}
