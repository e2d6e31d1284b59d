package hub

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPresenceRegistry_FirstAndLastTransitions(t *testing.T) {
	req := require.New(t)
	presence := NewPresenceRegistry()

	phone := presence.NextSession()
	laptop := presence.NextSession()

	req.True(presence.MarkOnline("u1", phone))
	req.False(presence.MarkOnline("u1", laptop))
	req.True(presence.IsOnline("u1"))

	req.False(presence.MarkOffline("u1", phone))
	req.True(presence.IsOnline("u1"))
	req.True(presence.MarkOffline("u1", laptop))
	req.False(presence.IsOnline("u1"))
}

// A stale disconnect arriving after a fresh reconnect must not clear the
// newer connection's presence.
func TestPresenceRegistry_StaleDisconnectKeepsReconnect(t *testing.T) {
	req := require.New(t)
	presence := NewPresenceRegistry()

	old := presence.NextSession()
	presence.MarkOnline("u1", old)

	fresh := presence.NextSession()
	presence.MarkOnline("u1", fresh)

	// The old connection's cleanup fires late.
	req.False(presence.MarkOffline("u1", old))
	req.True(presence.IsOnline("u1"))

	// Replaying the same stale handle changes nothing.
	req.False(presence.MarkOffline("u1", old))
	req.True(presence.IsOnline("u1"))

	req.True(presence.MarkOffline("u1", fresh))
	req.False(presence.IsOnline("u1"))
}

func TestPresenceRegistry_UnknownUserOfflineIsNoOp(t *testing.T) {
	req := require.New(t)
	presence := NewPresenceRegistry()

	req.False(presence.MarkOffline("ghost", 42))
	req.False(presence.IsOnline("ghost"))
	req.Empty(presence.OnlineUserIDs())
}

func TestPresenceRegistry_OnlineUserIDsSorted(t *testing.T) {
	req := require.New(t)
	presence := NewPresenceRegistry()

	for _, id := range []string{"u3", "u1", "u2"} {
		presence.MarkOnline(id, presence.NextSession())
	}

	req.Equal([]string{"u1", "u2", "u3"}, presence.OnlineUserIDs())
}

func TestPresenceRegistry_ConcurrentChurn(t *testing.T) {
	req := require.New(t)
	presence := NewPresenceRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				session := presence.NextSession()
				presence.MarkOnline("u1", session)
				presence.MarkOffline("u1", session)
			}
		}()
	}
	wg.Wait()

	req.False(presence.IsOnline("u1"))
	req.Empty(presence.OnlineUserIDs())
}
