package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"guardwatch/internal/auth"
)

func newTestClient(h *Hub, buf int) *Client {
	c := NewClient(h, nil, auth.Principal{Role: auth.RoleAdmin}, Options{SendBuffer: buf})
	h.Register(c)
	return c
}

func drain(c *Client) []Frame {
	var out []Frame
	for {
		select {
		case b, ok := <-c.send:
			if !ok {
				return out
			}
			var f Frame
			if err := json.Unmarshal(b, &f); err == nil {
				out = append(out, f)
			}
		default:
			return out
		}
	}
}

func TestEmitOnlyReachesRoomMembers(t *testing.T) {
	h := NewHub()
	a, b := newTestClient(h, 8), newTestClient(h, 8)
	require.NoError(t, h.Join(a, "admin"))
	require.NoError(t, h.Join(a, "admin"))
	require.Equal(t, 1, h.RoomSize("admin"))

	require.NoError(t, h.Emit("admin", "alert-update", map[string]any{"id": "sos-1"}))
	got := drain(a)
	require.Len(t, got, 1)
	require.Equal(t, "alert-update", got[0].Event)
	require.JSONEq(t, `{"id":"sos-1"}`, string(got[0].Data))
	require.Empty(t, drain(b))

	require.NoError(t, h.Broadcast("system", map[string]string{"m": "hi"}))
	require.Len(t, drain(a), 1)
	require.Len(t, drain(b), 1)
}

func TestUnregisterLeavesRoomsAndCloses(t *testing.T) {
	h := NewHub()
	c := newTestClient(h, 4)
	require.NoError(t, h.Join(c, "guard-g1"))
	require.NoError(t, h.Join(c, "admin"))

	h.Unregister(c)
	require.Zero(t, h.RoomSize("guard-g1"))
	require.Zero(t, h.RoomSize("admin"))
	require.Zero(t, h.Len())
	_, open := <-c.send
	require.False(t, open)

	// Sending to a gone client is an error, not a panic on a closed channel.
	require.Error(t, c.Send("pong", nil))
	require.Error(t, h.Join(c, "admin"))
	h.Unregister(c)
}

func TestFullQueueDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub()
	slow := newTestClient(h, 1)
	fast := newTestClient(h, 8)
	for _, c := range []*Client{slow, fast} {
		require.NoError(t, h.Join(c, "admin"))
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, h.Emit("admin", "location-update", i))
	}
	require.Len(t, drain(slow), 1)
	require.Len(t, drain(fast), 3)
}

func TestSendTargetsSingleClient(t *testing.T) {
	h := NewHub()
	a, b := newTestClient(h, 4), newTestClient(h, 4)
	require.NoError(t, a.Send("command-delivered", map[string]string{"commandId": "cmd-1"}))
	require.Len(t, drain(a), 1)
	require.Empty(t, drain(b))
	require.NotEqual(t, a.ID(), b.ID())
}

type fakeRelay struct {
	mu   sync.Mutex
	err  error
	sent []string
}

func (f *fakeRelay) Publish(_ context.Context, room, event string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, room+"/"+event)
	return f.err
}

func TestRelayPublishesInsteadOfLocalDelivery(t *testing.T) {
	h := NewHub()
	c := newTestClient(h, 4)
	require.NoError(t, h.Join(c, "admin"))
	r := &fakeRelay{}
	h.SetRelay(r)

	require.NoError(t, h.Emit("admin", "alert-update", 1))
	require.Equal(t, []string{"admin/alert-update"}, r.sent)
	require.Empty(t, drain(c), "frame arrives only when the relay echoes it back")

	r.err = errors.New("redis down")
	require.NoError(t, h.Emit("admin", "alert-update", 2))
	require.Len(t, drain(c), 1, "local fallback when the relay fails")
}

func TestConcurrentJoinEmitUnregister(t *testing.T) {
	h := NewHub()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newTestClient(h, 16)
			_ = h.Join(c, "admin")
			_ = h.Emit("admin", "location-update", 1)
			h.Leave(c, "admin")
			h.Unregister(c)
		}()
	}
	wg.Wait()
	require.Zero(t, h.Len())
}
