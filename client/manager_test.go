package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// presenceServer is a scriptable stand-in for the real gateway: it counts
// upgrades, records inbound frames and lets tests push roster events or
// kill connections at will.
type presenceServer struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	upgrades int32

	mu    sync.Mutex
	conns []*websocket.Conn

	frames chan map[string]any

	initialUsers []User
}

func newPresenceServer(t *testing.T, initialUsers []User) *presenceServer {
	ps := &presenceServer{
		t:            t,
		frames:       make(chan map[string]any, 64),
		initialUsers: initialUsers,
	}
	ps.srv = httptest.NewServer(http.HandlerFunc(ps.handle))
	t.Cleanup(func() {
		ps.dropAll()
		ps.srv.Close()
	})
	return ps
}

func (ps *presenceServer) baseURL() string {
	return "ws" + strings.TrimPrefix(ps.srv.URL, "http")
}

func (ps *presenceServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := ps.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	atomic.AddInt32(&ps.upgrades, 1)

	ps.mu.Lock()
	ps.conns = append(ps.conns, conn)
	users := ps.initialUsers
	if users == nil {
		users = []User{}
	}
	data, _ := json.Marshal(map[string]any{"type": "presence", "users": users})
	conn.WriteMessage(websocket.TextMessage, data)
	ps.mu.Unlock()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame map[string]any
		if json.Unmarshal(raw, &frame) != nil {
			continue
		}
		select {
		case ps.frames <- frame:
		default:
		}
	}
}

func (ps *presenceServer) upgradeCount() int {
	return int(atomic.LoadInt32(&ps.upgrades))
}

// push broadcasts one frame to every connected client.
func (ps *presenceServer) push(frame any) {
	data, err := json.Marshal(frame)
	require.NoError(ps.t, err)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, conn := range ps.conns {
		conn.WriteMessage(websocket.TextMessage, data)
	}
}

func (ps *presenceServer) dropAll() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, conn := range ps.conns {
		conn.Close()
	}
	ps.conns = nil
}

// waitFrame waits for an inbound frame of the given type, skipping others
// (heartbeat pings arrive whenever they like).
func (ps *presenceServer) waitFrame(frameType string) map[string]any {
	ps.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case frame := <-ps.frames:
			if frame["type"] == frameType {
				return frame
			}
		case <-deadline:
			ps.t.Fatalf("no %q frame within deadline", frameType)
			return nil
		}
	}
}

func newTestManager(ps *presenceServer) *Manager {
	return New(Config{
		BaseURL: ps.baseURL(),
		Token:   "test-token",
		Identity: Identity{
			UserID:    "u1",
			UserName:  "Ada",
			UserEmail: "ada@example.com",
		},
		HeartbeatInterval: time.Hour, // quiet unless a test wants pings
		ReconnectDelay:    50 * time.Millisecond,
	})
}

// collect funnels snapshots into a channel so tests can wait on state.
func collect() (Callback, chan Snapshot) {
	ch := make(chan Snapshot, 64)
	return func(s Snapshot) { ch <- s }, ch
}

func waitSnapshot(t *testing.T, ch chan Snapshot, pred func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-ch:
			if pred(snap) {
				return snap
			}
		case <-deadline:
			t.Fatal("no matching snapshot within deadline")
			return Snapshot{}
		}
	}
}

func TestSubscribersShareOneConnection(t *testing.T) {
	ps := newPresenceServer(t, []User{{ID: "u1", Name: "Ada"}})
	m := newTestManager(ps)
	defer m.Close()

	cb1, ch1 := collect()
	cb2, ch2 := collect()

	cancel1 := m.Subscribe("doc-1", cb1)
	cancel2 := m.Subscribe("doc-1", cb2)

	waitSnapshot(t, ch1, func(s Snapshot) bool { return s.Connected && len(s.Users) == 1 })
	waitSnapshot(t, ch2, func(s Snapshot) bool { return s.Connected && len(s.Users) == 1 })

	assert.Equal(t, 1, ps.upgradeCount())

	// Dropping one subscriber keeps the shared socket.
	cancel1()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, ps.upgradeCount())

	// Dropping the last one closes it and cancels any reconnect.
	cancel2()
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, ps.upgradeCount())
}

func TestReconnectAfterDrop(t *testing.T) {
	ps := newPresenceServer(t, nil)
	m := newTestManager(ps)
	defer m.Close()

	cb, ch := collect()
	cancel := m.Subscribe("doc-1", cb)
	defer cancel()

	waitSnapshot(t, ch, func(s Snapshot) bool { return s.Connected })

	ps.dropAll()

	// Disconnect surfaces, then exactly one reconnect attempt lands.
	waitSnapshot(t, ch, func(s Snapshot) bool { return !s.Connected })
	waitSnapshot(t, ch, func(s Snapshot) bool { return s.Connected })

	assert.Equal(t, 2, ps.upgradeCount())

	// No reconnect storm afterwards.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 2, ps.upgradeCount())
}

func TestUnsubscribeDuringDisconnectCancelsReconnect(t *testing.T) {
	ps := newPresenceServer(t, nil)
	m := newTestManager(ps)
	defer m.Close()

	cb, ch := collect()
	cancel := m.Subscribe("doc-1", cb)
	waitSnapshot(t, ch, func(s Snapshot) bool { return s.Connected })

	ps.dropAll()
	waitSnapshot(t, ch, func(s Snapshot) bool { return !s.Connected })
	cancel()

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, ps.upgradeCount())
}

func TestRosterEvents(t *testing.T) {
	ada := User{ID: "u1", Name: "Ada", Email: "ada@example.com", JoinedAt: 100, IsActive: true}
	ps := newPresenceServer(t, []User{ada})
	m := newTestManager(ps)
	defer m.Close()

	cb, ch := collect()
	cancel := m.Subscribe("doc-1", cb)
	defer cancel()

	waitSnapshot(t, ch, func(s Snapshot) bool { return s.Connected && len(s.Users) == 1 })

	grace := User{ID: "u2", Name: "Grace", Email: "grace@example.com", JoinedAt: 200, IsActive: true}
	ps.push(map[string]any{"type": "user_joined", "user": grace})
	snap := waitSnapshot(t, ch, func(s Snapshot) bool { return len(s.Users) == 2 })
	assert.Equal(t, "u1", snap.Users[0].ID) // ordered by join time
	assert.Equal(t, "u2", snap.Users[1].ID)

	ps.push(map[string]any{"type": "user_active", "userId": "u1", "isActive": false})
	snap = waitSnapshot(t, ch, func(s Snapshot) bool { return len(s.Users) == 2 && !s.Users[0].IsActive })
	assert.True(t, snap.Users[1].IsActive)

	ps.push(map[string]any{"type": "user_left", "userId": "u1"})
	snap = waitSnapshot(t, ch, func(s Snapshot) bool { return len(s.Users) == 1 })
	assert.Equal(t, "u2", snap.Users[0].ID)
}

func TestMalformedFrameIgnored(t *testing.T) {
	ps := newPresenceServer(t, []User{{ID: "u1"}})
	m := newTestManager(ps)
	defer m.Close()

	cb, ch := collect()
	cancel := m.Subscribe("doc-1", cb)
	defer cancel()

	waitSnapshot(t, ch, func(s Snapshot) bool { return s.Connected && len(s.Users) == 1 })

	ps.mu.Lock()
	for _, conn := range ps.conns {
		conn.WriteMessage(websocket.TextMessage, []byte(`{broken`))
	}
	ps.mu.Unlock()

	// The connection survives and later frames still apply.
	ps.push(map[string]any{"type": "user_joined", "user": User{ID: "u2"}})
	waitSnapshot(t, ch, func(s Snapshot) bool { return len(s.Users) == 2 })
}

func TestHeartbeat(t *testing.T) {
	ps := newPresenceServer(t, nil)
	m := New(Config{
		BaseURL:           ps.baseURL(),
		Token:             "test-token",
		Identity:          Identity{UserID: "u1", UserName: "Ada", UserEmail: "ada@example.com"},
		HeartbeatInterval: 30 * time.Millisecond,
		ReconnectDelay:    50 * time.Millisecond,
	})
	defer m.Close()

	cb, ch := collect()
	cancel := m.Subscribe("doc-1", cb)
	defer cancel()
	waitSnapshot(t, ch, func(s Snapshot) bool { return s.Connected })

	ps.waitFrame("ping")
}

func TestSetActiveSendsFocus(t *testing.T) {
	ps := newPresenceServer(t, nil)
	m := newTestManager(ps)
	defer m.Close()

	cb, ch := collect()
	cancel := m.Subscribe("doc-1", cb)
	defer cancel()
	waitSnapshot(t, ch, func(s Snapshot) bool { return s.Connected })

	m.SetActive(false)
	frame := ps.waitFrame("focus")
	assert.Equal(t, false, frame["isActive"])
}

func TestActivitySourceDrivesFocus(t *testing.T) {
	ps := newPresenceServer(t, nil)
	activity := make(chan bool)
	m := New(Config{
		BaseURL:           ps.baseURL(),
		Token:             "test-token",
		Identity:          Identity{UserID: "u1", UserName: "Ada", UserEmail: "ada@example.com"},
		HeartbeatInterval: time.Hour,
		ReconnectDelay:    50 * time.Millisecond,
		ActivitySource:    activity,
	})
	defer m.Close()

	cb, ch := collect()
	cancel := m.Subscribe("doc-1", cb)
	defer cancel()
	waitSnapshot(t, ch, func(s Snapshot) bool { return s.Connected })

	activity <- false
	frame := ps.waitFrame("focus")
	assert.Equal(t, false, frame["isActive"])
}

func TestSubscriberGetsImmediateSnapshot(t *testing.T) {
	ps := newPresenceServer(t, nil)
	m := newTestManager(ps)
	defer m.Close()

	cb, ch := collect()
	cancel := m.Subscribe("doc-1", cb)
	defer cancel()

	// The very first callback fires synchronously with the (empty,
	// disconnected) cached state; connection state follows.
	snap := <-ch
	require.Empty(t, snap.Users)
	require.False(t, snap.Connected)
}
