// Package client is the consumer-side presence manager. UI code
// subscribes to a document and receives roster snapshots; the manager owns
// at most one websocket per document no matter how many subscribers share
// it, and recovers dropped connections on its own.
package client

import (
	"encoding/json"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultHeartbeat      = 30 * time.Second
	defaultReconnectDelay = 2 * time.Second
)

// Identity is sent as upgrade parameters. The server cross-checks UserID
// against the authenticated principal.
type Identity struct {
	UserID    string
	UserName  string
	UserEmail string
	UserImage string
}

type Config struct {
	BaseURL  string // e.g. "ws://localhost:8090"
	Token    string // presence JWT issued by the CMS
	Identity Identity

	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration

	// ActivitySource optionally feeds focus changes (true = visible).
	// The embedding UI owns the channel; closing it stops reporting.
	ActivitySource <-chan bool

	Dialer *websocket.Dialer
}

// Snapshot is what subscribers receive: the roster plus connection state.
// Users stays at its last-known value while disconnected.
type Snapshot struct {
	Users     []User
	Connected bool
	Err       error
}

type Callback func(Snapshot)

type Manager struct {
	cfg    Config
	dialer *websocket.Dialer

	mu     sync.Mutex
	docs   map[string]*document
	active bool
}

// document is all per-document state; every field is guarded by the
// manager mutex except wmu, which serializes socket writes.
type document struct {
	id        string
	users     map[string]User
	connected bool
	lastErr   error

	conn *websocket.Conn
	wmu  sync.Mutex
	stop chan struct{}
	gen  int

	reconnect *time.Timer

	subs    map[int]Callback
	nextSub int
}

func New(cfg Config) *Manager {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeat
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	m := &Manager{
		cfg:    cfg,
		dialer: dialer,
		docs:   make(map[string]*document),
		active: true,
	}

	if cfg.ActivitySource != nil {
		go m.watchActivity(cfg.ActivitySource)
	}

	return m
}

// Subscribe registers a roster callback for a document. The first
// subscriber opens the connection; the returned cancel func removes the
// callback and, once no subscribers remain, tears the connection down
// completely so idle documents hold nothing.
func (m *Manager) Subscribe(documentID string, cb Callback) (cancel func()) {
	m.mu.Lock()
	d, ok := m.docs[documentID]
	if !ok {
		d = &document{
			id:    documentID,
			users: make(map[string]User),
			subs:  make(map[int]Callback),
		}
		m.docs[documentID] = d
	}
	id := d.nextSub
	d.nextSub++
	d.subs[id] = cb
	first := len(d.subs) == 1
	snap := d.snapshotLocked()
	m.mu.Unlock()

	cb(snap)
	if first {
		go m.connect(d)
	}

	return func() { m.unsubscribe(d, id) }
}

func (m *Manager) unsubscribe(d *document, id int) {
	m.mu.Lock()
	if _, ok := d.subs[id]; !ok {
		m.mu.Unlock()
		return
	}
	delete(d.subs, id)
	if len(d.subs) > 0 {
		m.mu.Unlock()
		return
	}

	// Last subscriber gone: proactive teardown, not waiting for the
	// server to notice.
	conn := d.conn
	d.conn = nil
	d.connected = false
	d.users = make(map[string]User)
	d.gen++
	if d.reconnect != nil {
		d.reconnect.Stop()
		d.reconnect = nil
	}
	if d.stop != nil {
		close(d.stop)
		d.stop = nil
	}
	delete(m.docs, d.id)
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// SetActive reports the user's focus state on every open connection. The
// server ignores repeats, so callers may be chatty.
func (m *Manager) SetActive(active bool) {
	m.mu.Lock()
	m.active = active
	type target struct {
		d    *document
		conn *websocket.Conn
	}
	var targets []target
	for _, d := range m.docs {
		if d.conn != nil {
			targets = append(targets, target{d, d.conn})
		}
	}
	m.mu.Unlock()

	for _, t := range targets {
		m.write(t.d, t.conn, clientFrame{Type: "focus", IsActive: active})
	}
}

// Close tears down every document's connection and state.
func (m *Manager) Close() {
	m.mu.Lock()
	var conns []*websocket.Conn
	for id, d := range m.docs {
		if d.conn != nil {
			conns = append(conns, d.conn)
			d.conn = nil
		}
		d.connected = false
		d.gen++
		if d.reconnect != nil {
			d.reconnect.Stop()
			d.reconnect = nil
		}
		if d.stop != nil {
			close(d.stop)
			d.stop = nil
		}
		delete(m.docs, id)
	}
	m.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}

func (m *Manager) watchActivity(src <-chan bool) {
	for active := range src {
		m.SetActive(active)
	}
}

func (m *Manager) connect(d *document) {
	m.mu.Lock()
	if len(d.subs) == 0 || d.conn != nil {
		m.mu.Unlock()
		return
	}
	gen := d.gen
	m.mu.Unlock()

	conn, resp, err := m.dialer.Dial(m.endpoint(d.id), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	m.mu.Lock()
	if d.gen != gen || len(d.subs) == 0 {
		m.mu.Unlock()
		if err == nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		d.connected = false
		d.lastErr = err
		m.scheduleReconnectLocked(d)
		snap, subs := d.snapshotLocked(), d.callbacksLocked()
		m.mu.Unlock()
		notify(subs, snap)
		return
	}

	d.gen++
	liveGen := d.gen
	d.conn = conn
	d.connected = true
	d.lastErr = nil
	stop := make(chan struct{})
	d.stop = stop
	wasInactive := !m.active
	snap, subs := d.snapshotLocked(), d.callbacksLocked()
	m.mu.Unlock()

	notify(subs, snap)

	go m.readLoop(d, conn, liveGen)
	go m.heartbeat(d, conn, stop)

	if wasInactive {
		m.write(d, conn, clientFrame{Type: "focus", IsActive: false})
	}
}

func (m *Manager) readLoop(d *document, conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.onClose(d, gen, err)
			return
		}
		m.handleMessage(d, gen, data)
	}
}

func (m *Manager) handleMessage(d *document, gen int, data []byte) {
	var f serverFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return // malformed frames are ignored
	}

	m.mu.Lock()
	if d.gen != gen {
		m.mu.Unlock()
		return
	}

	switch f.Type {
	case "presence":
		d.users = make(map[string]User, len(f.Users))
		for _, u := range f.Users {
			d.users[u.ID] = u
		}
	case "user_joined":
		if f.User != nil {
			d.users[f.User.ID] = *f.User
		}
	case "user_left":
		delete(d.users, f.UserID)
	case "user_active":
		if u, ok := d.users[f.UserID]; ok {
			u.IsActive = f.IsActive
			d.users[f.UserID] = u
		}
	default:
		// pong and anything unknown: nothing to apply
		m.mu.Unlock()
		return
	}

	snap, subs := d.snapshotLocked(), d.callbacksLocked()
	m.mu.Unlock()
	notify(subs, snap)
}

func (m *Manager) onClose(d *document, gen int, err error) {
	m.mu.Lock()
	if d.gen != gen {
		m.mu.Unlock()
		return // a newer connection owns this document
	}
	d.gen++
	d.connected = false
	d.lastErr = err
	if d.stop != nil {
		close(d.stop)
		d.stop = nil
	}
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
	}
	if len(d.subs) > 0 {
		m.scheduleReconnectLocked(d)
	}
	snap, subs := d.snapshotLocked(), d.callbacksLocked()
	m.mu.Unlock()
	notify(subs, snap)
}

// scheduleReconnectLocked replaces any pending timer, keeping the
// one-timer-per-document invariant across overlapping close events.
func (m *Manager) scheduleReconnectLocked(d *document) {
	if d.reconnect != nil {
		d.reconnect.Stop()
	}
	d.reconnect = time.AfterFunc(m.cfg.ReconnectDelay, func() {
		m.mu.Lock()
		d.reconnect = nil
		if len(d.subs) == 0 || d.conn != nil {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
		m.connect(d)
	})
}

func (m *Manager) heartbeat(d *document, conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.write(d, conn, clientFrame{Type: "ping"})
		}
	}
}

// write serializes socket writes; heartbeat and focus reports share the
// connection with nothing else, the read side never writes.
func (m *Manager) write(d *document, conn *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	d.wmu.Lock()
	defer d.wmu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

func (m *Manager) endpoint(documentID string) string {
	q := url.Values{}
	if m.cfg.Token != "" {
		q.Set("token", m.cfg.Token)
	}
	id := m.cfg.Identity
	if id.UserID != "" {
		q.Set("userId", id.UserID)
	}
	if id.UserName != "" {
		q.Set("userName", id.UserName)
	}
	if id.UserEmail != "" {
		q.Set("userEmail", id.UserEmail)
	}
	if id.UserImage != "" {
		q.Set("userImage", id.UserImage)
	}
	return m.cfg.BaseURL + "/presence/" + url.PathEscape(documentID) + "?" + q.Encode()
}

func (d *document) snapshotLocked() Snapshot {
	users := make([]User, 0, len(d.users))
	for _, u := range d.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].JoinedAt != users[j].JoinedAt {
			return users[i].JoinedAt < users[j].JoinedAt
		}
		return users[i].ID < users[j].ID
	})
	return Snapshot{Users: users, Connected: d.connected, Err: d.lastErr}
}

func (d *document) callbacksLocked() []Callback {
	out := make([]Callback, 0, len(d.subs))
	for _, cb := range d.subs {
		out = append(out, cb)
	}
	return out
}

func notify(subs []Callback, snap Snapshot) {
	for _, cb := range subs {
		cb(snap)
	}
}
