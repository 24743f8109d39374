package presence

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"presence-service/internal/registry"
)

// Hub owns the per-document live-connection index and hands operations to
// the right room, creating rooms on demand. The connection index, not any
// room's session map, is the authoritative answer to "who is connected";
// rooms are caches rebuilt from it (plus the registry) at any time.
type Hub struct {
	store registry.Store

	mu    sync.Mutex
	conns map[string]map[*Conn]struct{}
	rooms map[string]*Room
}

func NewHub(store registry.Store) *Hub {
	return &Hub{
		store: store,
		conns: make(map[string]map[*Conn]struct{}),
		rooms: make(map[string]*Room),
	}
}

// Join records the attachment durably, registers the socket and starts its
// pumps. The room (created here if needed) then admits the connection.
func (h *Hub) Join(ctx context.Context, att registry.Attachment, ws *websocket.Conn) (*Conn, error) {
	if err := h.store.Put(ctx, att); err != nil {
		return nil, err
	}

	c := newConn(att, ws, h)
	h.admit(c)

	go c.writePump()
	go c.readPump()
	return c, nil
}

// admit makes the connection visible and queues its join. Whether this is
// the user's sole connection is decided here, under the lock, so the join
// is announced exactly once per arrival no matter which room instance ends
// up handling it.
func (h *Hub) admit(c *Conn) {
	h.mu.Lock()
	// Resolve (and if needed rebuild) the room before the new connection
	// becomes visible, so the rebuild cannot double-count it.
	h.roomLocked(c.att.RoomID)
	set, ok := h.conns[c.att.RoomID]
	if !ok {
		set = make(map[*Conn]struct{})
		h.conns[c.att.RoomID] = set
	}
	sole := true
	for other := range set {
		if other.att.UserID == c.att.UserID {
			sole = false
			break
		}
	}
	set[c] = struct{}{}
	h.mu.Unlock()

	h.dispatch(c.att.RoomID, command{op: opJoin, conn: c, sole: sole})
}

// leave is idempotent; close and error paths both land here.
func (h *Hub) leave(c *Conn) {
	h.mu.Lock()
	set, ok := h.conns[c.att.RoomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, live := set[c]; !live {
		h.mu.Unlock()
		return
	}
	delete(set, c)
	sole := true
	for other := range set {
		if other.att.UserID == c.att.UserID {
			sole = false
			break
		}
	}
	if len(set) == 0 {
		delete(h.conns, c.att.RoomID)
	}
	h.mu.Unlock()

	h.dispatch(c.att.RoomID, command{op: opLeave, conn: c, sole: sole})
}

// deliver routes an inbound frame, recreating the room if it was dropped
// between messages.
func (h *Hub) deliver(c *Conn, data []byte) {
	h.dispatch(c.att.RoomID, command{op: opFrame, conn: c, data: data})
}

// Roster returns the current roster for a document, or nil when nothing is
// connected to it.
func (h *Hub) Roster(roomID string) []User {
	h.mu.Lock()
	known := h.rooms[roomID] != nil || len(h.conns[roomID]) > 0
	h.mu.Unlock()
	if !known {
		return nil
	}

	reply := make(chan []User, 1)
	h.dispatch(roomID, command{op: opRoster, reply: reply})
	return <-reply
}

// Evict drops the room instance while leaving its connections untouched;
// the next operation rebuilds it from the live set and the registry. Used
// to exercise the rebuild path.
func (h *Hub) Evict(roomID string) {
	h.mu.Lock()
	if room := h.rooms[roomID]; room != nil {
		h.removeLocked(room)
	}
	h.mu.Unlock()
}

// Close tears down every connection and room; used on shutdown. Pending
// roster queries are answered with nil, other queued commands are moot
// once their sockets are gone.
func (h *Hub) Close() {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for id, room := range h.rooms {
		rooms = append(rooms, room)
		delete(h.rooms, id)
	}
	var conns []*Conn
	for id, set := range h.conns {
		for c := range set {
			conns = append(conns, c)
		}
		delete(h.conns, id)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.shutdown()
	}
	for _, room := range rooms {
		for _, cmd := range room.detach() {
			if cmd.op == opRoster {
				cmd.reply <- nil
			}
		}
	}
}

// retire drops a room that reports itself empty, unless connections have
// arrived since.
func (h *Hub) retire(r *Room) {
	h.mu.Lock()
	if h.rooms[r.id] == r && len(h.conns[r.id]) == 0 {
		h.removeLocked(r)
	}
	h.mu.Unlock()
}

// removeLocked detaches a room from the index. When the room still held
// accepted commands, its successor is built right here, seeded with them,
// so nothing posted through dispatch can slip in between and reorder.
// Callers hold h.mu.
func (h *Hub) removeLocked(r *Room) {
	delete(h.rooms, r.id)
	if leftover := r.detach(); len(leftover) > 0 {
		h.rooms[r.id] = newRoom(r.id, h, h.liveLocked(r.id), leftover)
	}
}

// ConnectionCount reports the number of live connections for a document.
func (h *Hub) ConnectionCount(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[roomID])
}

// connections snapshots the live-connection list for a room.
func (h *Hub) connections(roomID string) []*Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.conns[roomID]
	out := make([]*Conn, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// roomLocked returns the live room, building one from the current
// connection set when none exists. Callers hold h.mu.
func (h *Hub) roomLocked(roomID string) *Room {
	if room, ok := h.rooms[roomID]; ok {
		return room
	}
	room := newRoom(roomID, h, h.liveLocked(roomID), nil)
	h.rooms[roomID] = room
	return room
}

func (h *Hub) liveLocked(roomID string) []*Conn {
	live := make([]*Conn, 0, len(h.conns[roomID]))
	for c := range h.conns[roomID] {
		live = append(live, c)
	}
	return live
}

// dispatch posts to the room, riding over evictions by re-resolving it.
func (h *Hub) dispatch(roomID string, cmd command) {
	for {
		h.mu.Lock()
		room := h.roomLocked(roomID)
		h.mu.Unlock()
		if room.post(cmd) {
			return
		}
	}
}
