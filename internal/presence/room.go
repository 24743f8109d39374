package presence

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"presence-service/internal/logger"
	"presence-service/internal/registry"
)

type commandOp int

const (
	opJoin commandOp = iota
	opLeave
	opFrame
	opRoster
)

type command struct {
	op    commandOp
	conn  *Conn
	data  []byte
	reply chan []User

	// sole is set by the hub under its lock: the connection is the user's
	// only live one at the moment the hub admitted or removed it. Rooms
	// trust it to announce user_joined and user_left exactly once per
	// arrival or departure, no matter which room instance handles the
	// command.
	sole bool
}

// Room is the authoritative roster holder and broadcaster for one
// document. All operations run on its single goroutine, so the session
// map needs no lock; independent documents run independent rooms.
//
// A Room is disposable: the hub drops it when its last connection leaves
// (or on an explicit evict), and the next operation rebuilds a fresh one
// from the live connections and their registry attachments.
type Room struct {
	id  string
	hub *Hub

	sessions map[string]*session

	mu      sync.Mutex
	queue   []command
	stopped bool
	wake    chan struct{}
}

// newRoom builds a room from the live connections' attachments. seed
// carries commands the predecessor room accepted but never handled; they
// run before anything posted to this room.
func newRoom(id string, hub *Hub, live []*Conn, seed []command) *Room {
	r := &Room{
		id:       id,
		hub:      hub,
		sessions: rebuildSessions(attachmentsFor(hub.store, live)),
		queue:    seed,
		wake:     make(chan struct{}, 1),
	}
	if len(seed) > 0 {
		r.wake <- struct{}{}
	}
	go r.run()
	return r
}

// attachmentsFor resolves each live connection's attachment, preferring
// the registry record over the in-memory copy.
func attachmentsFor(store registry.Store, live []*Conn) []registry.Attachment {
	atts := make([]registry.Attachment, 0, len(live))
	for _, c := range live {
		att, err := store.Get(context.Background(), c.id)
		if err != nil || att == nil {
			a := c.att
			att = &a
		}
		atts = append(atts, *att)
	}
	return atts
}

// rebuildSessions merges connection attachments into a session map. It is
// the only way a session map is ever created; a previous in-memory map is
// never assumed to exist.
func rebuildSessions(atts []registry.Attachment) map[string]*session {
	sessions := make(map[string]*session)
	for _, att := range atts {
		if att.UserID == "" {
			continue
		}
		s, ok := sessions[att.UserID]
		if !ok {
			sessions[att.UserID] = &session{
				user:  userFromAttachment(att),
				conns: map[string]struct{}{att.ConnID: {}},
			}
			continue
		}
		s.conns[att.ConnID] = struct{}{}
		if att.JoinedAt < s.user.JoinedAt {
			s.user.JoinedAt = att.JoinedAt
		}
		if !att.IsActive {
			s.user.IsActive = false
		}
	}
	return sessions
}

// run handles commands strictly in arrival order. A stopped room's queue
// has already been surrendered via detach, so observing stopped means
// there is nothing left to do.
func (r *Room) run() {
	for {
		<-r.wake
		for {
			r.mu.Lock()
			if r.stopped {
				r.mu.Unlock()
				return
			}
			if len(r.queue) == 0 {
				r.queue = nil
				r.mu.Unlock()
				break
			}
			cmd := r.queue[0]
			r.queue = r.queue[1:]
			r.mu.Unlock()

			r.handle(cmd)
		}
	}
}

// post queues a command unless the room has been stopped; callers fall
// back to the hub to reach the room's successor. The append happens under
// the same lock as the stopped check, so a command is either rejected
// here or guaranteed to reach detach or run.
func (r *Room) post(cmd command) bool {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return false
	}
	r.queue = append(r.queue, cmd)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return true
}

// detach stops the room and surrenders whatever it had not yet handled.
// The hub calls it while holding its own lock, atomically with dropping
// the room from the index, and seeds the successor with the leftovers so
// accepted commands are neither lost nor reordered across the swap.
func (r *Room) detach() []command {
	r.mu.Lock()
	r.stopped = true
	leftover := r.queue
	r.queue = nil
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return leftover
}

func (r *Room) handle(cmd command) {
	switch cmd.op {
	case opJoin:
		r.handleJoin(cmd.conn, cmd.sole)
	case opLeave:
		r.handleLeave(cmd.conn, cmd.sole)
	case opFrame:
		r.handleFrame(cmd.conn, cmd.data)
	case opRoster:
		cmd.reply <- r.roster()
		if len(r.sessions) == 0 {
			r.hub.retire(r)
		}
	}
}

func (r *Room) handleJoin(c *Conn, sole bool) {
	uid := c.att.UserID

	s, ok := r.sessions[uid]
	if !ok {
		s = &session{
			user:  userFromAttachment(c.att),
			conns: map[string]struct{}{c.id: {}},
		}
		r.sessions[uid] = s
	} else if _, seen := s.conns[c.id]; !seen {
		s.conns[c.id] = struct{}{}
		if s.user.IsActive != c.att.IsActive {
			// A new tab must not flip the user's focus state; align its
			// durable record with the session instead.
			if err := r.hub.store.SetActive(context.Background(), c.id, s.user.IsActive); err != nil {
				logger.Error("registry set_active failed", map[string]any{
					"connId": c.id, "error": err.Error(),
				})
			}
		}
	}

	if sole {
		r.broadcast(marshalJoined(s.user), uid)
	}

	// Full snapshot goes to the new connection alone, never broadcast.
	c.trySend(marshalPresence(r.roster()))
}

func (r *Room) handleLeave(c *Conn, sole bool) {
	if err := r.hub.store.Delete(context.Background(), c.id); err != nil {
		logger.Error("registry delete failed", map[string]any{
			"connId": c.id, "error": err.Error(),
		})
	}

	// User id comes from the attachment; sockets are never scanned.
	uid := c.att.UserID
	if s, ok := r.sessions[uid]; ok {
		delete(s.conns, c.id)
	}

	// The live set is re-checked so a departure handled after the same
	// user reconnected does not retract them.
	if sole && !r.userLive(uid) {
		delete(r.sessions, uid)
		r.broadcast(marshalLeft(uid), "")
	}

	if len(r.sessions) == 0 {
		r.hub.retire(r)
	}
}

func (r *Room) handleFrame(c *Conn, data []byte) {
	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return // unparseable payloads are dropped silently
	}

	switch frame.Type {
	case TypePing:
		// Liveness probe: reply to the sender only, no state change.
		c.trySend(marshalPong())
		if err := r.hub.store.Touch(context.Background(), c.id); err != nil {
			logger.Error("registry touch failed", map[string]any{
				"connId": c.id, "error": err.Error(),
			})
		}

	case TypeFocus:
		uid := c.att.UserID
		s, ok := r.sessions[uid]
		if !ok || s.user.IsActive == frame.IsActive {
			return // unchanged values produce no broadcast
		}
		s.user.IsActive = frame.IsActive
		r.persistActive(uid, frame.IsActive)
		r.broadcast(marshalActive(uid, frame.IsActive), uid)
	}
}

// userLive reports whether the hub still holds a live connection for the
// user in this room.
func (r *Room) userLive(userID string) bool {
	for _, c := range r.hub.connections(r.id) {
		if c.att.UserID == userID {
			return true
		}
	}
	return false
}

// persistActive updates every one of the user's connection records so a
// rebuilt roster agrees with the one being replaced.
func (r *Room) persistActive(userID string, active bool) {
	for _, c := range r.hub.connections(r.id) {
		if c.att.UserID != userID {
			continue
		}
		if err := r.hub.store.SetActive(context.Background(), c.id, active); err != nil {
			logger.Error("registry set_active failed", map[string]any{
				"connId": c.id, "error": err.Error(),
			})
		}
	}
}

// broadcast sends one serialized frame to every live connection in the
// room except those belonging to excludeUserID. The hub's connection list
// is the authoritative source; sends are best-effort.
func (r *Room) broadcast(data []byte, excludeUserID string) {
	for _, c := range r.hub.connections(r.id) {
		if excludeUserID != "" && c.att.UserID == excludeUserID {
			continue
		}
		c.trySend(data)
	}
}

func (r *Room) roster() []User {
	users := make([]User, 0, len(r.sessions))
	for _, s := range r.sessions {
		users = append(users, s.user)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].JoinedAt != users[j].JoinedAt {
			return users[i].JoinedAt < users[j].JoinedAt
		}
		return users[i].ID < users[j].ID
	})
	return users
}
