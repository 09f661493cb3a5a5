package core

import (
	"sync"

	"github.com/echolabs/echo-server/internal/proto"
)

// Presence tracks which users have live connections. A user may be connected
// from several devices at once; the registry reports only the 0↔1+
// transitions so callers can emit a single online/offline event per user.
//
// All methods are safe for concurrent use. Mutations are serialized by a
// single mutex; sends iterate a snapshot taken under the lock so a
// concurrent connect/disconnect never invalidates an in-flight broadcast.
type Presence struct {
	mu    sync.Mutex
	users map[int64]map[Conn]struct{}

	// pendingOffline holds users whose last connection was pruned before its
	// session deregistered. The transition is handed to the next Disconnect
	// for that user so the offline event still fires exactly once.
	pendingOffline map[int64]struct{}
}

// NewPresence constructs an empty presence registry.
func NewPresence() *Presence {
	return &Presence{
		users:          make(map[int64]map[Conn]struct{}),
		pendingOffline: make(map[int64]struct{}),
	}
}

// Connect registers conn under userID. Returns true iff this is the user's
// first live connection.
func (p *Presence) Connect(userID int64, conn Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns, ok := p.users[userID]
	if !ok {
		conns = make(map[Conn]struct{})
		p.users[userID] = conns
	}
	conns[conn] = struct{}{}

	// Reconnecting before a pruned transition was reported: watchers never
	// saw the user leave, so this is not a fresh online transition.
	if _, pending := p.pendingOffline[userID]; pending {
		delete(p.pendingOffline, userID)
		return false
	}
	return !ok
}

// Disconnect removes conn from userID's set. Returns true iff the user has
// no remaining connections and the offline transition has not been reported
// yet. When a prune already took the user's last connection, the first
// Disconnect for that user claims the pending transition.
func (p *Presence) Disconnect(userID int64, conn Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns, ok := p.users[userID]
	if !ok {
		if _, pending := p.pendingOffline[userID]; pending {
			delete(p.pendingOffline, userID)
			return true
		}
		return false
	}
	if _, present := conns[conn]; !present {
		return false
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(p.users, userID)
		return true
	}
	return false
}

// Online reports whether the user has at least one live connection.
func (p *Presence) Online(userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.users[userID]
	return ok
}

// ListOnline returns the IDs of all users with at least one live connection.
func (p *Presence) ListOnline() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]int64, 0, len(p.users))
	for id := range p.users {
		ids = append(ids, id)
	}
	return ids
}

// SendToUser delivers ev to every live connection of userID, best effort.
// Connections whose send fails are pruned from the registry; failures are
// never surfaced to the caller.
func (p *Presence) SendToUser(userID int64, ev proto.Event) {
	p.mu.Lock()
	conns := make([]Conn, 0, len(p.users[userID]))
	for conn := range p.users[userID] {
		conns = append(conns, conn)
	}
	p.mu.Unlock()

	for _, conn := range conns {
		if err := conn.Send(ev); err != nil {
			p.prune(userID, conn)
		}
	}
}

// Broadcast delivers ev to every connection of every online user.
func (p *Presence) Broadcast(ev proto.Event) {
	type entry struct {
		userID int64
		conn   Conn
	}

	p.mu.Lock()
	snapshot := make([]entry, 0, len(p.users))
	for userID, conns := range p.users {
		for conn := range conns {
			snapshot = append(snapshot, entry{userID: userID, conn: conn})
		}
	}
	p.mu.Unlock()

	for _, e := range snapshot {
		if err := e.conn.Send(ev); err != nil {
			p.prune(e.userID, e.conn)
		}
	}
}

// prune drops a dead connection. The user entry is deleted when its set
// empties, keeping the registry's "entry iff ≥1 connection" invariant. An
// emptied set is a real ≥1→0 transition, so it is parked in pendingOffline
// for the pruned connection's terminating session to report.
func (p *Presence) prune(userID int64, conn Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns, ok := p.users[userID]
	if !ok {
		return
	}
	if _, present := conns[conn]; !present {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(p.users, userID)
		p.pendingOffline[userID] = struct{}{}
	}
}
