package core

import (
	"sync"

	"github.com/echolabs/echo-server/internal/proto"
)

// Rooms maps thread IDs to the set of connections currently subscribed to
// that thread's real-time events. A room subscription is independent of
// persisted thread membership; authorization happens before Join is called.
//
// Safe for concurrent use; broadcasts iterate a snapshot of the room so
// joins and leaves during delivery never corrupt iteration.
type Rooms struct {
	mu    sync.Mutex
	rooms map[int64]map[Conn]struct{}
}

// NewRooms constructs an empty room registry.
func NewRooms() *Rooms {
	return &Rooms{
		rooms: make(map[int64]map[Conn]struct{}),
	}
}

// Join subscribes conn to the thread's room. Idempotent.
func (r *Rooms) Join(threadID int64, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.rooms[threadID]
	if !ok {
		conns = make(map[Conn]struct{})
		r.rooms[threadID] = conns
	}
	conns[conn] = struct{}{}
}

// Leave unsubscribes conn from the thread's room. Idempotent. An emptied
// room is deleted so memory stays bounded by active rooms.
func (r *Rooms) Leave(threadID int64, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.rooms[threadID]
	if !ok {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(r.rooms, threadID)
	}
}

// Count returns the number of connections currently joined to the thread.
func (r *Rooms) Count(threadID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[threadID])
}

// Broadcast delivers ev to every connection joined to the thread. Any
// connection whose send fails is removed from the room, so membership
// self-heals as dead sockets are discovered.
func (r *Rooms) Broadcast(threadID int64, ev proto.Event) {
	r.mu.Lock()
	conns := make([]Conn, 0, len(r.rooms[threadID]))
	for conn := range r.rooms[threadID] {
		conns = append(conns, conn)
	}
	r.mu.Unlock()

	for _, conn := range conns {
		if err := conn.Send(ev); err != nil {
			r.Leave(threadID, conn)
		}
	}
}
