package core

import "github.com/echolabs/echo-server/internal/proto"

// Router fans events out to one of two scopes: a single thread's room or
// every online user. Global scope is reserved for presence and membership
// notifications; chat content always stays thread-scoped.
type Router struct {
	presence *Presence
	rooms    *Rooms
}

// NewRouter composes the two registries into a broadcast router.
func NewRouter(presence *Presence, rooms *Rooms) *Router {
	return &Router{presence: presence, rooms: rooms}
}

// ToThread delivers ev to every connection joined to the thread's room.
func (r *Router) ToThread(threadID int64, ev proto.Event) {
	r.rooms.Broadcast(threadID, ev)
}

// ToAllOnline delivers ev to every connection of every online user.
func (r *Router) ToAllOnline(ev proto.Event) {
	r.presence.Broadcast(ev)
}

// ToUser delivers ev to all of one user's connections.
func (r *Router) ToUser(userID int64, ev proto.Event) {
	r.presence.SendToUser(userID, ev)
}
