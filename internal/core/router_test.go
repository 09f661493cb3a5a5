package core

import (
	"testing"

	"github.com/echolabs/echo-server/internal/proto"
)

func TestRouterScopes(t *testing.T) {
	presence := NewPresence()
	rooms := NewRooms()
	router := NewRouter(presence, rooms)

	alice := newFakeConn()
	bob := newFakeConn()
	presence.Connect(1, alice)
	presence.Connect(2, bob)
	rooms.Join(5, alice)

	router.ToThread(5, proto.NewSystemNotice(5, "room"))
	if len(alice.sentEvents()) != 1 || len(bob.sentEvents()) != 0 {
		t.Fatal("ToThread must reach only room subscribers")
	}

	router.ToAllOnline(proto.NewPresenceEvent(3, "carol", proto.PresenceOnline))
	if len(alice.sentEvents()) != 2 || len(bob.sentEvents()) != 1 {
		t.Fatal("ToAllOnline must reach every online connection")
	}

	router.ToUser(2, proto.NewThreadAddedEvent(5, "general", true))
	if len(bob.sentEvents()) != 2 {
		t.Fatal("ToUser must reach the targeted user")
	}
	if len(alice.sentEvents()) != 2 {
		t.Fatal("ToUser must not reach other users")
	}
}
