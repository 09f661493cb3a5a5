package core

import (
	"context"
	"errors"
	"testing"

	"github.com/echolabs/echo-server/internal/proto"
)

// benchConn is the cheapest possible Conn: Send only counts deliveries.
type benchConn struct {
	delivered int
}

func (c *benchConn) Read(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, errors.New("closed")
}

func (c *benchConn) Send(proto.Event) error {
	c.delivered++
	return nil
}

func benchmarkRoomBroadcast(b *testing.B, recipients int) {
	rooms := NewRooms()
	for i := 0; i < recipients; i++ {
		rooms.Join(1, &benchConn{})
	}

	ev := proto.NewMessageEvent(1, 1, 1, "sender", "payload", nil, nil, 0)

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		rooms.Broadcast(1, ev)
	}
}

func BenchmarkRoomBroadcast_10(b *testing.B)  { benchmarkRoomBroadcast(b, 10) }
func BenchmarkRoomBroadcast_100(b *testing.B) { benchmarkRoomBroadcast(b, 100) }
func BenchmarkRoomBroadcast_500(b *testing.B) { benchmarkRoomBroadcast(b, 500) }
