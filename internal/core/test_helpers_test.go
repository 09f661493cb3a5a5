package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/echolabs/echo-server/internal/proto"
	"github.com/echolabs/echo-server/internal/store"
)

// fakeConn is an in-memory Conn. Inbound frames are fed through a channel;
// everything sent to the connection is recorded and also published on recv
// for polling assertions.
type fakeConn struct {
	frames chan []byte

	mu       sync.Mutex
	sent     []proto.Event
	failSend bool

	recv chan proto.Event
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 16),
		recv:   make(chan proto.Event, 64),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-c.frames:
		if !ok {
			return nil, errors.New("connection closed")
		}
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Send(ev proto.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend {
		return errors.New("send failed")
	}
	c.sent = append(c.sent, ev)
	select {
	case c.recv <- ev:
	default:
	}
	return nil
}

func (c *fakeConn) setFailSend(fail bool) {
	c.mu.Lock()
	c.failSend = fail
	c.mu.Unlock()
}

func (c *fakeConn) sentEvents() []proto.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]proto.Event, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeConn) countType(eventType string) int {
	n := 0
	for _, ev := range c.sentEvents() {
		if ev.EventType() == eventType {
			n++
		}
	}
	return n
}

// close ends the session's read loop the way a client disconnect would.
func (c *fakeConn) close() { close(c.frames) }

// fakeStore is an in-memory SessionStore.
type fakeStore struct {
	mu        sync.Mutex
	members   map[int64][]int64
	messages  []*store.Message
	receipts  map[int64][]int64
	delivered map[int64][]int64
	failSave  bool
	nextID    int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		members:   make(map[int64][]int64),
		receipts:  make(map[int64][]int64),
		delivered: make(map[int64][]int64),
	}
}

func (s *fakeStore) setFailSave(fail bool) {
	s.mu.Lock()
	s.failSave = fail
	s.mu.Unlock()
}

func (s *fakeStore) addMember(threadID, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[threadID] = append(s.members[threadID], userID)
}

func (s *fakeStore) IsMember(_ context.Context, threadID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.members[threadID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) ListMembers(_ context.Context, threadID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.members[threadID]))
	copy(out, s.members[threadID])
	return out, nil
}

func (s *fakeStore) SaveMessage(_ context.Context, msg *store.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return errors.New("database unavailable")
	}
	s.nextID++
	msg.ID = s.nextID
	msg.CreatedAt = time.Now()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *fakeStore) CreateReceipts(_ context.Context, messageID int64, userIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts[messageID] = append(s.receipts[messageID], userIDs...)
	return nil
}

func (s *fakeStore) MarkDelivered(_ context.Context, messageID, userID int64, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered[messageID] = append(s.delivered[messageID], userID)
	return nil
}

func (s *fakeStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *fakeStore) receiptsFor(messageID int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.receipts[messageID]))
	copy(out, s.receipts[messageID])
	return out
}

func (s *fakeStore) deliveredFor(messageID int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.delivered[messageID]))
	copy(out, s.delivered[messageID])
	return out
}

// mustEvent polls conn's receive channel until an event with the wanted type
// tag arrives, skipping everything else.
func mustEvent(t *testing.T, conn *fakeConn, eventType string) proto.Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-conn.recv:
			if ev.EventType() == eventType {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event type %q not received", eventType)
	return nil
}

// mustNoEvent asserts that no event of the given type shows up within the
// settle window.
func mustNoEvent(t *testing.T, conn *fakeConn, eventType string) {
	t.Helper()

	time.Sleep(100 * time.Millisecond)
	if n := conn.countType(eventType); n != 0 {
		t.Fatalf("expected no %q events, got %d", eventType, n)
	}
}
