package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/echolabs/echo-server/internal/proto"
	"github.com/echolabs/echo-server/internal/store"
)

// SessionStore is the slice of persistence the session needs: membership
// authorization, message inserts, and receipt fan-out. store.Store
// satisfies it.
type SessionStore interface {
	IsMember(ctx context.Context, threadID, userID int64) (bool, error)
	ListMembers(ctx context.Context, threadID int64) ([]int64, error)
	SaveMessage(ctx context.Context, msg *store.Message) error
	CreateReceipts(ctx context.Context, messageID int64, userIDs []int64) error
	MarkDelivered(ctx context.Context, messageID, userID int64, at time.Time) error
}

// Session drives the protocol for one authenticated connection. Inbound
// actions are processed strictly in arrival order by the single goroutine
// running Run; cross-connection concurrency is handled entirely by the
// registries, so the session itself needs no locking beyond the terminal
// cleanup guard.
type Session struct {
	UserID   int64
	Username string

	conn     Conn
	presence *Presence
	rooms    *Rooms
	router   *Router
	store    SessionStore
	log      *zerolog.Logger

	// joined tracks rooms this connection subscribed to; only the session
	// goroutine touches it.
	joined map[int64]struct{}

	cleanupOnce sync.Once
}

// NewSession builds a session for an already-authenticated connection.
func NewSession(userID int64, username string, conn Conn, presence *Presence, rooms *Rooms, router *Router, st SessionStore, logger *zerolog.Logger) *Session {
	return &Session{
		UserID:   userID,
		Username: username,
		conn:     conn,
		presence: presence,
		rooms:    rooms,
		router:   router,
		store:    st,
		log:      logger,
		joined:   make(map[int64]struct{}),
	}
}

// Run registers the connection and processes inbound actions until the
// connection closes or ctx is cancelled. Terminal cleanup runs exactly once
// regardless of how the loop exits.
func (s *Session) Run(ctx context.Context) {
	if s.presence.Connect(s.UserID, s.conn) {
		s.router.ToAllOnline(proto.NewPresenceEvent(s.UserID, s.Username, proto.PresenceOnline))
	}
	defer s.terminate()

	for {
		frame, err := s.conn.Read(ctx)
		if err != nil {
			s.log.Debug().Err(err).Int64("user_id", s.UserID).Msg("session read ended")
			return
		}
		s.handleFrame(ctx, frame)
	}
}

// handleFrame dispatches a single inbound frame. Malformed or unknown
// actions are dropped; they never terminate the session.
func (s *Session) handleFrame(ctx context.Context, frame []byte) {
	var action proto.Action
	if err := json.Unmarshal(frame, &action); err != nil {
		s.log.Debug().Err(err).Int64("user_id", s.UserID).Msg("malformed frame dropped")
		return
	}

	switch action.Action {
	case proto.ActionJoin:
		s.handleJoin(ctx, action)
	case proto.ActionMessage:
		s.handleMessage(ctx, action)
	case proto.ActionTypingStart:
		s.handleTyping(action, true)
	case proto.ActionTypingStop:
		s.handleTyping(action, false)
	default:
		s.log.Debug().Str("action", action.Action).Int64("user_id", s.UserID).Msg("unknown action ignored")
	}
}

func (s *Session) handleJoin(ctx context.Context, action proto.Action) {
	if action.ThreadID == 0 {
		s.fail(0, ErrCodeBadRequest, "thread_id is required")
		return
	}
	if _, ok := s.joined[action.ThreadID]; ok {
		// Live subscription already exists; Join is idempotent and the room
		// was already notified once.
		return
	}

	if err := s.authorize(ctx, action.ThreadID); err != nil {
		s.rejectUnauthorized(action.ThreadID, err)
		return
	}

	s.rooms.Join(action.ThreadID, s.conn)
	s.joined[action.ThreadID] = struct{}{}

	s.router.ToThread(action.ThreadID, proto.NewSystemNotice(action.ThreadID, fmt.Sprintf("%s joined thread", s.Username)))
	s.log.Debug().Int64("user_id", s.UserID).Int64("thread_id", action.ThreadID).Msg("joined room")
}

func (s *Session) handleMessage(ctx context.Context, action proto.Action) {
	if action.ThreadID == 0 {
		s.fail(0, ErrCodeBadRequest, "thread_id is required")
		return
	}

	if err := s.authorize(ctx, action.ThreadID); err != nil {
		s.rejectUnauthorized(action.ThreadID, err)
		return
	}

	// Persist the message and fan out receipts before any broadcast, so a
	// client fetching history right after the event sees consistent state.
	msg := &store.Message{
		ThreadID:      action.ThreadID,
		SenderID:      s.UserID,
		Content:       action.Content,
		ReplyToID:     action.ReplyToID,
		ForwardFromID: action.ForwardFromID,
	}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		s.log.Error().Err(err).Int64("thread_id", action.ThreadID).Msg("save message failed")
		s.fail(action.ThreadID, ErrCodePersistenceFailed, "message could not be saved")
		return
	}

	members, err := s.store.ListMembers(ctx, action.ThreadID)
	if err != nil {
		s.log.Error().Err(err).Int64("thread_id", action.ThreadID).Msg("list members failed")
		s.fail(action.ThreadID, ErrCodePersistenceFailed, "message could not be saved")
		return
	}

	recipients := make([]int64, 0, len(members))
	for _, id := range members {
		if id != s.UserID {
			recipients = append(recipients, id)
		}
	}
	if err := s.store.CreateReceipts(ctx, msg.ID, recipients); err != nil {
		s.log.Error().Err(err).Int64("message_id", msg.ID).Msg("create receipts failed")
		s.fail(action.ThreadID, ErrCodePersistenceFailed, "message could not be saved")
		return
	}

	s.router.ToThread(action.ThreadID, proto.NewMessageEvent(
		msg.ID, msg.ThreadID, s.UserID, s.Username,
		msg.Content, msg.ReplyToID, msg.ForwardFromID, msg.CreatedAt.Unix(),
	))

	// Recipients with a live connection just got the event; stamp their
	// receipts. Best effort, the read path backfills delivery anyway.
	now := time.Now().UTC()
	for _, id := range recipients {
		if !s.presence.Online(id) {
			continue
		}
		if err := s.store.MarkDelivered(ctx, msg.ID, id, now); err != nil {
			s.log.Debug().Err(err).Int64("message_id", msg.ID).Int64("user_id", id).Msg("mark delivered failed")
		}
	}
}

func (s *Session) handleTyping(action proto.Action, isTyping bool) {
	if action.ThreadID == 0 {
		return
	}
	// Only connections that joined may signal typing; the join path already
	// verified membership, so no store hit is needed here.
	if _, ok := s.joined[action.ThreadID]; !ok {
		return
	}
	// Ephemeral; no persistence, delivered only to live room subscribers.
	s.router.ToThread(action.ThreadID, proto.NewTypingEvent(action.ThreadID, s.UserID, s.Username, isTyping))
}

// authorize checks the persisted membership table. Every room-scoped action
// goes through this, never the live room set.
func (s *Session) authorize(ctx context.Context, threadID int64) error {
	member, err := s.store.IsMember(ctx, threadID, s.UserID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !member {
		return ErrNotAMember
	}
	return nil
}

func (s *Session) rejectUnauthorized(threadID int64, err error) {
	if err == ErrNotAMember {
		s.fail(threadID, ErrCodeNotAMember, "not a member of this thread")
		return
	}
	s.log.Error().Err(err).Int64("thread_id", threadID).Msg("membership check failed")
	s.fail(threadID, ErrCodePersistenceFailed, "could not verify membership")
}

// fail surfaces an action failure to the acting client only.
func (s *Session) fail(threadID int64, code, msg string) {
	if err := s.conn.Send(proto.NewSystemError(threadID, code, msg)); err != nil {
		s.log.Debug().Err(err).Int64("user_id", s.UserID).Msg("failed to deliver action failure")
	}
}

// terminate is the session's terminal responsibility: leave every joined
// room, deregister presence, and announce offline if this was the user's
// last connection. Guarded so it runs exactly once per connection.
func (s *Session) terminate() {
	s.cleanupOnce.Do(func() {
		for threadID := range s.joined {
			s.rooms.Leave(threadID, s.conn)
		}
		if s.presence.Disconnect(s.UserID, s.conn) {
			s.router.ToAllOnline(proto.NewPresenceEvent(s.UserID, s.Username, proto.PresenceOffline))
		}
		s.log.Debug().Int64("user_id", s.UserID).Msg("session terminated")
	})
}
