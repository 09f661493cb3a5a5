package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// User represents a registered account.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
}

// Thread represents a conversation, either 1:1 or group.
type Thread struct {
	ID        int64
	Name      string
	IsGroup   bool
	CreatedBy int64
	CreatedAt time.Time
}

// ThreadMember represents persisted thread membership. This is distinct from
// a live room subscription: membership is the authorization record.
type ThreadMember struct {
	ThreadID int64
	UserID   int64
	IsAdmin  bool
}

// Message represents a persisted chat message. FilePath holds the
// upload-dir-relative stored name for attachment messages, Content the text.
type Message struct {
	ID            int64
	ThreadID      int64
	SenderID      int64
	Content       string
	ReplyToID     *int64
	ForwardFromID *int64
	FilePath      *string
	CreatedAt     time.Time
}

// Receipt tracks per-recipient delivery and read state for a message.
// A freshly fanned-out receipt has both timestamps unset.
type Receipt struct {
	MessageID   int64
	UserID      int64
	DeliveredAt *time.Time
	ReadAt      *time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, email, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// ThreadStore handles thread and membership persistence.
type ThreadStore interface {
	// CreateThread creates a thread and adds the creator as admin member.
	CreateThread(ctx context.Context, name string, isGroup bool, createdBy int64) (*Thread, error)

	// GetThreadByID retrieves a thread by ID.
	GetThreadByID(ctx context.Context, id int64) (*Thread, error)

	// ListThreads lists threads the user is a member of.
	ListThreads(ctx context.Context, userID int64) ([]*Thread, error)

	// AddMember adds a user to a thread. Idempotent.
	AddMember(ctx context.Context, threadID, userID int64, isAdmin bool) error

	// RemoveMember removes a user from a thread.
	RemoveMember(ctx context.Context, threadID, userID int64) error

	// SetMemberAdmin promotes or demotes a member.
	SetMemberAdmin(ctx context.Context, threadID, userID int64, isAdmin bool) error

	// IsMember reports whether the user is a persisted member of the thread.
	IsMember(ctx context.Context, threadID, userID int64) (bool, error)

	// IsAdmin reports whether the user is an admin member of the thread.
	IsAdmin(ctx context.Context, threadID, userID int64) (bool, error)

	// ListMembers lists user IDs of all members of a thread.
	ListMembers(ctx context.Context, threadID int64) ([]int64, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a message and fills in its ID and CreatedAt.
	SaveMessage(ctx context.Context, msg *Message) error

	// GetMessageByID retrieves a message by ID.
	GetMessageByID(ctx context.Context, id int64) (*Message, error)

	// ListMessages retrieves messages from a thread, newest first.
	// If beforeID is provided, returns messages older than that ID.
	ListMessages(ctx context.Context, threadID int64, limit int, beforeID *int64) ([]*Message, error)
}

// ReceiptStore handles delivery/read receipt persistence.
type ReceiptStore interface {
	// CreateReceipts inserts one undelivered receipt per recipient.
	CreateReceipts(ctx context.Context, messageID int64, userIDs []int64) error

	// MarkDelivered stamps the recipient's receipt as delivered.
	MarkDelivered(ctx context.Context, messageID, userID int64, at time.Time) error

	// MarkRead stamps the recipient's receipt as read (and delivered if not
	// already). Returns ErrNotFound if no receipt exists for the pair.
	MarkRead(ctx context.Context, messageID, userID int64, at time.Time) error

	// ListReceipts lists receipts for a message.
	ListReceipts(ctx context.Context, messageID int64) ([]*Receipt, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ThreadStore
	MessageStore
	ReceiptStore

	// Close closes the underlying database connection.
	Close() error
}
