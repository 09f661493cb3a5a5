package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/echolabs/echo-server/internal/store"
)

// schema is applied on open; CREATE TABLE IF NOT EXISTS keeps restarts cheap.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT NOT NULL UNIQUE,
	email         TEXT,
	password_hash TEXT NOT NULL,
	is_active     BOOLEAN NOT NULL DEFAULT 1,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS threads (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	is_group   BOOLEAN NOT NULL DEFAULT 0,
	created_by INTEGER NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (created_by) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS thread_members (
	thread_id INTEGER NOT NULL,
	user_id   INTEGER NOT NULL,
	is_admin  BOOLEAN NOT NULL DEFAULT 0,
	PRIMARY KEY (thread_id, user_id),
	FOREIGN KEY (thread_id) REFERENCES threads(id),
	FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS messages (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	thread_id       INTEGER NOT NULL,
	sender_id       INTEGER NOT NULL,
	content         TEXT NOT NULL DEFAULT '',
	reply_to_id     INTEGER,
	forward_from_id INTEGER,
	file_path       TEXT,
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (thread_id) REFERENCES threads(id),
	FOREIGN KEY (sender_id) REFERENCES users(id),
	FOREIGN KEY (reply_to_id) REFERENCES messages(id),
	FOREIGN KEY (forward_from_id) REFERENCES messages(id)
);

CREATE TABLE IF NOT EXISTS message_receipts (
	message_id   INTEGER NOT NULL,
	user_id      INTEGER NOT NULL,
	delivered_at DATETIME,
	read_at      DATETIME,
	PRIMARY KEY (message_id, user_id),
	FOREIGN KEY (message_id) REFERENCES messages(id),
	FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, id DESC);
CREATE INDEX IF NOT EXISTS idx_thread_members_user ON thread_members(user_id);
CREATE INDEX IF NOT EXISTS idx_receipts_user ON message_receipts(user_id);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a custom schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, email, passwordHash string) (*store.User, error) {
	query := `
		INSERT INTO users (username, email, password_hash)
		VALUES (?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, username, email, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	query := `
		SELECT id, username, COALESCE(email, ''), password_hash, is_active, created_at
		FROM users
		WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, COALESCE(email, ''), password_hash, is_active, created_at
		FROM users
		WHERE username = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, username))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*store.User, error) {
	var user store.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.IsActive,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// ==== ThreadStore implementation ====

// CreateThread creates a thread and adds the creator as admin member.
func (s *SQLiteStore) CreateThread(ctx context.Context, name string, isGroup bool, createdBy int64) (*store.Thread, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO threads (name, is_group, created_by)
		VALUES (?, ?, ?)
	`, name, isGroup, createdBy)
	if err != nil {
		return nil, fmt.Errorf("insert thread: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO thread_members (thread_id, user_id, is_admin)
		VALUES (?, ?, 1)
	`, id, createdBy); err != nil {
		return nil, fmt.Errorf("insert creator membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return s.GetThreadByID(ctx, id)
}

// GetThreadByID retrieves a thread by ID.
func (s *SQLiteStore) GetThreadByID(ctx context.Context, id int64) (*store.Thread, error) {
	query := `
		SELECT id, name, is_group, created_by, created_at
		FROM threads
		WHERE id = ?
	`
	var thread store.Thread
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&thread.ID,
		&thread.Name,
		&thread.IsGroup,
		&thread.CreatedBy,
		&thread.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("thread: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query thread: %w", err)
	}

	return &thread, nil
}

// ListThreads lists threads the user is a member of.
func (s *SQLiteStore) ListThreads(ctx context.Context, userID int64) ([]*store.Thread, error) {
	query := `
		SELECT t.id, t.name, t.is_group, t.created_by, t.created_at
		FROM threads t
		JOIN thread_members m ON m.thread_id = t.id
		WHERE m.user_id = ?
		ORDER BY t.id
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query threads: %w", err)
	}
	defer rows.Close()

	threads := make([]*store.Thread, 0)
	for rows.Next() {
		var thread store.Thread
		if err := rows.Scan(&thread.ID, &thread.Name, &thread.IsGroup, &thread.CreatedBy, &thread.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		threads = append(threads, &thread)
	}

	return threads, rows.Err()
}

// AddMember adds a user to a thread. Idempotent.
func (s *SQLiteStore) AddMember(ctx context.Context, threadID, userID int64, isAdmin bool) error {
	query := `
		INSERT INTO thread_members (thread_id, user_id, is_admin)
		VALUES (?, ?, ?)
		ON CONFLICT (thread_id, user_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, threadID, userID, isAdmin); err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

// RemoveMember removes a user from a thread.
func (s *SQLiteStore) RemoveMember(ctx context.Context, threadID, userID int64) error {
	query := `
		DELETE FROM thread_members
		WHERE thread_id = ? AND user_id = ?
	`
	if _, err := s.db.ExecContext(ctx, query, threadID, userID); err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	return nil
}

// SetMemberAdmin promotes or demotes a member.
func (s *SQLiteStore) SetMemberAdmin(ctx context.Context, threadID, userID int64, isAdmin bool) error {
	query := `
		UPDATE thread_members
		SET is_admin = ?
		WHERE thread_id = ? AND user_id = ?
	`
	result, err := s.db.ExecContext(ctx, query, isAdmin, threadID, userID)
	if err != nil {
		return fmt.Errorf("update member: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("member: %w", store.ErrNotFound)
	}
	return nil
}

// IsMember reports whether the user is a persisted member of the thread.
func (s *SQLiteStore) IsMember(ctx context.Context, threadID, userID int64) (bool, error) {
	query := `
		SELECT 1 FROM thread_members
		WHERE thread_id = ? AND user_id = ?
	`
	var one int
	err := s.db.QueryRowContext(ctx, query, threadID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query membership: %w", err)
	}
	return true, nil
}

// IsAdmin reports whether the user is an admin member of the thread.
func (s *SQLiteStore) IsAdmin(ctx context.Context, threadID, userID int64) (bool, error) {
	query := `
		SELECT is_admin FROM thread_members
		WHERE thread_id = ? AND user_id = ?
	`
	var isAdmin bool
	err := s.db.QueryRowContext(ctx, query, threadID, userID).Scan(&isAdmin)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query membership: %w", err)
	}
	return isAdmin, nil
}

// ListMembers lists user IDs of all members of a thread.
func (s *SQLiteStore) ListMembers(ctx context.Context, threadID int64) ([]int64, error) {
	query := `
		SELECT user_id FROM thread_members
		WHERE thread_id = ?
		ORDER BY user_id
	`
	rows, err := s.db.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	members := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, id)
	}

	return members, rows.Err()
}

// ==== MessageStore implementation ====

// SaveMessage persists a message and fills in its ID and CreatedAt.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	query := `
		INSERT INTO messages (thread_id, sender_id, content, reply_to_id, forward_from_id, file_path)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		msg.ThreadID, msg.SenderID, msg.Content, msg.ReplyToID, msg.ForwardFromID, msg.FilePath)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}

	saved, err := s.GetMessageByID(ctx, id)
	if err != nil {
		return err
	}

	msg.ID = saved.ID
	msg.CreatedAt = saved.CreatedAt
	return nil
}

// GetMessageByID retrieves a message by ID.
func (s *SQLiteStore) GetMessageByID(ctx context.Context, id int64) (*store.Message, error) {
	query := `
		SELECT id, thread_id, sender_id, content, reply_to_id, forward_from_id, file_path, created_at
		FROM messages
		WHERE id = ?
	`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	return msg, nil
}

// ListMessages retrieves messages from a thread, newest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, threadID int64, limit int, beforeID *int64) ([]*store.Message, error) {
	query := `
		SELECT id, thread_id, sender_id, content, reply_to_id, forward_from_id, file_path, created_at
		FROM messages
		WHERE thread_id = ?
	`
	args := []any{threadID}
	if beforeID != nil {
		query += ` AND id < ?`
		args = append(args, *beforeID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*store.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func scanMessage(scan func(dest ...any) error) (*store.Message, error) {
	var msg store.Message
	var replyTo, forwardFrom sql.NullInt64
	var filePath sql.NullString
	err := scan(
		&msg.ID,
		&msg.ThreadID,
		&msg.SenderID,
		&msg.Content,
		&replyTo,
		&forwardFrom,
		&filePath,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if replyTo.Valid {
		msg.ReplyToID = &replyTo.Int64
	}
	if forwardFrom.Valid {
		msg.ForwardFromID = &forwardFrom.Int64
	}
	if filePath.Valid {
		msg.FilePath = &filePath.String
	}

	return &msg, nil
}

// ==== ReceiptStore implementation ====

// CreateReceipts inserts one undelivered receipt per recipient.
func (s *SQLiteStore) CreateReceipts(ctx context.Context, messageID int64, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO message_receipts (message_id, user_id)
		VALUES (?, ?)
		ON CONFLICT (message_id, user_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare receipt insert: %w", err)
	}
	defer stmt.Close()

	for _, userID := range userIDs {
		if _, err := stmt.ExecContext(ctx, messageID, userID); err != nil {
			return fmt.Errorf("insert receipt: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// MarkDelivered stamps the recipient's receipt as delivered.
func (s *SQLiteStore) MarkDelivered(ctx context.Context, messageID, userID int64, at time.Time) error {
	query := `
		UPDATE message_receipts
		SET delivered_at = COALESCE(delivered_at, ?)
		WHERE message_id = ? AND user_id = ?
	`
	result, err := s.db.ExecContext(ctx, query, at, messageID, userID)
	if err != nil {
		return fmt.Errorf("update receipt: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("receipt: %w", store.ErrNotFound)
	}
	return nil
}

// MarkRead stamps the recipient's receipt as read and delivered.
func (s *SQLiteStore) MarkRead(ctx context.Context, messageID, userID int64, at time.Time) error {
	query := `
		UPDATE message_receipts
		SET read_at = COALESCE(read_at, ?), delivered_at = COALESCE(delivered_at, ?)
		WHERE message_id = ? AND user_id = ?
	`
	result, err := s.db.ExecContext(ctx, query, at, at, messageID, userID)
	if err != nil {
		return fmt.Errorf("update receipt: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("receipt: %w", store.ErrNotFound)
	}
	return nil
}

// ListReceipts lists receipts for a message.
func (s *SQLiteStore) ListReceipts(ctx context.Context, messageID int64) ([]*store.Receipt, error) {
	query := `
		SELECT message_id, user_id, delivered_at, read_at
		FROM message_receipts
		WHERE message_id = ?
		ORDER BY user_id
	`
	rows, err := s.db.QueryContext(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer rows.Close()

	receipts := make([]*store.Receipt, 0)
	for rows.Next() {
		var r store.Receipt
		var delivered, read sql.NullTime
		if err := rows.Scan(&r.MessageID, &r.UserID, &delivered, &read); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		if delivered.Valid {
			r.DeliveredAt = &delivered.Time
		}
		if read.Valid {
			r.ReadAt = &read.Time
		}
		receipts = append(receipts, &r)
	}

	return receipts, rows.Err()
}
