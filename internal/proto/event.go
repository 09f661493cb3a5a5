package proto

// Event type tags sent to clients.
const (
	EventTypeMessage       = "message"
	EventTypeFile          = "file"
	EventTypeTyping        = "typing"
	EventTypePresence      = "presence"
	EventTypeSystem        = "system"
	EventTypeThreadUpdated = "thread_updated"
	EventTypeThreadAdded   = "thread_added"
	EventTypeRead          = "read"
)

// Presence status values.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// Event is an outbound frame. Each variant carries a Type tag and only the
// fields relevant to its kind. Events are built once and never mutated after
// construction; a single Event value may be serialized for many connections.
type Event interface {
	EventType() string
}

// MessageEvent notifies a room about a new chat message.
type MessageEvent struct {
	Type          string `json:"type"`
	ID            int64  `json:"id"`
	ThreadID      int64  `json:"thread_id"`
	SenderID      int64  `json:"sender_id"`
	Sender        string `json:"sender"`
	Content       string `json:"content"`
	ReplyToID     *int64 `json:"reply_to_id,omitempty"`
	ForwardFromID *int64 `json:"forward_from_id,omitempty"`
	CreatedAt     int64  `json:"created_at"`
}

func (MessageEvent) EventType() string { return EventTypeMessage }

// NewMessageEvent builds a message event snapshot.
func NewMessageEvent(id, threadID, senderID int64, sender, content string, replyToID, forwardFromID *int64, createdAt int64) MessageEvent {
	return MessageEvent{
		Type:          EventTypeMessage,
		ID:            id,
		ThreadID:      threadID,
		SenderID:      senderID,
		Sender:        sender,
		Content:       content,
		ReplyToID:     replyToID,
		ForwardFromID: forwardFromID,
		CreatedAt:     createdAt,
	}
}

// FileEvent notifies a room about an uploaded attachment.
type FileEvent struct {
	Type      string `json:"type"`
	ID        int64  `json:"id"`
	ThreadID  int64  `json:"thread_id"`
	SenderID  int64  `json:"sender_id"`
	Sender    string `json:"sender"`
	FileName  string `json:"file_name"`
	FilePath  string `json:"file_path"`
	CreatedAt int64  `json:"created_at"`
}

func (FileEvent) EventType() string { return EventTypeFile }

// NewFileEvent builds a file event snapshot.
func NewFileEvent(id, threadID, senderID int64, sender, fileName, filePath string, createdAt int64) FileEvent {
	return FileEvent{
		Type:      EventTypeFile,
		ID:        id,
		ThreadID:  threadID,
		SenderID:  senderID,
		Sender:    sender,
		FileName:  fileName,
		FilePath:  filePath,
		CreatedAt: createdAt,
	}
}

// TypingEvent is an ephemeral typing indicator; it is never persisted.
type TypingEvent struct {
	Type     string `json:"type"`
	ThreadID int64  `json:"thread_id"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

func (TypingEvent) EventType() string { return EventTypeTyping }

// NewTypingEvent builds a typing indicator event.
func NewTypingEvent(threadID, userID int64, username string, isTyping bool) TypingEvent {
	return TypingEvent{
		Type:     EventTypeTyping,
		ThreadID: threadID,
		UserID:   userID,
		Username: username,
		IsTyping: isTyping,
	}
}

// PresenceEvent announces a user's online/offline transition globally.
type PresenceEvent struct {
	Type     string `json:"type"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Status   string `json:"status"`
}

func (PresenceEvent) EventType() string { return EventTypePresence }

// NewPresenceEvent builds a presence transition event.
func NewPresenceEvent(userID int64, username, status string) PresenceEvent {
	return PresenceEvent{
		Type:     EventTypePresence,
		UserID:   userID,
		Username: username,
		Status:   status,
	}
}

// SystemEvent carries server-generated notices ("joined thread") and action
// failures surfaced to the acting client. Code is empty for plain notices.
type SystemEvent struct {
	Type     string `json:"type"`
	ThreadID int64  `json:"thread_id,omitempty"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message"`
}

func (SystemEvent) EventType() string { return EventTypeSystem }

// NewSystemNotice builds an informational system event for a room.
func NewSystemNotice(threadID int64, message string) SystemEvent {
	return SystemEvent{Type: EventTypeSystem, ThreadID: threadID, Message: message}
}

// NewSystemError builds a system event describing a failed action.
func NewSystemError(threadID int64, code, message string) SystemEvent {
	return SystemEvent{Type: EventTypeSystem, ThreadID: threadID, Code: code, Message: message}
}

// ThreadUpdatedEvent notifies a room about membership or metadata changes.
type ThreadUpdatedEvent struct {
	Type     string `json:"type"`
	ThreadID int64  `json:"thread_id"`
	UserID   int64  `json:"user_id,omitempty"`
	Change   string `json:"change"`
}

func (ThreadUpdatedEvent) EventType() string { return EventTypeThreadUpdated }

// NewThreadUpdatedEvent builds a thread change notification.
func NewThreadUpdatedEvent(threadID, userID int64, change string) ThreadUpdatedEvent {
	return ThreadUpdatedEvent{
		Type:     EventTypeThreadUpdated,
		ThreadID: threadID,
		UserID:   userID,
		Change:   change,
	}
}

// ThreadAddedEvent tells a specific user they were added to a thread.
type ThreadAddedEvent struct {
	Type       string `json:"type"`
	ThreadID   int64  `json:"thread_id"`
	ThreadName string `json:"thread_name"`
	IsGroup    bool   `json:"is_group"`
}

func (ThreadAddedEvent) EventType() string { return EventTypeThreadAdded }

// NewThreadAddedEvent builds a membership-added notification.
func NewThreadAddedEvent(threadID int64, threadName string, isGroup bool) ThreadAddedEvent {
	return ThreadAddedEvent{
		Type:       EventTypeThreadAdded,
		ThreadID:   threadID,
		ThreadName: threadName,
		IsGroup:    isGroup,
	}
}

// ReadEvent notifies a room that a recipient read a message.
type ReadEvent struct {
	Type      string `json:"type"`
	ThreadID  int64  `json:"thread_id"`
	MessageID int64  `json:"message_id"`
	UserID    int64  `json:"user_id"`
	ReadAt    int64  `json:"read_at"`
}

func (ReadEvent) EventType() string { return EventTypeRead }

// NewReadEvent builds a read receipt notification.
func NewReadEvent(threadID, messageID, userID, readAt int64) ReadEvent {
	return ReadEvent{
		Type:      EventTypeRead,
		ThreadID:  threadID,
		MessageID: messageID,
		UserID:    userID,
		ReadAt:    readAt,
	}
}
