package http

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/echolabs/echo-server/internal/core"
	"github.com/echolabs/echo-server/internal/proto"
	"github.com/echolabs/echo-server/internal/store"
)

const defaultHistoryLimit = 50

// MessageHandlers provides HTTP handlers for message history, read receipts,
// and file attachments. Like the session handler, it persists first and
// broadcasts only after the rows are durable.
type MessageHandlers struct {
	store     store.Store
	router    *core.Router
	uploadDir string
	log       *zerolog.Logger
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(st store.Store, router *core.Router, uploadDir string, logger *zerolog.Logger) *MessageHandlers {
	return &MessageHandlers{
		store:     st,
		router:    router,
		uploadDir: uploadDir,
		log:       logger,
	}
}

// MessageResponse represents a message in API responses.
type MessageResponse struct {
	ID            int64  `json:"id"`
	ThreadID      int64  `json:"thread_id"`
	SenderID      int64  `json:"sender_id"`
	Content       string `json:"content"`
	ReplyToID     *int64 `json:"reply_to_id,omitempty"`
	ForwardFromID *int64 `json:"forward_from_id,omitempty"`
	FilePath      string `json:"file_path,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func messageResponse(m *store.Message) MessageResponse {
	resp := MessageResponse{
		ID:            m.ID,
		ThreadID:      m.ThreadID,
		SenderID:      m.SenderID,
		Content:       m.Content,
		ReplyToID:     m.ReplyToID,
		ForwardFromID: m.ForwardFromID,
		CreatedAt:     m.CreatedAt.Format(time.RFC3339),
	}
	if m.FilePath != nil {
		resp.FilePath = *m.FilePath
	}
	return resp
}

// History returns messages from a thread, newest first.
// GET /api/threads/:id/messages?limit=50&before_id=123
func (h *MessageHandlers) History(c *gin.Context) {
	uid, _, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	threadID, ok := threadIDParam(c)
	if !ok {
		return
	}

	if !h.requireMember(c, threadID, uid) {
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	var beforeID *int64
	if raw := c.Query("before_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid before_id"})
			return
		}
		beforeID = &parsed
	}

	messages, err := h.store.ListMessages(c.Request.Context(), threadID, limit, beforeID)
	if err != nil {
		h.log.Error().Err(err).Int64("thread_id", threadID).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]MessageResponse, 0, len(messages))
	for _, m := range messages {
		response = append(response, messageResponse(m))
	}
	c.JSON(http.StatusOK, response)
}

// MarkRead stamps the caller's receipt for a message and notifies the room.
// POST /api/messages/:id/read
func (h *MessageHandlers) MarkRead(c *gin.Context) {
	uid, _, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	messageID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || messageID <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid message id"})
		return
	}

	ctx := c.Request.Context()
	msg, err := h.store.GetMessageByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "message not found"})
			return
		}
		h.log.Error().Err(err).Int64("message_id", messageID).Msg("failed to load message")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	readAt := time.Now().UTC()
	if err := h.store.MarkRead(ctx, messageID, uid, readAt); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Senders have no receipt for their own messages.
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "no receipt for this message"})
			return
		}
		h.log.Error().Err(err).Int64("message_id", messageID).Msg("failed to mark read")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.router.ToThread(msg.ThreadID, proto.NewReadEvent(msg.ThreadID, messageID, uid, readAt.Unix()))
	c.JSON(http.StatusOK, gin.H{"status": "read"})
}

// UploadFile stores an attachment, persists it as a message, and broadcasts
// a file event to the thread's room.
// POST /api/threads/:id/files
func (h *MessageHandlers) UploadFile(c *gin.Context) {
	uid, username, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	threadID, ok := threadIDParam(c)
	if !ok {
		return
	}

	if !h.requireMember(c, threadID, uid) {
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "file is required"})
		return
	}

	// Stored name is opaque; the original name only travels in the event.
	// Clients only ever see the name, never the server-local path.
	storedName := uuid.New().String() + filepath.Ext(fileHeader.Filename)
	storedPath := filepath.Join(h.uploadDir, storedName)

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		h.log.Error().Err(err).Str("dir", h.uploadDir).Msg("failed to create upload dir")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if err := c.SaveUploadedFile(fileHeader, storedPath); err != nil {
		h.log.Error().Err(err).Str("path", storedPath).Msg("failed to store upload")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	ctx := c.Request.Context()
	msg := &store.Message{
		ThreadID: threadID,
		SenderID: uid,
		Content:  fileHeader.Filename,
		FilePath: &storedName,
	}
	if err := h.store.SaveMessage(ctx, msg); err != nil {
		h.log.Error().Err(err).Int64("thread_id", threadID).Msg("failed to persist attachment message")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	members, err := h.store.ListMembers(ctx, threadID)
	if err == nil {
		recipients := make([]int64, 0, len(members))
		for _, id := range members {
			if id != uid {
				recipients = append(recipients, id)
			}
		}
		if err := h.store.CreateReceipts(ctx, msg.ID, recipients); err != nil {
			h.log.Error().Err(err).Int64("message_id", msg.ID).Msg("failed to create receipts")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
			return
		}
	} else {
		h.log.Error().Err(err).Int64("thread_id", threadID).Msg("failed to list members")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.router.ToThread(threadID, proto.NewFileEvent(
		msg.ID, threadID, uid, username, fileHeader.Filename, storedName, msg.CreatedAt.Unix(),
	))

	c.JSON(http.StatusCreated, messageResponse(msg))
}

func (h *MessageHandlers) requireMember(c *gin.Context, threadID, userID int64) bool {
	member, err := h.store.IsMember(c.Request.Context(), threadID, userID)
	if err != nil {
		h.log.Error().Err(err).Int64("thread_id", threadID).Msg("membership check failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return false
	}
	if !member {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a member of this thread"})
		return false
	}
	return true
}
