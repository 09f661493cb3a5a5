package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/echolabs/echo-server/internal/core"
	"github.com/echolabs/echo-server/internal/proto"
	"github.com/echolabs/echo-server/internal/store"
)

// ThreadHandlers provides HTTP handlers for thread and membership endpoints.
// Membership changes go out over the same router the sessions use, so live
// clients see them without polling.
type ThreadHandlers struct {
	store  store.Store
	router *core.Router
	log    *zerolog.Logger
}

// NewThreadHandlers creates a new thread handlers instance.
func NewThreadHandlers(st store.Store, router *core.Router, logger *zerolog.Logger) *ThreadHandlers {
	return &ThreadHandlers{
		store:  st,
		router: router,
		log:    logger,
	}
}

// CreateThreadRequest represents the create thread request body.
type CreateThreadRequest struct {
	Name    string `json:"name" binding:"required,min=1,max=64"`
	IsGroup bool   `json:"is_group"`
}

// MemberRequest identifies a user in membership endpoints.
type MemberRequest struct {
	UserID  int64 `json:"user_id" binding:"required"`
	IsAdmin bool  `json:"is_admin"`
}

// ThreadResponse represents a thread in API responses.
type ThreadResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	IsGroup   bool   `json:"is_group"`
	CreatedBy int64  `json:"created_by"`
	CreatedAt string `json:"created_at"`
}

func threadResponse(t *store.Thread) ThreadResponse {
	return ThreadResponse{
		ID:        t.ID,
		Name:      t.Name,
		IsGroup:   t.IsGroup,
		CreatedBy: t.CreatedBy,
		CreatedAt: t.CreatedAt.Format(time.RFC3339),
	}
}

// CreateThread handles thread creation. The creator becomes an admin member.
// POST /api/threads
func (h *ThreadHandlers) CreateThread(c *gin.Context) {
	uid, _, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req CreateThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create thread request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	thread, err := h.store.CreateThread(c.Request.Context(), req.Name, req.IsGroup, uid)
	if err != nil {
		h.log.Error().Err(err).Str("thread_name", req.Name).Msg("failed to create thread")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Int64("thread_id", thread.ID).Int64("creator_id", uid).Msg("thread created")
	c.JSON(http.StatusCreated, threadResponse(thread))
}

// ListThreads lists threads the authenticated user belongs to.
// GET /api/threads
func (h *ThreadHandlers) ListThreads(c *gin.Context) {
	uid, _, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	threads, err := h.store.ListThreads(c.Request.Context(), uid)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", uid).Msg("failed to list threads")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]ThreadResponse, 0, len(threads))
	for _, t := range threads {
		response = append(response, threadResponse(t))
	}
	c.JSON(http.StatusOK, response)
}

// AddMember adds a user to a thread and notifies their live connections.
// POST /api/threads/:id/members
func (h *ThreadHandlers) AddMember(c *gin.Context) {
	uid, _, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	threadID, ok := threadIDParam(c)
	if !ok {
		return
	}

	var req MemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	if !h.requireMember(c, threadID, uid) {
		return
	}

	thread, err := h.store.GetThreadByID(ctx, threadID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "thread not found"})
		return
	}

	if err := h.store.AddMember(ctx, threadID, req.UserID, req.IsAdmin); err != nil {
		h.log.Error().Err(err).Int64("thread_id", threadID).Int64("user_id", req.UserID).Msg("failed to add member")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	// Tell the added user's devices about their new thread, and the room
	// about the roster change.
	h.router.ToUser(req.UserID, proto.NewThreadAddedEvent(thread.ID, thread.Name, thread.IsGroup))
	h.router.ToThread(threadID, proto.NewThreadUpdatedEvent(threadID, req.UserID, "member_added"))

	c.JSON(http.StatusOK, gin.H{"status": "added"})
}

// RemoveMember removes a user from a thread. Admin only.
// DELETE /api/threads/:id/members/:userID
func (h *ThreadHandlers) RemoveMember(c *gin.Context) {
	uid, _, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	threadID, ok := threadIDParam(c)
	if !ok {
		return
	}

	targetID, err := strconv.ParseInt(c.Param("userID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid user id"})
		return
	}

	// Members may leave on their own; removing someone else needs admin.
	if targetID != uid && !h.requireAdmin(c, threadID, uid) {
		return
	}

	if err := h.store.RemoveMember(c.Request.Context(), threadID, targetID); err != nil {
		h.log.Error().Err(err).Int64("thread_id", threadID).Int64("user_id", targetID).Msg("failed to remove member")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.router.ToThread(threadID, proto.NewThreadUpdatedEvent(threadID, targetID, "member_removed"))
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

// PromoteMember grants admin to a member. Admin only.
// POST /api/threads/:id/members/:userID/promote
func (h *ThreadHandlers) PromoteMember(c *gin.Context) {
	h.setAdmin(c, true, "member_promoted")
}

// DemoteMember revokes admin from a member. Admin only.
// POST /api/threads/:id/members/:userID/demote
func (h *ThreadHandlers) DemoteMember(c *gin.Context) {
	h.setAdmin(c, false, "member_demoted")
}

func (h *ThreadHandlers) setAdmin(c *gin.Context, isAdmin bool, change string) {
	uid, _, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	threadID, ok := threadIDParam(c)
	if !ok {
		return
	}

	targetID, err := strconv.ParseInt(c.Param("userID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid user id"})
		return
	}

	if !h.requireAdmin(c, threadID, uid) {
		return
	}

	if err := h.store.SetMemberAdmin(c.Request.Context(), threadID, targetID, isAdmin); err != nil {
		h.log.Error().Err(err).Int64("thread_id", threadID).Int64("user_id", targetID).Msg("failed to update member")
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "member not found"})
		return
	}

	h.router.ToThread(threadID, proto.NewThreadUpdatedEvent(threadID, targetID, change))
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (h *ThreadHandlers) requireMember(c *gin.Context, threadID, userID int64) bool {
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

func (h *ThreadHandlers) requireAdmin(c *gin.Context, threadID, userID int64) bool {
	admin, err := h.store.IsAdmin(c.Request.Context(), threadID, userID)
	if err != nil {
		h.log.Error().Err(err).Int64("thread_id", threadID).Msg("admin check failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return false
	}
	if !admin {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "admin rights required"})
		return false
	}
	return true
}

func threadIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid thread id"})
		return 0, false
	}
	return id, true
}
