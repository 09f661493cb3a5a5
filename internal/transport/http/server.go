package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/echolabs/echo-server/internal/auth"
	"github.com/echolabs/echo-server/internal/config"
	"github.com/echolabs/echo-server/internal/core"
	"github.com/echolabs/echo-server/internal/store"
)

// NewServer builds the HTTP server: REST API, health check, and the
// WebSocket endpoint, all sharing one presence/rooms/router trio.
func NewServer(authService *auth.Service, presence *core.Presence, rooms *core.Rooms, router *core.Router, st store.Store, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), LoggerMiddleware(logger))

	apiHandlers := NewAPIHandlers(authService, st, presence, logger)
	threadHandlers := NewThreadHandlers(st, router, logger)
	messageHandlers := NewMessageHandlers(st, router, cfg.UploadDir, logger)
	wsHandler := NewWSHandler(authService, presence, rooms, router, st, cfg.MaxMessageBytes, cfg.MessageRateLimit, logger)

	engine.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})
	engine.GET("/ws", wsHandler.Handle)

	api := engine.Group("/api")
	api.POST("/register", apiHandlers.Register)
	api.POST("/login", apiHandlers.Login)

	authorized := api.Group("", AuthMiddleware(authService, logger))
	authorized.GET("/me", apiHandlers.Me)
	authorized.GET("/users/online", apiHandlers.OnlineUsers)

	authorized.POST("/threads", threadHandlers.CreateThread)
	authorized.GET("/threads", threadHandlers.ListThreads)
	authorized.POST("/threads/:id/members", threadHandlers.AddMember)
	authorized.DELETE("/threads/:id/members/:userID", threadHandlers.RemoveMember)
	authorized.POST("/threads/:id/members/:userID/promote", threadHandlers.PromoteMember)
	authorized.POST("/threads/:id/members/:userID/demote", threadHandlers.DemoteMember)

	authorized.GET("/threads/:id/messages", messageHandlers.History)
	authorized.POST("/threads/:id/files", messageHandlers.UploadFile)
	authorized.POST("/messages/:id/read", messageHandlers.MarkRead)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
