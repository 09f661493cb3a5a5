package http

import (
	"context"
	"errors"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/echolabs/echo-server/internal/auth"
	"github.com/echolabs/echo-server/internal/core"
	"github.com/echolabs/echo-server/internal/proto"
	"github.com/echolabs/echo-server/internal/store"
)

// sendTimeout bounds a single outbound write so one stalled socket cannot
// stall a broadcast for everyone else; an expired write marks the
// connection dead and the registries prune it.
const sendTimeout = 5 * time.Second

// WSHandler upgrades HTTP connections, performs the token handshake, and
// hands authenticated connections to a core.Session.
type WSHandler struct {
	authService     *auth.Service
	presence        *core.Presence
	rooms           *core.Rooms
	router          *core.Router
	store           store.Store
	maxMessageBytes int64
	rateLimit       int
	log             *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(authService *auth.Service, presence *core.Presence, rooms *core.Rooms, router *core.Router, st store.Store, maxMessageBytes int64, rateLimit int, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{
		authService:     authService,
		presence:        presence,
		rooms:           rooms,
		router:          router,
		store:           st,
		maxMessageBytes: maxMessageBytes,
		rateLimit:       rateLimit,
		log:             logger,
	}
}

// Handle serves GET /ws?token=…
func (h *WSHandler) Handle(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	// The close code has to travel over an accepted connection, so the
	// handshake is validated after the upgrade.
	token := c.Query("token")
	if token == "" {
		conn.Close(websocket.StatusPolicyViolation, "missing token")
		return
	}
	claims, err := h.authService.ValidateToken(token)
	if err != nil {
		h.log.Debug().Err(err).Msg("ws auth rejected")
		conn.Close(websocket.StatusPolicyViolation, "invalid token")
		return
	}

	if h.maxMessageBytes > 0 {
		conn.SetReadLimit(h.maxMessageBytes)
	}

	wc := &wsConn{conn: conn, limiter: newRateLimiter(h.rateLimit)}
	session := core.NewSession(claims.UserID, claims.Username, wc, h.presence, h.rooms, h.router, h.store, h.log)

	h.log.Info().Int64("user_id", claims.UserID).Str("username", claims.Username).Msg("ws session started")
	session.Run(c.Request.Context())

	conn.Close(websocket.StatusNormalClosure, "closing")
}

// errRateLimited terminates sessions that flood the socket.
var errRateLimited = errors.New("rate limit exceeded")

// wsConn adapts a websocket connection to core.Conn.
type wsConn struct {
	conn    *websocket.Conn
	limiter *rateLimiter
}

// Read returns the next inbound frame payload.
func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if !c.limiter.allow() {
		c.conn.Close(websocket.StatusPolicyViolation, "rate limit exceeded")
		return nil, errRateLimited
	}
	return data, nil
}

// Send serializes the event to the socket. The websocket library serializes
// concurrent writers internally, so broadcasts from other goroutines and
// the session's own replies can share this method.
func (c *wsConn) Send(ev proto.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.conn, ev)
}
