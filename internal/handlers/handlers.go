// Package handlers implements the REST API and the websocket signaling relay.
package handlers

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/tutor-call/internal/middleware"
	"github.com/mossy-p/tutor-call/internal/redis"
	"github.com/mossy-p/tutor-call/internal/signaling"
	"github.com/mossy-p/tutor-call/internal/store"
	"go.uber.org/zap"
)

const defaultTokenTTL = 24 * time.Hour

// Options configures Handlers.
type Options struct {
	JWTSecret  string
	AdminEmail string
	TokenTTL   time.Duration
}

// Handlers serves the API. Every dependency is passed in explicitly.
type Handlers struct {
	db        *store.DB
	rooms     *redis.RoomStore
	transport signaling.Transport
	opts      Options
	logger    *zap.Logger
	upgrader  websocket.Upgrader

	relaysMu sync.Mutex
	relays   map[*relayClient]struct{}
	draining bool
}

func New(db *store.DB, rooms *redis.RoomStore, transport signaling.Transport, opts Options, logger *zap.Logger) *Handlers {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = defaultTokenTTL
	}
	return &Handlers{
		db:        db,
		rooms:     rooms,
		transport: transport,
		opts:      opts,
		logger:    logger,
		relays:    make(map[*relayClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Origin checking is handled by middleware
				return true
			},
		},
	}
}

// Routes mounts every route on r.
func (h *Handlers) Routes(r gin.IRouter) {
	auth := middleware.JWTAuth(h.opts.JWTSecret)

	api := r.Group("/api")
	{
		api.POST("/auth/register", h.Register)
		api.POST("/auth/login", h.Login)
		api.GET("/teachers", h.ListTeachers)

		authed := api.Group("", auth)
		authed.GET("/me", h.Me)

		authed.POST("/sessions", h.CreateSession)
		authed.GET("/sessions", h.ListSessions)
		authed.PATCH("/sessions/:sessionId", h.UpdateSession)
		authed.POST("/sessions/:sessionId/room", h.CreateRoom)

		authed.GET("/rooms/:roomId", h.GetRoom)
		authed.DELETE("/rooms/:roomId", h.DeleteRoom)

		authed.POST("/assessments", h.SubmitAssessment)
		admin := authed.Group("", middleware.RequireAdmin())
		admin.GET("/assessments", h.ListAssessments)
		admin.PATCH("/assessments/:assessmentId", h.ReviewAssessment)
	}

	// WebSocket signaling - accepts room code or ID, token in the query
	r.GET("/ws/signal/:roomId", h.HandleSignaling)
}

func userID(c *gin.Context) string {
	return c.GetString(middleware.ContextUserID)
}

// storeError answers with the status matching a store sentinel.
func (h *Handlers) storeError(c *gin.Context, err error, what string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("store failure", zap.String("entity", what), zap.Error(err))
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}
