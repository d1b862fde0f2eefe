package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/tutor-call/internal/models"
	"github.com/mossy-p/tutor-call/internal/store"
	"go.uber.org/zap"
)

// CreateSession books a session with a teacher. The caller is the learner.
func (h *Handlers) CreateSession(c *gin.Context) {
	var req models.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.StartTime.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "startTime is required"})
		return
	}

	learnerID := userID(c)
	if req.ExpertID == learnerID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot book a session with yourself"})
		return
	}

	ctx := c.Request.Context()
	teacher, err := h.db.Profile(ctx, req.ExpertID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && teacher.Role != models.RoleTeacher) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown teacher"})
		return
	}
	if err != nil {
		h.storeError(c, err, "teacher")
		return
	}

	session, err := h.db.CreateSession(ctx, learnerID, teacher.ID, req.StartTime.UTC())
	if err != nil {
		h.storeError(c, err, "session")
		return
	}

	h.logger.Info("session requested",
		zap.String("session", session.ID),
		zap.String("learner", learnerID),
		zap.String("teacher", teacher.ID))
	c.JSON(http.StatusCreated, session)
}

// ListSessions returns the caller's sessions as learner (default) or teacher.
func (h *Handlers) ListSessions(c *gin.Context) {
	role := models.Role(c.DefaultQuery("role", string(models.RoleLearner)))
	if !role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role must be learner or teacher"})
		return
	}

	sessions, err := h.db.ListSessions(c.Request.Context(), role, userID(c))
	if err != nil {
		h.storeError(c, err, "sessions")
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// UpdateSession moves a session through its lifecycle. Only the session's teacher may
// do so.
func (h *Handlers) UpdateSession(c *gin.Context) {
	var req models.UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	session, err := h.db.Session(ctx, c.Param("sessionId"))
	if err != nil {
		h.storeError(c, err, "session")
		return
	}
	if session.TeacherID != userID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the session's teacher can update it"})
		return
	}
	if !session.Status.CanTransition(req.Status) {
		c.JSON(http.StatusConflict, gin.H{"error": "Cannot move session from " + string(session.Status) + " to " + string(req.Status)})
		return
	}

	updated, err := h.db.UpdateSessionStatus(ctx, session.ID, session.Status, req.Status)
	if err != nil {
		h.storeError(c, err, "session")
		return
	}

	h.logger.Info("session updated",
		zap.String("session", session.ID),
		zap.String("from", string(session.Status)),
		zap.String("to", string(updated.Status)))
	c.JSON(http.StatusOK, updated)
}
