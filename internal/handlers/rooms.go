package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/tutor-call/internal/models"
	"github.com/mossy-p/tutor-call/internal/redis"
	"go.uber.org/zap"
)

// CreateRoom creates the call room of a confirmed session, or returns the existing one.
func (h *Handlers) CreateRoom(c *gin.Context) {
	ctx := c.Request.Context()
	caller := userID(c)

	session, err := h.db.Session(ctx, c.Param("sessionId"))
	if err != nil {
		h.storeError(c, err, "session")
		return
	}
	if session.LearnerID != caller && session.TeacherID != caller {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the session's participants can open its room"})
		return
	}
	if session.Status != models.SessionConfirmed {
		c.JSON(http.StatusConflict, gin.H{"error": "Session is " + string(session.Status) + ", not confirmed"})
		return
	}

	room, created, err := h.rooms.CreateForSession(ctx, session, caller)
	if err != nil {
		h.logger.Error("failed to create room", zap.String("session", session.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.logger.Info("room created",
			zap.String("room", room.ID),
			zap.String("code", room.Code),
			zap.String("session", session.ID),
			zap.String("user", caller))
	}
	c.JSON(status, room)
}

// GetRoom gets room information by code or ID
func (h *Handlers) GetRoom(c *gin.Context) {
	room, ok := h.participantRoom(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, room)
}

// DeleteRoom deletes a room (creator only)
func (h *Handlers) DeleteRoom(c *gin.Context) {
	room, ok := h.participantRoom(c)
	if !ok {
		return
	}

	// Verify user is the creator
	if room.CreatorID != userID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the room creator can delete the room"})
		return
	}

	if err := h.rooms.Delete(c.Request.Context(), room); err != nil {
		h.logger.Error("failed to delete room", zap.String("room", room.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete room"})
		return
	}

	h.logger.Info("room deleted", zap.String("room", room.ID), zap.String("user", userID(c)))
	c.JSON(http.StatusOK, gin.H{"message": "Room deleted"})
}

// participantRoom resolves :roomId and checks the caller belongs to it. It has already
// answered the request when ok is false.
func (h *Handlers) participantRoom(c *gin.Context) (*models.RoomMetadata, bool) {
	room, err := h.rooms.Resolve(c.Request.Context(), c.Param("roomId"))
	if errors.Is(err, redis.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return nil, false
	}
	if err != nil {
		h.logger.Error("failed to load room", zap.String("room", c.Param("roomId")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load room"})
		return nil, false
	}
	if !room.IsParticipant(userID(c)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a participant of this room"})
		return nil, false
	}
	return room, true
}
