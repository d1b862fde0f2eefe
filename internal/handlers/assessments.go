package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/tutor-call/internal/models"
	"go.uber.org/zap"
)

// SubmitAssessment records a request to teach a language.
func (h *Handlers) SubmitAssessment(c *gin.Context) {
	var req models.SubmitAssessmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	language := strings.ToLower(strings.TrimSpace(req.Language))
	if language == "" || !json.Valid(req.QuizData) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "language and quizData are required"})
		return
	}

	assessment, err := h.db.CreateAssessment(c.Request.Context(), userID(c), language, req.QuizData)
	if err != nil {
		h.storeError(c, err, "assessment")
		return
	}

	h.logger.Info("assessment submitted",
		zap.String("assessment", assessment.ID),
		zap.String("user", assessment.UserID),
		zap.String("language", language))
	c.JSON(http.StatusCreated, assessment)
}

// ListAssessments returns assessments, optionally filtered by status, oldest first.
func (h *Handlers) ListAssessments(c *gin.Context) {
	status := models.AssessmentStatus(c.Query("status"))
	switch status {
	case "", models.AssessmentPending, models.AssessmentApproved, models.AssessmentRejected:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}

	assessments, err := h.db.ListAssessments(c.Request.Context(), status)
	if err != nil {
		h.storeError(c, err, "assessments")
		return
	}
	c.JSON(http.StatusOK, assessments)
}

// ReviewAssessment approves or rejects a pending assessment.
func (h *Handlers) ReviewAssessment(c *gin.Context) {
	var req models.ReviewAssessmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	assessment, err := h.db.ReviewAssessment(c.Request.Context(), c.Param("assessmentId"), req.Status)
	if err != nil {
		h.storeError(c, err, "assessment")
		return
	}

	h.logger.Info("assessment reviewed",
		zap.String("assessment", assessment.ID),
		zap.String("status", string(assessment.Status)),
		zap.String("reviewer", userID(c)))
	c.JSON(http.StatusOK, assessment)
}

// ListTeachers is the public teacher directory.
func (h *Handlers) ListTeachers(c *gin.Context) {
	teachers, err := h.db.ListTeachers(c.Request.Context())
	if err != nil {
		h.storeError(c, err, "teachers")
		return
	}
	c.JSON(http.StatusOK, teachers)
}
