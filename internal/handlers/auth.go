package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/tutor-call/internal/middleware"
	"github.com/mossy-p/tutor-call/internal/models"
	"github.com/mossy-p/tutor-call/internal/store"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Register creates a profile and returns it with a token.
func (h *Handlers) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Role == "" {
		req.Role = models.RoleLearner
	}
	if !req.Role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role must be learner or teacher"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("failed to hash password", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register"})
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	profile, err := h.db.CreateProfile(c.Request.Context(), models.Profile{
		Email:       email,
		DisplayName: req.DisplayName,
		Role:        req.Role,
		IsAdmin:     h.opts.AdminEmail != "" && strings.EqualFold(email, h.opts.AdminEmail),
	}, string(hash))
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
			return
		}
		h.storeError(c, err, "profile")
		return
	}

	h.logger.Info("profile registered", zap.String("user", profile.ID), zap.String("role", string(profile.Role)))
	h.respondWithToken(c, http.StatusCreated, profile)
}

// Login handles user login and JWT generation
func (h *Handlers) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	profile, hash, err := h.db.ProfileByEmail(c.Request.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	if err != nil {
		h.storeError(c, err, "profile")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	h.respondWithToken(c, http.StatusOK, profile)
}

// Me returns the caller's profile.
func (h *Handlers) Me(c *gin.Context) {
	profile, err := h.db.Profile(c.Request.Context(), userID(c))
	if err != nil {
		h.storeError(c, err, "profile")
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *Handlers) respondWithToken(c *gin.Context, status int, profile models.Profile) {
	token, err := middleware.IssueToken(h.opts.JWTSecret, profile, h.opts.TokenTTL)
	if err != nil {
		h.logger.Error("failed to sign token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}
	c.JSON(status, models.AuthResponse{Token: token, Profile: profile})
}
