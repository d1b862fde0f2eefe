package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mossy-p/tutor-call/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(zap.NewNop()))
	auth := r.Group("/", JWTAuth(testSecret))
	auth.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user": c.GetString(ContextUserID),
			"role": c.MustGet(ContextRole),
		})
	})
	auth.GET("/admin", RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func request(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIssueAndParseToken(t *testing.T) {
	token, err := IssueToken(testSecret, models.Profile{ID: "u1", Role: models.RoleTeacher, IsAdmin: true}, time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, models.RoleTeacher, claims.Role)
	assert.True(t, claims.IsAdmin)

	_, err = ParseToken("other-secret", token)
	assert.Error(t, err)

	expired, err := IssueToken(testSecret, models.Profile{ID: "u1"}, -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(testSecret, expired)
	assert.Error(t, err)
}

func TestParseTokenRejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u1"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ParseToken(testSecret, signed)
	assert.Error(t, err)
}

func TestJWTAuth(t *testing.T) {
	r := newRouter()
	learner, err := IssueToken(testSecret, models.Profile{ID: "learner", Role: models.RoleLearner}, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, request(r, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, request(r, "/me", "garbage").Code)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Token "+learner)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = request(r, "/me", learner)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user":"learner","role":"learner"}`, w.Body.String())
}

func TestRequireAdmin(t *testing.T) {
	r := newRouter()
	user, err := IssueToken(testSecret, models.Profile{ID: "u1", Role: models.RoleLearner}, time.Hour)
	require.NoError(t, err)
	admin, err := IssueToken(testSecret, models.Profile{ID: "u2", Role: models.RoleLearner, IsAdmin: true}, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, request(r, "/admin", user).Code)
	assert.Equal(t, http.StatusNoContent, request(r, "/admin", admin).Code)
}
