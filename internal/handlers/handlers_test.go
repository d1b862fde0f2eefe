package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/mossy-p/tutor-call/internal/models"
	"github.com/mossy-p/tutor-call/internal/redis"
	"github.com/mossy-p/tutor-call/internal/signaling"
	"github.com/mossy-p/tutor-call/internal/store"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSecret     = "test-secret"
	testAdminEmail = "admin@example.com"
	testOrigin     = "http://localhost:3000"
)

type testEnv struct {
	router   *gin.Engine
	handlers *Handlers
	db       *store.DB
	rooms    *redis.RoomStore
	mr       *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	client := redis.NewClient(rdb)

	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rooms := redis.NewRoomStore(client, time.Hour)
	logger := zap.NewNop()
	h := New(db, rooms, signaling.NewRedisTransport(client, logger), Options{
		JWTSecret:  testSecret,
		AdminEmail: testAdminEmail,
	}, logger)

	router := gin.New()
	router.Use(OriginFilter([]string{testOrigin}, logger))
	h.Routes(router)

	return &testEnv{router: router, handlers: h, db: db, rooms: rooms, mr: mr}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type account struct {
	token   string
	profile models.Profile
}

func (e *testEnv) register(t *testing.T, email string, role models.Role) account {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"email":       email,
		"password":    "correct-horse",
		"displayName": email,
		"role":        role,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp models.AuthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return account{token: resp.Token, profile: resp.Profile}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// confirmedSession books a session between learner and teacher and confirms it.
func (e *testEnv) confirmedSession(t *testing.T, learner, teacher account) models.ScheduledSession {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/sessions", learner.token, gin.H{
		"expertId":  teacher.profile.ID,
		"startTime": time.Now().Add(time.Hour).UTC(),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	session := decode[models.ScheduledSession](t, w)

	w = e.do(t, http.MethodPatch, "/api/sessions/"+session.ID, teacher.token, gin.H{"status": "confirmed"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[models.ScheduledSession](t, w)
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)

	learner := env.register(t, "Learner@Example.com", models.RoleLearner)
	assert.Equal(t, "learner@example.com", learner.profile.Email)
	assert.False(t, learner.profile.IsAdmin)

	admin := env.register(t, testAdminEmail, models.RoleLearner)
	assert.True(t, admin.profile.IsAdmin)

	w := env.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"email": "learner@example.com", "password": "correct-horse", "displayName": "again",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"email": "x@example.com", "password": "correct-horse", "displayName": "x", "role": "admin",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "learner@example.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "nobody@example.com", "password": "correct-horse"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "learner@example.com", "password": "correct-horse"})
	require.Equal(t, http.StatusOK, w.Code)
	login := decode[models.AuthResponse](t, w)
	assert.Equal(t, learner.profile.ID, login.Profile.ID)

	w = env.do(t, http.MethodGet, "/api/me", login.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, learner.profile.ID, decode[models.Profile](t, w).ID)

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/me", "", nil).Code)
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	learner := env.register(t, "learner@example.com", models.RoleLearner)
	teacher := env.register(t, "teacher@example.com", models.RoleTeacher)
	other := env.register(t, "other@example.com", models.RoleLearner)
	start := time.Now().Add(24 * time.Hour).UTC()

	tests := []struct {
		name string
		body gin.H
		want int
	}{
		{"self booking", gin.H{"expertId": learner.profile.ID, "startTime": start}, http.StatusBadRequest},
		{"unknown teacher", gin.H{"expertId": "missing", "startTime": start}, http.StatusBadRequest},
		{"not a teacher", gin.H{"expertId": other.profile.ID, "startTime": start}, http.StatusBadRequest},
		{"missing start", gin.H{"expertId": teacher.profile.ID}, http.StatusBadRequest},
		{"booked", gin.H{"expertId": teacher.profile.ID, "startTime": start}, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/sessions", learner.token, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	w := env.do(t, http.MethodGet, "/api/sessions?role=teacher", teacher.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	sessions := decode[[]models.ScheduledSession](t, w)
	require.Len(t, sessions, 1)
	session := sessions[0]
	assert.Equal(t, models.SessionRequested, session.Status)
	assert.Equal(t, learner.profile.ID, session.LearnerID)

	w = env.do(t, http.MethodGet, "/api/sessions", learner.token, nil)
	assert.Len(t, decode[[]models.ScheduledSession](t, w), 1)
	w = env.do(t, http.MethodGet, "/api/sessions?role=teacher", learner.token, nil)
	assert.Empty(t, decode[[]models.ScheduledSession](t, w))
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/sessions?role=admin", learner.token, nil).Code)

	path := "/api/sessions/" + session.ID
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPatch, path, learner.token, gin.H{"status": "confirmed"}).Code)
	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPatch, path, teacher.token, gin.H{"status": "completed"}).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPatch, "/api/sessions/missing", teacher.token, gin.H{"status": "confirmed"}).Code)

	w = env.do(t, http.MethodPatch, path, teacher.token, gin.H{"status": "confirmed"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.SessionConfirmed, decode[models.ScheduledSession](t, w).Status)

	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPatch, path, teacher.token, gin.H{"status": "requested"}).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPatch, path, teacher.token, gin.H{"status": "completed"}).Code)
}

func TestAssessmentReview(t *testing.T) {
	env := newTestEnv(t)
	candidate := env.register(t, "candidate@example.com", models.RoleLearner)
	admin := env.register(t, testAdminEmail, models.RoleLearner)

	body := gin.H{"language": "Spanish", "quizData": gin.H{"q1": "b"}}
	w := env.do(t, http.MethodPost, "/api/assessments", candidate.token, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assessment := decode[models.Assessment](t, w)
	assert.Equal(t, "spanish", assessment.Language)
	assert.Equal(t, models.AssessmentPending, assessment.Status)

	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/api/assessments", candidate.token, body).Code)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/api/assessments", candidate.token, nil).Code)

	w = env.do(t, http.MethodGet, "/api/assessments?status=pending", admin.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Assessment](t, w), 1)

	path := "/api/assessments/" + assessment.ID
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPatch, path, admin.token, gin.H{"status": "pending"}).Code)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPatch, path, candidate.token, gin.H{"status": "approved"}).Code)

	w = env.do(t, http.MethodPatch, path, admin.token, gin.H{"status": "approved"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.AssessmentApproved, decode[models.Assessment](t, w).Status)

	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPatch, path, admin.token, gin.H{"status": "rejected"}).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPatch, "/api/assessments/missing", admin.token, gin.H{"status": "rejected"}).Code)

	w = env.do(t, http.MethodGet, "/api/me", candidate.token, nil)
	assert.Equal(t, models.RoleTeacher, decode[models.Profile](t, w).Role)

	w = env.do(t, http.MethodGet, "/api/teachers", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	teachers := decode[[]models.TeacherSummary](t, w)
	require.Len(t, teachers, 1)
	assert.Equal(t, candidate.profile.ID, teachers[0].ID)
}

func TestRooms(t *testing.T) {
	env := newTestEnv(t)
	learner := env.register(t, "learner@example.com", models.RoleLearner)
	teacher := env.register(t, "teacher@example.com", models.RoleTeacher)
	outsider := env.register(t, "outsider@example.com", models.RoleLearner)

	w := env.do(t, http.MethodPost, "/api/sessions", learner.token, gin.H{
		"expertId": teacher.profile.ID, "startTime": time.Now().Add(time.Hour).UTC(),
	})
	require.Equal(t, http.StatusCreated, w.Code)
	pending := decode[models.ScheduledSession](t, w)
	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/api/sessions/"+pending.ID+"/room", learner.token, nil).Code)

	session := env.confirmedSession(t, learner, teacher)
	path := "/api/sessions/" + session.ID + "/room"

	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, path, outsider.token, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/sessions/missing/room", learner.token, nil).Code)

	w = env.do(t, http.MethodPost, path, learner.token, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	room := decode[models.RoomMetadata](t, w)
	assert.Equal(t, learner.profile.ID, room.CreatorID)
	assert.Equal(t, models.MaxRoomPeers, room.MaxPeers)

	w = env.do(t, http.MethodPost, path, teacher.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, room.ID, decode[models.RoomMetadata](t, w).ID)

	w = env.do(t, http.MethodGet, "/api/rooms/"+room.Code, teacher.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, room.ID, decode[models.RoomMetadata](t, w).ID)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/api/rooms/"+room.ID, outsider.token, nil).Code)

	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodDelete, "/api/rooms/"+room.ID, teacher.token, nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodDelete, "/api/rooms/"+room.ID, learner.token, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/rooms/"+room.ID, learner.token, nil).Code)
}

func TestOriginFilter(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/teachers", nil)
	req.Header.Set("Origin", testOrigin)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, testOrigin, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PATCH")

	req = httptest.NewRequest(http.MethodGet, "/api/teachers", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
