package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gradus-edu/live-backend/internal/auth"
	"github.com/gradus-edu/live-backend/internal/models"
)

type api struct {
	router  *gin.Engine
	service *Service
	store   *MemStore
	jwt     *auth.JWTService
}

func newTestAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := NewMemStore()
	service := NewService(store, zap.NewNop())
	jwtService := auth.NewJWTService("test-secret", 1)
	handler := NewHandler(service, zap.NewNop(), "/live-signaling", nil)
	router := gin.New()
	handler.RegisterRoutes(router, jwtService)
	return &api{router: router, service: service, store: store, jwt: jwtService}
}

func (a *api) token(t *testing.T, userID, role string) string {
	t.Helper()
	token, err := a.jwt.Generate(userID, userID+"@example.com", role)
	require.NoError(t, err)
	return token
}

func (a *api) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body struct {
		Success bool                   `json:"success"`
		Data    map[string]interface{} `json:"data"`
		Error   string                 `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Success, "expected success envelope, got error %q", body.Error)
	return body.Data
}

func TestCreateSessionEndpoint(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, http.MethodPost, "/live/sessions", a.token(t, "admin-1", "admin"),
		`{"courseId":"c1","courseName":"Intro"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	data := decodeData(t, rec)
	session := data["session"].(map[string]interface{})
	assert.Equal(t, "Intro - Live Class", session["title"])
	assert.Equal(t, models.StatusScheduled, session["status"])

	instructor := data["instructor"].(map[string]interface{})
	assert.NotEmpty(t, instructor["hostSecret"])
	assert.Equal(t, "/live-signaling", instructor["signalingPath"])
}

func TestCreateSessionAuthz(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/live/sessions", "", `{"courseId":"c1"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(t, http.MethodPost, "/live/sessions", a.token(t, "user-1", "student"), `{"courseId":"c1"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateSessionMissingCourse(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, http.MethodPost, "/live/sessions", a.token(t, "admin-1", "admin"), `{"title":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJoinEndedSessionHTTPGone(t *testing.T) {
	a := newTestAPI(t)
	snap := createTestSession(t, a.service, CreateSessionInput{})
	ended := models.StatusEnded
	_, err := a.service.UpdateSession(context.Background(), snap.ID, UpdateSessionInput{Status: &ended})
	require.NoError(t, err)

	rec := a.do(t, http.MethodPost, "/live/sessions/"+snap.ID.String()+"/join",
		a.token(t, "user-1", "student"), `{}`)
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Contains(t, rec.Body.String(), "already ended")
}

func TestStudentJoinEndpoint(t *testing.T) {
	a := newTestAPI(t)
	snap := createTestSession(t, a.service, CreateSessionInput{})

	rec := a.do(t, http.MethodPost, "/live/sessions/"+snap.ID.String()+"/join",
		a.token(t, "user-1", "student"), `{"displayName":"Asha"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	data := decodeData(t, rec)
	participant := data["participant"].(map[string]interface{})
	assert.Equal(t, "Asha", participant["displayName"])
	signaling := data["signaling"].(map[string]interface{})
	assert.NotEmpty(t, signaling["key"])
	assert.Equal(t, "/live-signaling", signaling["path"])
}

func TestInstructorJoinWrongSecret(t *testing.T) {
	a := newTestAPI(t)
	snap := createTestSession(t, a.service, CreateSessionInput{})

	rec := a.do(t, http.MethodPost, "/live/sessions/"+snap.ID.String()+"/instructor/join",
		a.token(t, "admin-1", "admin"), `{"hostSecret":"nope"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid instructor access secret")
}

func TestPublicViewHidesSecrets(t *testing.T) {
	a := newTestAPI(t)
	snap := createTestSession(t, a.service, CreateSessionInput{})

	rec := a.do(t, http.MethodGet, "/live/sessions/"+snap.ID.String()+"/public",
		a.token(t, "user-1", "student"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), snap.HostSecret)
	assert.NotContains(t, rec.Body.String(), snap.MeetingToken)

	// the host view still carries them
	rec = a.do(t, http.MethodGet, "/live/sessions/"+snap.ID.String(),
		a.token(t, "admin-1", "admin"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), snap.HostSecret)
}

func TestUnknownSessionIs404(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, http.MethodGet, "/live/sessions/6a5e64a4-8f0b-4f2c-9a34-000000000000",
		a.token(t, "admin-1", "admin"), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodGet, "/live/sessions/not-a-uuid",
		a.token(t, "admin-1", "admin"), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActiveSessionByCourseEndpoint(t *testing.T) {
	a := newTestAPI(t)
	snap := createTestSession(t, a.service, CreateSessionInput{CourseID: "C-9", CourseSlug: "go-201"})
	liveStatus := models.StatusLive
	_, err := a.service.UpdateSession(context.Background(), snap.ID, UpdateSessionInput{Status: &liveStatus})
	require.NoError(t, err)

	rec := a.do(t, http.MethodGet, "/live/sessions/course/go-201/active",
		a.token(t, "user-1", "student"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	session := data["session"].(map[string]interface{})
	assert.Equal(t, snap.ID.String(), session["id"])
}
