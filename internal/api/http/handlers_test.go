package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/ScormHost/backend/internal/api/middleware"
	"github.com/GriffinCanCode/ScormHost/backend/internal/course"
	"github.com/GriffinCanCode/ScormHost/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ScormHost/backend/internal/lms"
	"github.com/GriffinCanCode/ScormHost/backend/internal/player"
	"github.com/GriffinCanCode/ScormHost/backend/internal/resolver"
	"github.com/GriffinCanCode/ScormHost/backend/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeLMS struct {
	preview  *course.Preview
	err      error
	loginErr error
	login    *lms.LoginResult
}

func (f *fakeLMS) FetchCoursePreview(ctx context.Context, token, courseID string) (*course.Preview, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.preview, nil
}

func (f *fakeLMS) Login(ctx context.Context, username, password string) (*lms.LoginResult, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return f.login, nil
}

type fakeProgress struct {
	userID string
	units  []store.UnitProgress
}

func (f *fakeProgress) CourseProgress(ctx context.Context, userID, courseID string) ([]store.UnitProgress, error) {
	f.userID = userID
	return f.units, nil
}

func sco(id string) course.SCO {
	return course.SCO{UUID: "sco-" + id, PreviewData: &course.PreviewData{PreviewTrackURL: "/scorm/" + id + "/index.html"}}
}

func preview() *course.Preview {
	a, b := sco("1"), sco("2")
	return &course.Preview{
		Course: course.Course{ID: "12", Title: "<i>Safety</i> basics"},
		LearningUnits: []course.LearningUnit{
			{ID: "1", Title: "<b>Welcome</b>", FirstSCO: &a, SCOs: []course.SCO{a}},
			{ID: "2", Title: "Hazards", FirstSCO: &b, SCOs: []course.SCO{b}},
			{ID: "3", Title: "Empty"},
		},
	}
}

type env struct {
	router   *gin.Engine
	lms      *fakeLMS
	progress *fakeProgress
	players  *player.Manager
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{lms: &fakeLMS{preview: preview()}, progress: &fakeProgress{}}
	metrics := monitoring.NewMetrics()
	e.players = player.NewManager(player.Config{Origin: "https://lms.example"}, e.lms,
		resolver.New(resolver.PolicyStrict), nil, player.WithMetrics(metrics))
	t.Cleanup(e.players.Shutdown)

	h := NewHandlers(e.players, e.lms, e.progress, metrics, nil, "https://player.example")
	e.router = gin.New()
	e.router.Use(middleware.Auth(lms.NewHMACVerifier(testSecret), nil))
	h.Register(e.router)
	return e
}

const testSecret = "k"

func token(t *testing.T, userID string) string {
	t.Helper()
	return tokenSignedWith(t, testSecret, userID)
}

func tokenSignedWith(t *testing.T, secret, userID string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": userID, "full_name": "Test Learner"}).
		SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func (e *env) do(t *testing.T, method, path, body, bearer string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	return e.doAs(t, method, path, body, bearer, "")
}

// doAs sends the request with an X-Player-ID header when playerID is set.
func (e *env) doAs(t *testing.T, method, path, body, bearer, playerID string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if playerID != "" {
		req.Header.Set(middleware.HeaderPlayerID, playerID)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") && w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func (e *env) open(t *testing.T, body, bearer string) string {
	t.Helper()
	w, out := e.do(t, http.MethodPost, "/player/sessions", body, bearer)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return out["session"].(map[string]any)["id"].(string)
}

func TestOpenSession(t *testing.T) {
	e := newEnv(t)

	w, out := e.do(t, http.MethodPost, "/player/sessions", `{"course_id":12,"unit_id":1}`, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	s := out["session"].(map[string]any)
	assert.Equal(t, "12", s["course_id"])
	assert.Equal(t, "1", s["unit_id"])
	assert.Equal(t, "sco-1", s["sco_id"])
	assert.Equal(t, "Welcome", s["title"])
	assert.Equal(t, "1 / 3", s["position"])
	assert.Equal(t, "https://lms.example/scorm/1/index.html", s["content_url"])
	assert.Equal(t, "external", s["mode"])
	assert.Equal(t, false, s["has_previous"])
	assert.Equal(t, true, s["has_next"])

	links := out["links"].(map[string]any)
	id := s["id"].(string)
	playerID := s["player_id"].(string)
	assert.True(t, strings.HasPrefix(playerID, "gst_"))
	assert.Equal(t, "wss://player.example/player/sessions/"+id+"/ws?player_id="+playerID, links["ws"])
	assert.Equal(t, "https://player.example/player/sessions/"+id+"/bridge.js?player_id="+playerID, links["bridge"])

	w, _ = e.do(t, http.MethodGet, "/player/sessions/"+id+"?player_id="+playerID, "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOpenSessionUserLinks(t *testing.T) {
	e := newEnv(t)

	w, out := e.do(t, http.MethodPost, "/player/sessions", `{"course_id":12,"unit_id":1}`, token(t, "7"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	id := out["session"].(map[string]any)["id"].(string)
	assert.Equal(t, "wss://player.example/player/sessions/"+id+"/ws", out["links"].(map[string]any)["ws"])
}

func TestOpenSessionErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		lmsErr error
		status int
		code   string
	}{
		{"missing course", `{"unit_id":"1"}`, nil, http.StatusBadRequest, CodeBadRequest},
		{"unknown unit", `{"course_id":"12","unit_id":"99"}`, nil, http.StatusNotFound, CodeContentNotAvailable},
		{"unit without content", `{"course_id":"12","unit_id":"3"}`, nil, http.StatusNotFound, CodeContentNotAvailable},
		{"headless disabled", `{"course_id":"12","unit_id":"1","mode":"headless"}`, nil, http.StatusBadRequest, CodeHeadlessDisabled},
		{"lms unauthorized", `{"course_id":"12","unit_id":"1"}`, &lms.APIError{Op: "course preview", Status: 401, Kind: lms.ErrUnauthorized}, http.StatusUnauthorized, CodeUnauthorized},
		{"lms offline", `{"course_id":"12","unit_id":"1"}`, &lms.APIError{Op: "course preview", Kind: lms.ErrNetwork}, http.StatusBadGateway, CodeNetwork},
		{"course missing", `{"course_id":"12","unit_id":"1"}`, &lms.APIError{Op: "course preview", Status: 404, Kind: lms.ErrNotFound}, http.StatusNotFound, CodeCourseNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.lms.err = tt.lmsErr

			w, out := e.do(t, http.MethodPost, "/player/sessions", tt.body, "")
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, out["code"])
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestSessionOwnership(t *testing.T) {
	e := newEnv(t)
	alice := token(t, "alice")
	id := e.open(t, `{"course_id":"12","unit_id":"1"}`, alice)

	w, _ := e.do(t, http.MethodGet, "/player/sessions/"+id, "", alice)
	assert.Equal(t, http.StatusOK, w.Code)

	w, out := e.do(t, http.MethodGet, "/player/sessions/"+id, "", token(t, "bob"))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, CodeSessionNotFound, out["code"])

	w, _ = e.do(t, http.MethodGet, "/player/sessions/"+id, "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGuestSessionsAreIsolated(t *testing.T) {
	e := newEnv(t)
	open := func(playerID string) (string, string) {
		w, out := e.doAs(t, http.MethodPost, "/player/sessions", `{"course_id":"12","unit_id":"1"}`, "", playerID)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		s := out["session"].(map[string]any)
		return s["id"].(string), s["player_id"].(string)
	}

	// A client-chosen id is replaced by an issued one.
	first, guestA := open("phone-1")
	assert.NotEqual(t, "phone-1", guestA)
	second, guestB := open("")
	assert.NotEqual(t, guestA, guestB)

	// B opening the same course leaves A's session alone.
	assert.Equal(t, 2, e.players.Len())
	w, _ := e.doAs(t, http.MethodGet, "/player/sessions/"+first, "", "", guestA)
	assert.Equal(t, http.StatusOK, w.Code)

	for _, caller := range []string{"", guestB, "gst_01HZX3K5Q8W7Y2N4M6P9R0T1V3"} {
		w, out := e.doAs(t, http.MethodGet, "/player/sessions/"+first, "", "", caller)
		assert.Equal(t, http.StatusNotFound, w.Code, caller)
		assert.Equal(t, CodeSessionNotFound, out["code"])

		w, _ = e.doAs(t, http.MethodDelete, "/player/sessions/"+first, "", "", caller)
		assert.Equal(t, http.StatusNotFound, w.Code, caller)
	}
	w, _ = e.doAs(t, http.MethodPost, "/player/sessions/"+second+"/messages", `{"type":"scorm_finish","data":{}}`, "", guestA)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// A signed-in user cannot reach a guest session either.
	w, _ = e.doAs(t, http.MethodGet, "/player/sessions/"+first, "", token(t, "7"), guestA)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Reopening with the issued id replaces only A's own session.
	third, again := open(guestA)
	assert.Equal(t, guestA, again)
	assert.NotEqual(t, first, third)
	w, _ = e.doAs(t, http.MethodGet, "/player/sessions/"+first, "", "", guestA)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = e.doAs(t, http.MethodGet, "/player/sessions/"+second, "", "", guestB)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, e.players.Len())
}

func TestForgedTokenRejected(t *testing.T) {
	e := newEnv(t)
	e.progress.units = []store.UnitProgress{{UnitID: "1", SCOID: "sco-1", Finished: true}}

	w, out := e.do(t, http.MethodGet, "/courses/12/progress", "", tokenSignedWith(t, "not-the-secret", "31"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", out["code"])
	assert.Empty(t, e.progress.userID)

	alice := token(t, "alice")
	id := e.open(t, `{"course_id":"12","unit_id":"1"}`, alice)
	w, _ = e.do(t, http.MethodGet, "/player/sessions/"+id, "", tokenSignedWith(t, "not-the-secret", "alice"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, _ = e.do(t, http.MethodDelete, "/player/sessions/"+id, "", tokenSignedWith(t, "not-the-secret", "alice"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 1, e.players.Len())
}

func TestNavigationEndpoints(t *testing.T) {
	e := newEnv(t)
	learner := token(t, "7")
	id := e.open(t, `{"course_id":"12","unit_id":"1"}`, learner)

	w, out := e.do(t, http.MethodPost, "/player/sessions/"+id+"/previous", "", learner)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, out["moved"])
	assert.Equal(t, id, out["session"].(map[string]any)["id"])

	w, out = e.do(t, http.MethodPost, "/player/sessions/"+id+"/next", "", learner)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, out["moved"])
	next := out["session"].(map[string]any)
	assert.Equal(t, "2", next["unit_id"])
	assert.Equal(t, "2 / 3", next["position"])
	assert.NotEqual(t, id, next["id"])

	// The old session is gone.
	w, _ = e.do(t, http.MethodGet, "/player/sessions/"+id, "", learner)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Unit 3 has no content: moving there fails and the session stays.
	nextID := next["id"].(string)
	w, out = e.do(t, http.MethodPost, "/player/sessions/"+nextID+"/next", "", learner)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, CodeContentNotAvailable, out["code"])
	w, _ = e.do(t, http.MethodGet, "/player/sessions/"+nextID, "", learner)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRelayMessage(t *testing.T) {
	e := newEnv(t)
	learner := token(t, "7")
	id := e.open(t, `{"course_id":"12","unit_id":"2"}`, learner)
	path := "/player/sessions/" + id + "/messages"

	w, out := e.do(t, http.MethodPost, path, `{"type":"scorm_set_value","element":"cmi.core.score.raw","value":"77"}`, learner)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, true, out["accepted"])

	w, out = e.do(t, http.MethodPost, path, `{"element":"x"}`, learner)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, false, out["accepted"])

	w, out = e.do(t, http.MethodPost, path, `{"type":"scorm_finish","data":{}}`, learner)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, true, out["accepted"])

	_, out = e.do(t, http.MethodGet, "/player/sessions/"+id, "", learner)
	s := out["session"].(map[string]any)
	assert.Equal(t, true, s["finished"])
	progress := s["progress"].(map[string]any)
	assert.EqualValues(t, 77, progress["score"])
}

func TestReportLoadErrorAndRetry(t *testing.T) {
	e := newEnv(t)
	learner := token(t, "7")
	id := e.open(t, `{"course_id":"12","unit_id":"1"}`, learner)

	w, out := e.do(t, http.MethodPost, "/player/sessions/"+id+"/load-error", `{"status":500,"reason":"webview crashed"}`, learner)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, CodeContentLoadFailed, out["code"])
	assert.Equal(t, "Failed to load SCORM content", out["error"])
	assert.Equal(t, "failed", out["session"].(map[string]any)["load_state"])

	w, out = e.do(t, http.MethodPost, "/player/sessions/"+id+"/retry", "", learner)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, out["code"])
	s := out["session"].(map[string]any)
	assert.Equal(t, "loading", s["load_state"])
	assert.Equal(t, id, s["id"])
	assert.EqualValues(t, 1, s["attempts"])

	w, out = e.do(t, http.MethodPost, "/player/sessions/"+id+"/loaded", "", learner)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "loaded", out["session"].(map[string]any)["load_state"])
}

func TestBridgeScript(t *testing.T) {
	e := newEnv(t)
	id := e.open(t, `{"course_id":"12","unit_id":"1"}`, token(t, "55"))

	req := httptest.NewRequest(http.MethodGet, "/player/sessions/"+id+"/bridge.js", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "55"))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/javascript; charset=utf-8", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.Contains(t, body, "ReactNativeWebView")
	assert.Contains(t, body, `"55"`)
	assert.Contains(t, body, "Test Learner")
}

func TestCloseSession(t *testing.T) {
	e := newEnv(t)
	learner := token(t, "7")
	id := e.open(t, `{"course_id":"12","unit_id":"1"}`, learner)

	w, _ := e.do(t, http.MethodDelete, "/player/sessions/"+id, "", learner)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, _ = e.do(t, http.MethodDelete, "/player/sessions/"+id, "", learner)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 0, e.players.Len())
}

func TestUnits(t *testing.T) {
	e := newEnv(t)

	w, out := e.do(t, http.MethodGet, "/courses/12/units", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "Safety basics", out["course"].(map[string]any)["title"])
	units := out["units"].([]any)
	require.Len(t, units, 3)
	first := units[0].(map[string]any)
	assert.Equal(t, "Welcome", first["title"])
	assert.Equal(t, "sco-1", first["first_sco"])
	assert.EqualValues(t, 0, first["index"])
	assert.Equal(t, "Empty", units[2].(map[string]any)["title"])
}

func TestLogin(t *testing.T) {
	e := newEnv(t)
	e.lms.login = &lms.LoginResult{
		AccessToken: "access",
		Claims:      &lms.Claims{UserID: "9", Username: "amina", FullName: "Amina"},
		Tenant:      "taallum",
	}

	w, out := e.do(t, http.MethodPost, "/auth/login", `{"username":"amina","password":"pw"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "access", out["access_token"])
	assert.Equal(t, "taallum", out["user"].(map[string]any)["tenant"])

	w, _ = e.do(t, http.MethodPost, "/auth/login", `{"username":"amina"}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	e.lms.loginErr = &lms.APIError{Op: "login", Kind: lms.ErrLoginRejected, Message: "bad credentials"}
	w, out = e.do(t, http.MethodPost, "/auth/login", `{"username":"amina","password":"nope"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, CodeLoginRejected, out["code"])
}

func TestCourseProgress(t *testing.T) {
	e := newEnv(t)
	score := 90
	e.progress.units = []store.UnitProgress{{UnitID: "1", SCOID: "sco-1", Score: &score, Finished: true}}

	w, _ := e.do(t, http.MethodGet, "/courses/12/progress", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, out := e.do(t, http.MethodGet, "/courses/12/progress", "", token(t, "31"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "31", e.progress.userID)
	units := out["units"].([]any)
	require.Len(t, units, 1)
	assert.EqualValues(t, 90, units[0].(map[string]any)["score"])
}

func TestRelayRejectsOversizedBody(t *testing.T) {
	e := newEnv(t)
	learner := token(t, "7")
	id := e.open(t, `{"course_id":"12","unit_id":"1"}`, learner)

	big := bytes.Repeat([]byte("a"), maxMessageBytes+1)
	req := httptest.NewRequest(http.MethodPost, "/player/sessions/"+id+"/messages", bytes.NewReader(big))
	req.Header.Set("Authorization", "Bearer "+learner)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
