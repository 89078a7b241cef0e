// Package http exposes the player over a JSON API.
package http

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/ScormHost/backend/internal/api/middleware"
	"github.com/GriffinCanCode/ScormHost/backend/internal/course"
	"github.com/GriffinCanCode/ScormHost/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ScormHost/backend/internal/lms"
	"github.com/GriffinCanCode/ScormHost/backend/internal/player"
	"github.com/GriffinCanCode/ScormHost/backend/internal/store"
)

// maxMessageBytes bounds one relayed bridge message.
const maxMessageBytes = 64 << 10

// LMS is the upstream platform.
type LMS interface {
	FetchCoursePreview(ctx context.Context, token, courseID string) (*course.Preview, error)
	Login(ctx context.Context, username, password string) (*lms.LoginResult, error)
}

// ProgressReader reads the progress ledger.
type ProgressReader interface {
	CourseProgress(ctx context.Context, userID, courseID string) ([]store.UnitProgress, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	players   *player.Manager
	lms       LMS
	progress  ProgressReader
	metrics   *monitoring.Metrics
	logger    *zap.Logger
	publicURL string
}

// NewHandlers creates a new handler set. progress may be nil when the
// ledger is disabled.
func NewHandlers(
	players *player.Manager,
	platform LMS,
	progress ProgressReader,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
	publicURL string,
) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		players:   players,
		lms:       platform,
		progress:  progress,
		metrics:   metrics,
		logger:    logger,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

// Register mounts the API routes on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.POST("/auth/login", h.Login)

	courses := r.Group("/courses/:id")
	courses.GET("/units", h.Units)
	courses.GET("/progress", middleware.RequireUser(), h.CourseProgress)

	sessions := r.Group("/player/sessions")
	sessions.POST("", h.OpenSession)
	sessions.GET("/:sid", h.GetSession)
	sessions.DELETE("/:sid", h.CloseSession)
	sessions.POST("/:sid/next", h.Next)
	sessions.POST("/:sid/previous", h.Previous)
	sessions.POST("/:sid/retry", h.Retry)
	sessions.POST("/:sid/load-error", h.ReportLoadError)
	sessions.POST("/:sid/loaded", h.ReportLoaded)
	sessions.POST("/:sid/messages", h.RelayMessage)
	sessions.GET("/:sid/bridge.js", h.BridgeScript)
}

// Root identifies the service.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "scormhost",
	})
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login exchanges credentials for a platform token.
func (h *Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.lms.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token":  res.AccessToken,
		"refresh_token": res.RefreshToken,
		"user": gin.H{
			"id":        res.Claims.UserID,
			"username":  res.Claims.Username,
			"full_name": res.Claims.DisplayName(),
			"tenant":    res.Tenant,
		},
	})
}

type unitView struct {
	Index    int               `json:"index"`
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	FirstSCO string            `json:"first_sco,omitempty"`
	SCOCount int               `json:"sco_count"`
	Status   course.UserStatus `json:"user_status"`
}

// Units lists the course's learning units in play order.
func (h *Handlers) Units(c *gin.Context) {
	viewer := middleware.ViewerFrom(c)
	preview, err := h.lms.FetchCoursePreview(c.Request.Context(), viewer.Token, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	units := make([]unitView, 0, len(preview.LearningUnits))
	for i := range preview.LearningUnits {
		u := &preview.LearningUnits[i]
		units = append(units, unitView{
			Index:    i,
			ID:       u.ID.String(),
			Title:    course.UnitTitle(u),
			FirstSCO: u.FirstSCOUUID(),
			SCOCount: len(u.SCOs),
			Status:   u.UserStatus,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"course": gin.H{
			"id":    preview.Course.ID,
			"title": course.DisplayTitle(preview.Course.Title, "Course"),
		},
		"authenticated": preview.Metadata.UserAuthenticated,
		"units":         units,
	})
}

// CourseProgress returns the learner's recorded progress in a course.
func (h *Handlers) CourseProgress(c *gin.Context) {
	if h.progress == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "progress ledger disabled",
			"code":  CodeUnavailable,
		})
		return
	}

	viewer := middleware.ViewerFrom(c)
	units, err := h.progress.CourseProgress(c.Request.Context(), viewer.Identity().StudentID, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if units == nil {
		units = []store.UnitProgress{}
	}
	c.JSON(http.StatusOK, gin.H{"course_id": c.Param("id"), "units": units})
}

type openRequest struct {
	CourseID course.ID   `json:"course_id" binding:"required"`
	UnitID   course.ID   `json:"unit_id"`
	SCOID    string      `json:"sco_id"`
	Mode     player.Mode `json:"mode"`
}

// OpenSession opens a unit for the caller, replacing their current session
// in the course.
func (h *Handlers) OpenSession(c *gin.Context) {
	var req openRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	s, err := h.players.Open(c.Request.Context(), player.OpenRequest{
		Viewer:   middleware.ViewerFrom(c),
		CourseID: req.CourseID.String(),
		UnitID:   req.UnitID.String(),
		SCOID:    req.SCOID,
		Mode:     req.Mode,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.sessionBody(s))
}

// GetSession returns the session view.
func (h *Handlers) GetSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.sessionBody(s))
}

// CloseSession tears the session down.
func (h *Handlers) CloseSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := h.players.Close(s.ID.String()); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Next moves to the next unit.
func (h *Handlers) Next(c *gin.Context) {
	h.move(c, h.players.Next)
}

// Previous moves to the previous unit.
func (h *Handlers) Previous(c *gin.Context) {
	h.move(c, h.players.Previous)
}

func (h *Handlers) move(c *gin.Context, step func(context.Context, string) (*player.Session, bool, error)) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	next, moved, err := step(c.Request.Context(), s.ID.String())
	if err != nil {
		h.fail(c, err)
		return
	}
	body := h.sessionBody(next)
	body["moved"] = moved
	c.JSON(http.StatusOK, body)
}

// Retry reloads the session content.
func (h *Handlers) Retry(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if _, err := h.players.Retry(c.Request.Context(), s.ID.String()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.sessionBody(s))
}

type loadErrorRequest struct {
	Status int    `json:"status"`
	Reason string `json:"reason"`
}

// ReportLoadError records a load failure seen by an external web view.
func (h *Handlers) ReportLoadError(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req loadErrorRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	if _, err := h.players.ReportLoadError(s.ID.String(), req.Status, req.Reason); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.sessionBody(s))
}

// ReportLoaded records a completed load in an external web view.
func (h *Handlers) ReportLoaded(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if _, err := h.players.ReportLoaded(s.ID.String()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.sessionBody(s))
}

// RelayMessage applies one raw bridge message posted by a web view. Bad
// messages are acknowledged with accepted=false; they never fail the relay.
func (h *Handlers) RelayMessage(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxMessageBytes))
	if err != nil {
		badRequest(c, err)
		return
	}

	ev, err := s.Deliver(raw)
	if err != nil {
		if classify(err).code == CodeSessionNotFound {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"accepted": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true, "event": ev})
}

// BridgeScript serves the script a web view injects before content.
func (h *Handlers) BridgeScript(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	js, err := s.Shim()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "application/javascript; charset=utf-8", []byte(js))
}

// session loads the :sid session and checks it belongs to the caller.
// Sessions of other users and guests are reported as missing.
func (h *Handlers) session(c *gin.Context) (*player.Session, bool) {
	s, err := h.players.Get(c.Param("sid"))
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	if !s.OwnedBy(middleware.ViewerFrom(c)) {
		h.fail(c, player.ErrSessionNotFound)
		return nil, false
	}
	return s, true
}

func (h *Handlers) sessionBody(s *player.Session) gin.H {
	base := h.publicURL + "/player/sessions/" + s.ID.String()
	query := ""
	if s.Viewer.Guest() {
		query = "?" + url.Values{middleware.QueryPlayerID: {s.Viewer.PlayerID}}.Encode()
	}
	body := gin.H{
		"session": s.View(),
		"links": gin.H{
			"self":     base + query,
			"bridge":   base + "/bridge.js" + query,
			"messages": base + "/messages" + query,
			"ws":       wsURL(base) + query,
		},
	}
	if state, err := s.LoadState(); state == player.LoadFailed && err != nil {
		e := classify(err)
		body["error"] = e.message
		body["code"] = e.code
	}
	return body
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	}
	return base + "/ws"
}
