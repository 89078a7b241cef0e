package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/ScormHost/backend/internal/lms"
	"github.com/GriffinCanCode/ScormHost/backend/internal/player"
	"github.com/GriffinCanCode/ScormHost/backend/internal/resolver"
	"github.com/GriffinCanCode/ScormHost/backend/internal/scorm"
)

// Error codes returned in the "code" field.
const (
	CodeContentNotAvailable = "content_not_available"
	CodeContentLoadFailed   = "content_failed_to_load"
	CodeSessionNotFound     = "session_not_found"
	CodeCourseNotFound      = "course_not_found"
	CodeUnauthorized        = "unauthorized"
	CodeLoginRejected       = "login_rejected"
	CodeNetwork             = "network_error"
	CodeUpstream            = "upstream_error"
	CodeBadRequest          = "bad_request"
	CodeHeadlessDisabled    = "headless_disabled"
	CodeLoadInProgress      = "load_in_progress"
	CodeUnavailable         = "unavailable"
	CodeInternal            = "internal_error"
)

type apiError struct {
	status  int
	code    string
	message string
}

// classify maps an error to its HTTP status, code and user-facing message.
func classify(err error) apiError {
	switch {
	case errors.Is(err, resolver.ErrUnitNotFound), errors.Is(err, resolver.ErrContentUnavailable):
		return apiError{http.StatusNotFound, CodeContentNotAvailable, "Content not available"}
	case errors.Is(err, scorm.ErrContentLoad):
		return apiError{http.StatusBadGateway, CodeContentLoadFailed, "Failed to load SCORM content"}
	case errors.Is(err, player.ErrSessionNotFound), errors.Is(err, player.ErrSessionClosed):
		return apiError{http.StatusNotFound, CodeSessionNotFound, err.Error()}
	case errors.Is(err, player.ErrHeadlessDisabled):
		return apiError{http.StatusBadRequest, CodeHeadlessDisabled, err.Error()}
	case errors.Is(err, player.ErrLoadInProgress):
		return apiError{http.StatusConflict, CodeLoadInProgress, err.Error()}
	case errors.Is(err, player.ErrManagerClosed):
		return apiError{http.StatusServiceUnavailable, CodeUnavailable, err.Error()}
	case errors.Is(err, lms.ErrLoginRejected):
		return apiError{http.StatusUnauthorized, CodeLoginRejected, err.Error()}
	case errors.Is(err, lms.ErrUnauthorized), errors.Is(err, lms.ErrInvalidToken), errors.Is(err, lms.ErrTokenExpired):
		return apiError{http.StatusUnauthorized, CodeUnauthorized, err.Error()}
	case errors.Is(err, lms.ErrNotFound):
		return apiError{http.StatusNotFound, CodeCourseNotFound, "Course not found"}
	case errors.Is(err, lms.ErrNetwork):
		return apiError{http.StatusBadGateway, CodeNetwork, lms.ErrNetwork.Error()}
	case errors.Is(err, lms.ErrInvalidResponse):
		return apiError{http.StatusBadGateway, CodeUpstream, err.Error()}
	default:
		return apiError{http.StatusInternalServerError, CodeInternal, "internal error"}
	}
}

func (h *Handlers) fail(c *gin.Context, err error) {
	e := classify(err)
	if e.status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(e.status, gin.H{
		"error": e.message,
		"code":  e.code,
	})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error": err.Error(),
		"code":  CodeBadRequest,
	})
}
