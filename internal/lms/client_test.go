package lms

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/ScormHost/backend/internal/course"
	"github.com/GriffinCanCode/ScormHost/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/ScormHost/backend/internal/infrastructure/resilience"
)

func signToken(t *testing.T, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Default().LMS
	cfg.Origin = srv.URL
	cfg.RetryMax = 0
	cfg.Timeout = 2 * time.Second
	return NewClient(cfg, nil), srv
}

const previewBody = `{
  "success": true,
  "status": 200,
  "data": {
    "course": {"id": 12, "title": "Safety Basics"},
    "metadata": {"user_authenticated": true},
    "learning_units": [
      {"id": 101, "title": "Intro", "first_sco": {"uuid": "a", "preview_data": {"preview_track_url": "/scorm/a/index.html"}},
       "scos": [{"uuid": "a", "preview_data": {"preview_track_url": "/scorm/a/index.html"}}],
       "user_status": {"status": "in_progress", "progress": 40}}
    ]
  }
}`

func TestFetchCoursePreview(t *testing.T) {
	token := signToken(t, Claims{UserID: "7", TenantID: "learn"})

	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tenant/taallum/v1/courses/12/preview", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("trackEnabled"))
		assert.Equal(t, "Bearer "+token, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(previewBody))
	})

	preview, err := client.FetchCoursePreview(context.Background(), token, "12")
	require.NoError(t, err)
	assert.Equal(t, course.ID("12"), preview.Course.ID)
	assert.True(t, preview.Metadata.UserAuthenticated)
	require.Len(t, preview.LearningUnits, 1)
	assert.Equal(t, "/scorm/a/index.html", preview.LearningUnits[0].FirstSCO.TrackURL())
	assert.Equal(t, 40.0, preview.LearningUnits[0].UserStatus.Progress)
}

func TestFetchCoursePreviewAnonymousUsesDefaultTenant(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tenant/taallum/v1/courses/5/preview", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"success":true,"data":{"course":{"id":"5"},"learning_units":[]}}`))
	})

	preview, err := client.FetchCoursePreview(context.Background(), "", "5")
	require.NoError(t, err)
	assert.Empty(t, preview.LearningUnits)
}

func TestFetchCoursePreviewErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"message":"token expired"}`, ErrUnauthorized},
		{"not found", http.StatusNotFound, `{}`, ErrNotFound},
		{"server error", http.StatusInternalServerError, `oops`, ErrInvalidResponse},
		{"missing data", http.StatusOK, `{"success":false}`, ErrInvalidResponse},
		{"not json", http.StatusOK, `<html>`, ErrInvalidResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.FetchCoursePreview(context.Background(), "", "1")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
		})
	}
}

func TestUnauthorizedMessageIsKept(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"token expired"}`))
	})

	_, err := client.FetchCoursePreview(context.Background(), "", "1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "token expired", apiErr.Message)
}

func TestNetworkError(t *testing.T) {
	client, srv := testClient(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	_, err := client.FetchCoursePreview(context.Background(), "", "1")
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestBreakerOpensOnUpstreamFailures(t *testing.T) {
	var calls atomic.Int32
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < 5; i++ {
		_, err := client.FetchCoursePreview(context.Background(), "", "1")
		require.Error(t, err)
	}
	assert.Equal(t, resilience.StateOpen, client.BreakerState())

	_, err := client.FetchCoursePreview(context.Background(), "", "1")
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, int32(5), calls.Load())
}

func TestBreakerIgnoresNotFound(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for i := 0; i < 10; i++ {
		_, _ = client.FetchCoursePreview(context.Background(), "", "1")
	}
	assert.Equal(t, resilience.StateClosed, client.BreakerState())
}

func TestLogin(t *testing.T) {
	token := signToken(t, Claims{
		UserID:   "42",
		Username: "ada",
		FullName: "Ada Lovelace",
		TenantID: "learn",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/tenant/auth/v1/login", r.URL.Path)
		_, _ = w.Write([]byte(`{"success":true,"status":200,"data":{"access_token":"` + token + `","refresh_token":"r1"}}`))
	})

	result, err := client.Login(context.Background(), "ada", "secret")
	require.NoError(t, err)
	assert.Equal(t, token, result.AccessToken)
	assert.Equal(t, "r1", result.RefreshToken)
	assert.Equal(t, "taallum", result.Tenant)
	assert.Equal(t, course.ID("42"), result.Claims.UserID)
	assert.Equal(t, "Ada Lovelace", result.Claims.DisplayName())
}

func TestLoginTopLevelToken(t *testing.T) {
	token := signToken(t, Claims{UserID: "3", TenantID: "acme"})
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"` + token + `"}`))
	})

	result, err := client.Login(context.Background(), "u", "p")
	require.NoError(t, err)
	assert.Equal(t, "acme", result.Tenant)
}

func TestLoginRejected(t *testing.T) {
	t.Run("error body with 200", func(t *testing.T) {
		client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"data":{"status":"error","message":"Invalid credentials"}}`))
		})
		_, err := client.Login(context.Background(), "u", "bad")
		require.ErrorIs(t, err, ErrLoginRejected)
		assert.Contains(t, err.Error(), "Invalid credentials")
	})

	t.Run("401", func(t *testing.T) {
		client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
		_, err := client.Login(context.Background(), "u", "bad")
		assert.ErrorIs(t, err, ErrLoginRejected)
	})

	t.Run("missing token", func(t *testing.T) {
		client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"data":{}}`))
		})
		_, err := client.Login(context.Background(), "u", "p")
		assert.ErrorIs(t, err, ErrInvalidResponse)
	})
}

func TestRateLimiterHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"course":{"id":1}}}`))
	}))
	defer srv.Close()

	cfg := config.Default().LMS
	cfg.Origin = srv.URL
	cfg.RetryMax = 0
	cfg.RateLimitRPS = 0.5
	client := NewClient(cfg, nil)

	_, err := client.FetchCoursePreview(context.Background(), "", "1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.FetchCoursePreview(ctx, "", "1")
	assert.Error(t, err)
}
