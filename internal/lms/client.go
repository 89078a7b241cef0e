package lms

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/ScormHost/backend/internal/course"
	"github.com/GriffinCanCode/ScormHost/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/ScormHost/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ScormHost/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/ScormHost/backend/internal/infrastructure/tracing"
)

// Client wraps resty with rate limiting and a circuit breaker
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	metrics *monitoring.Metrics
	logger  *zap.Logger
	track   bool
}

// Option configures a Client.
type Option func(*Client)

// WithMetrics records LMS call metrics.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// NewClient creates the platform client for cfg.
func NewClient(cfg config.LMSConfig, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// Transport-level retries for connection failures and 5xx.
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = nil
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	restyClient := resty.NewWithClient(retryClient.StandardClient()).
		SetBaseURL(cfg.APIBaseURL()).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "ScormHost/1.0").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal).
		OnBeforeRequest(tracing.RestyMiddleware())

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimitRPS > 0 {
		burst := int(cfg.RateLimitRPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}

	c := &Client{
		resty:   restyClient,
		limiter: limiter,
		logger:  logger,
		track:   cfg.TrackEnabled,
	}
	c.breaker = resilience.New("lms", resilience.Settings{
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Only upstream trouble trips the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrUnauthorized) ||
				errors.Is(err, ErrNotFound) ||
				errors.Is(err, ErrLoginRejected)
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BreakerState reports the circuit state.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// previewEnvelope is the platform's {success, data, status} wrapper.
type previewEnvelope struct {
	Success bool            `json:"success"`
	Data    *course.Preview `json:"data"`
}

// FetchCoursePreview loads the course snapshot: units, SCOs and the
// learner's status. token may be empty for anonymous previews.
func (c *Client) FetchCoursePreview(ctx context.Context, token, courseID string) (*course.Preview, error) {
	courseID = strings.TrimSpace(courseID)
	if courseID == "" {
		return nil, &APIError{Op: "course preview", Kind: ErrNotFound, Message: "course id required"}
	}

	tenant := DefaultTenant
	if token != "" {
		if claims, err := ParseToken(token); err == nil {
			tenant = claims.TenantSlug()
		}
	}

	path := fmt.Sprintf("/%s/v1/courses/%s/preview", url.PathEscape(tenant), url.PathEscape(courseID))
	body, err := c.do(ctx, "course_preview", func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetAuthToken(token).
			SetQueryParam("trackEnabled", strconv.FormatBool(c.track)).
			Get(path)
	})
	if err != nil {
		return nil, err
	}

	var env previewEnvelope
	if err := sonic.Unmarshal(body, &env); err != nil {
		return nil, &APIError{Op: "course preview", Kind: ErrInvalidResponse, Message: err.Error()}
	}
	if env.Data == nil {
		return nil, &APIError{Op: "course preview", Kind: ErrInvalidResponse, Message: "missing data"}
	}
	return env.Data, nil
}

// LoginResult is a successful sign-in.
type LoginResult struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token,omitempty"`
	Claims       *Claims `json:"-"`
	Tenant       string  `json:"tenant"`
}

// loginData is either the "data" object or the top-level body. Status is
// a string inside data and an HTTP code at the top level.
type loginData struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Status       any    `json:"status"`
	Message      string `json:"message"`
}

func (d loginData) rejected() bool {
	s, ok := d.Status.(string)
	return ok && s == "error"
}

// Login exchanges credentials for an access token. A body reporting
// status "error" is a rejection even with HTTP 200.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	body, err := c.do(ctx, "login", func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetBody(map[string]string{"username": username, "password": password}).
			Post("/auth/v1/login")
	})
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return nil, &APIError{Op: "login", Status: http.StatusUnauthorized, Kind: ErrLoginRejected}
		}
		return nil, err
	}

	// The token sits under "data" or at the top level.
	var top struct {
		loginData
		Data *loginData `json:"data"`
	}
	if err := sonic.Unmarshal(body, &top); err != nil {
		return nil, &APIError{Op: "login", Kind: ErrInvalidResponse, Message: err.Error()}
	}
	data := top.loginData
	if top.Data != nil {
		data = *top.Data
	}

	if data.rejected() {
		msg := data.Message
		if msg == "" {
			msg = ErrLoginRejected.Error()
		}
		return nil, &APIError{Op: "login", Kind: ErrLoginRejected, Message: msg}
	}
	if data.AccessToken == "" {
		return nil, &APIError{Op: "login", Kind: ErrInvalidResponse, Message: "missing access_token"}
	}

	claims, err := ParseToken(data.AccessToken)
	if err != nil {
		return nil, &APIError{Op: "login", Kind: ErrInvalidResponse, Message: err.Error()}
	}

	return &LoginResult{
		AccessToken:  data.AccessToken,
		RefreshToken: data.RefreshToken,
		Claims:       claims,
		Tenant:       claims.TenantSlug(),
	}, nil
}

// do runs one request through the limiter and breaker and maps the status.
func (c *Client) do(ctx context.Context, op string, send func(*resty.Request) (*resty.Response, error)) ([]byte, error) {
	timer := monitoring.NewTimer(c.metrics, op)

	if err := c.limiter.Wait(ctx); err != nil {
		timer.Stop("rate_limited")
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	body, err := resilience.Call(c.breaker, func() ([]byte, error) {
		resp, err := send(c.resty.R().SetContext(ctx))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &APIError{Op: op, Kind: ErrNetwork, Message: err.Error()}
		}
		return checkStatus(op, resp)
	})

	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
		status = "circuit_open"
		err = &APIError{Op: op, Kind: ErrNetwork, Message: err.Error()}
	case errors.Is(err, ErrUnauthorized):
		status = "unauthorized"
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	default:
		status = "error"
	}
	timer.Stop(status)

	if err != nil {
		c.logger.Debug("lms call failed", zap.String("op", op), zap.String("status", status), zap.Error(err))
	}
	return body, err
}

func checkStatus(op string, resp *resty.Response) ([]byte, error) {
	code := resp.StatusCode()
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return nil, &APIError{Op: op, Status: code, Kind: ErrUnauthorized, Message: message(resp)}
	case code == http.StatusNotFound:
		return nil, &APIError{Op: op, Status: code, Kind: ErrNotFound, Message: message(resp)}
	case code >= http.StatusBadRequest:
		return nil, &APIError{Op: op, Status: code, Kind: ErrInvalidResponse, Message: message(resp)}
	}
	return resp.Body(), nil
}

// message extracts the platform's error text when the body carries one.
func message(resp *resty.Response) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Data    struct {
			Message string `json:"message"`
		} `json:"data"`
	}
	if err := sonic.Unmarshal(resp.Body(), &body); err != nil {
		return http.StatusText(resp.StatusCode())
	}
	for _, m := range []string{body.Message, body.Data.Message, body.Error} {
		if m != "" {
			return m
		}
	}
	return http.StatusText(resp.StatusCode())
}
