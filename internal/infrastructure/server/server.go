package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/ScormHost/backend/internal/api/http"
	"github.com/GriffinCanCode/ScormHost/backend/internal/api/middleware"
	"github.com/GriffinCanCode/ScormHost/backend/internal/api/ws"
	"github.com/GriffinCanCode/ScormHost/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/ScormHost/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/ScormHost/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ScormHost/backend/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/ScormHost/backend/internal/lms"
	"github.com/GriffinCanCode/ScormHost/backend/internal/player"
	"github.com/GriffinCanCode/ScormHost/backend/internal/resolver"
	"github.com/GriffinCanCode/ScormHost/backend/internal/sandbox"
	"github.com/GriffinCanCode/ScormHost/backend/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	http    *http.Server
	players *player.Manager
	lms     *lms.Client
	pool    *sandbox.Pool
	store   *store.SQLiteStore
	tracer  *tracing.Tracer
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return newServer(cfg, logger)
}

func newServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	logger.Info("Initializing SCORM host",
		zap.String("port", cfg.Server.Port),
		zap.String("lms_origin", cfg.LMS.Origin),
		zap.Bool("headless", cfg.Player.Headless),
	)

	policy, err := resolver.ParsePolicy(cfg.Player.ResolverPolicy)
	if err != nil {
		return nil, err
	}

	verifier, err := lms.NewVerifier(cfg.Auth)
	if err != nil {
		return nil, err
	}
	if !verifier.Enabled() {
		logger.Warn("No token verification key configured, bearer tokens will be rejected")
	}

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("scormhost", logger.Component("trace"))

	platform := lms.NewClient(cfg.LMS, logger.Component("lms"), lms.WithMetrics(metrics))

	s := &Server{
		lms:     platform,
		tracer:  tracer,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}

	var opts []player.Option
	if cfg.Player.Headless {
		sbCfg := sandboxConfig(cfg.Sandbox)
		pool, err := sandbox.NewPool(sbCfg, cfg.Sandbox.PoolSize, logger.Component("sandbox"))
		if err != nil {
			tracer.Close()
			return nil, fmt.Errorf("failed to create sandbox pool: %w", err)
		}
		content := resty.New().
			SetTimeout(cfg.LMS.Timeout).
			SetHeader("User-Agent", "ScormHost/1.0 (headless)").
			OnBeforeRequest(tracing.RestyMiddleware())
		loader := sandbox.NewLoader(content, sbCfg, logger.Component("loader"))
		s.pool = pool
		opts = append(opts, player.WithSandbox(pool, loader))
		logger.Info("Headless sandbox initialized", zap.Int("pool_size", cfg.Sandbox.PoolSize))
	}

	// The ledger is best-effort: playback works without it.
	var progress apihttp.ProgressReader
	if cfg.Store.Enabled {
		st, err := openStore(cfg.Store.Path)
		if err != nil {
			logger.Warn("Progress ledger disabled", zap.String("path", cfg.Store.Path), zap.Error(err))
		} else {
			s.store = st
			progress = st
			opts = append(opts, player.WithRecorder(st))
			logger.Info("Progress ledger opened", zap.String("path", cfg.Store.Path))
		}
	}
	opts = append(opts, player.WithMetrics(metrics))

	s.players = player.NewManager(player.Config{
		Origin:     cfg.LMS.Origin,
		OutboxSize: cfg.Player.OutboxSize,
		Headless:   cfg.Player.Headless,
	}, platform, resolver.New(policy), logger.Component("player"), opts...)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	corsCfg := middleware.DefaultCORSConfig()
	if len(cfg.CORS.AllowOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.CORS.AllowOrigins
	}
	router.Use(middleware.CORS(corsCfg))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}
	router.Use(middleware.Auth(verifier, logger.Component("auth")))

	handlers := apihttp.NewHandlers(s.players, platform, progress, metrics, logger.Component("http"), cfg.Server.PublicURL)
	wsHandler := ws.NewHandler(s.players, metrics, logger.Component("ws"))

	handlers.Register(router)
	router.GET("/player/sessions/:sid/ws", wsHandler.HandleConnection)
	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	s.router = router
	s.http = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           compress(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server initialized successfully")
	return s, nil
}

// compress gzips responses for clients that accept it. WebSocket upgrades
// bypass the wrapper so the connection can be hijacked.
func compress(next http.Handler) http.Handler {
	gz := gzhttp.GzipHandler(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}
		gz.ServeHTTP(w, r)
	})
}

func sandboxConfig(cfg config.SandboxConfig) sandbox.Config {
	sb := sandbox.DefaultConfig()
	if cfg.Timeout > 0 {
		sb.Timeout = cfg.Timeout
	}
	if cfg.MaxCallStack > 0 {
		sb.MaxCallStack = cfg.MaxCallStack
	}
	if cfg.MaxPageBytes > 0 {
		sb.MaxPageBytes = cfg.MaxPageBytes
	}
	return sb
}

func openStore(path string) (*store.SQLiteStore, error) {
	st, err := store.NewSQLite(path)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := st.EnsureSchema(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// Handler returns the root HTTP handler, compression included.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Players returns the session manager.
func (s *Server) Players() *player.Manager {
	return s.players
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{
		"status":   "healthy",
		"uptime":   s.metrics.UptimeDuration().String(),
		"sessions": s.players.Len(),
		"metrics":  s.metrics.Snapshot(),
		"lms": gin.H{
			"origin":  s.config.LMS.Origin,
			"breaker": s.lms.BreakerState().String(),
		},
		"headless": s.players.HeadlessAvailable(),
		"ledger":   s.store != nil,
	}
	if s.pool != nil {
		body["sandbox"] = s.pool.Stats()
	}
	c.JSON(http.StatusOK, body)
}

// Run starts the HTTP server and blocks until it stops. A clean Close
// returns nil.
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close gracefully shuts down the server
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	s.players.Shutdown()

	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sandbox pool: %w", err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("progress ledger: %w", err))
		}
	}
	s.tracer.Close()

	err := errors.Join(errs...)
	if err != nil {
		s.logger.Error("Shutdown finished with errors", zap.Error(err))
	}

	// Sync logger before exit
	_ = s.logger.Sync()

	return err
}
