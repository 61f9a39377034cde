// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/pullpay/internal/admin"
	"github.com/mbd888/pullpay/internal/clock"
	"github.com/mbd888/pullpay/internal/config"
	"github.com/mbd888/pullpay/internal/debit"
	"github.com/mbd888/pullpay/internal/events"
	"github.com/mbd888/pullpay/internal/health"
	"github.com/mbd888/pullpay/internal/idgen"
	"github.com/mbd888/pullpay/internal/ledger"
	"github.com/mbd888/pullpay/internal/logging"
	"github.com/mbd888/pullpay/internal/metrics"
	"github.com/mbd888/pullpay/internal/ratelimit"
	"github.com/mbd888/pullpay/internal/realtime"
	"github.com/mbd888/pullpay/internal/registry"
	"github.com/mbd888/pullpay/internal/security"
	"github.com/mbd888/pullpay/internal/store"
	"github.com/mbd888/pullpay/internal/transfer/erc20"
	"github.com/mbd888/pullpay/internal/validation"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	store       store.TxStore
	derive      store.Deriver
	adminSvc    *admin.Service
	registry    *registry.Registry
	debits      *debit.Service
	ledger      *ledger.Ledger // nil when the erc20 backend is active
	dispatcher  *events.Dispatcher
	realtimeHub *realtime.Hub
	rateLimiter *ratelimit.Limiter
	clock       clock.Source
	checks      *health.Registry
	db          *sql.DB // nil unless Postgres storage
	sqlite      *store.SQLiteStore
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger
	cancelRun   context.CancelFunc

	transferOverride debit.Transferer

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithClock sets a custom time/slot source (for testing)
func WithClock(src clock.Source) Option {
	return func(s *Server) {
		s.clock = src
	}
}

// WithTransferer overrides the value-transfer backend (for testing).
func WithTransferer(t debit.Transferer) Option {
	return func(s *Server) {
		s.transferOverride = t
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
		clock:  clock.NewSystem(cfg.SlotInterval),
		derive: store.Blake3Deriver{},
		checks: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	if err := s.setupStorage(ctx); err != nil {
		return nil, err
	}

	transferer, err := s.setupTransferer()
	if err != nil {
		return nil, err
	}

	s.dispatcher = events.NewDispatcher()
	s.adminSvc = admin.New(s.store, s.derive, s.dispatcher, s.logger)
	s.registry = registry.New(s.store, s.derive, s.dispatcher, s.logger)
	s.debits = debit.New(s.store, s.derive, transferer, s.dispatcher, s.logger)
	s.realtimeHub = realtime.NewHub(s.logger)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()

	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// setupStorage picks Postgres, SQLite, or in-memory record storage.
func (s *Server) setupStorage(ctx context.Context) error {
	switch {
	case s.cfg.DatabaseURL != "":
		db, err := sql.Open("postgres", s.cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db

		pg := store.NewPostgresStore(db)
		if err := pg.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate record store", "error", err)
		}
		s.store = pg
		s.checks.Register("postgres", health.DBChecker("postgres", db))
		metrics.StartDBStatsCollector(ctx, db, 15*time.Second)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(s.cfg.DatabaseURL))

	case s.cfg.SQLitePath != "":
		lite, err := store.OpenSQLite(s.cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("failed to open sqlite: %w", err)
		}
		s.sqlite = lite
		s.store = lite
		s.logger.Info("using SQLite storage", "path", s.cfg.SQLitePath)

	default:
		s.store = store.NewMemoryStore()
		s.logger.Warn("using in-memory storage, records are lost on restart")
	}
	return nil
}

// setupTransferer picks the value-transfer backend.
func (s *Server) setupTransferer() (debit.Transferer, error) {
	if s.transferOverride != nil {
		return s.transferOverride, nil
	}

	switch s.cfg.TransferBackend {
	case "erc20":
		t, err := erc20.New(erc20.Config{
			RPCURL:     s.cfg.RPCURL,
			PrivateKey: s.cfg.OperatorPrivateKey,
			ChainID:    s.cfg.ChainID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create erc20 backend: %w", err)
		}
		s.logger.Info("using erc20 transfer backend",
			"operator", t.Operator(),
			"chain_id", s.cfg.ChainID,
		)
		return t, nil

	default: // "ledger", validated by config
		var lstore ledger.Store
		if s.db != nil {
			pg := ledger.NewPostgresStore(s.db)
			if err := pg.Migrate(context.Background()); err != nil {
				s.logger.Warn("failed to migrate ledger store", "error", err)
			}
			lstore = pg
		} else {
			lstore = ledger.NewMemoryStore()
		}
		s.ledger = ledger.New(lstore)
		s.logger.Info("using internal ledger transfer backend")
		return s.ledger, nil
	}
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting keyed by caller identity
	limCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		limCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(limCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.WithPrefix("req_")
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

func (s *Server) setupRoutes() {
	// Health & metrics
	s.router.GET("/healthz", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")
	// Validate hex URL params on all v1 routes (no-op when params absent)
	v1.Use(validation.HexParamMiddleware())

	// Engine lifecycle
	v1.POST("/init", s.initHandler)
	v1.POST("/admin", s.updateAdminHandler)
	v1.DELETE("/records/:address", s.closeRecordHandler)
	v1.GET("/records/:address", s.getRecordHandler)

	// Merchant permission hierarchy
	v1.PUT("/merchants/:id/manager", s.setManagerHandler)
	v1.PUT("/merchants/:id/tokens/:token/debitors/:identity", s.setDebitorHandler)
	v1.PUT("/merchants/:id/tokens/:token/destinations/:identity", s.setDestinationHandler)
	v1.PUT("/merchants/:id/tokens/:token/delegates/:holder", s.setDelegateHandler)

	// Debits
	v1.POST("/debits", s.debitHandler)

	// Internal ledger (only with the ledger backend)
	if s.ledger != nil {
		v1.POST("/ledger/deposits", s.depositHandler)
		v1.GET("/ledger/balances/:token/:account", s.balanceHandler)
		v1.GET("/ledger/history/:token/:account", s.historyHandler)
	}

	// WebSocket event stream
	v1.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})
}

// Run starts the server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx, s.dispatcher)

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRun != nil {
		s.cancelRun()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		}
	}
	if s.sqlite != nil {
		if err := s.sqlite.Close(); err != nil {
			s.logger.Error("sqlite close error", "error", err)
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
