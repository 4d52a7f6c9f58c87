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

	"github.com/sellora/escrowd/internal/audit"
	"github.com/sellora/escrowd/internal/authz"
	"github.com/sellora/escrowd/internal/commission"
	"github.com/sellora/escrowd/internal/config"
	"github.com/sellora/escrowd/internal/currency"
	"github.com/sellora/escrowd/internal/escrow"
	"github.com/sellora/escrowd/internal/fundrelease"
	"github.com/sellora/escrowd/internal/health"
	"github.com/sellora/escrowd/internal/idgen"
	"github.com/sellora/escrowd/internal/logging"
	"github.com/sellora/escrowd/internal/metrics"
	"github.com/sellora/escrowd/internal/notify"
	"github.com/sellora/escrowd/internal/order"
	"github.com/sellora/escrowd/internal/payments"
	"github.com/sellora/escrowd/internal/ratelimit"
	"github.com/sellora/escrowd/internal/security"
	"github.com/sellora/escrowd/internal/traces"
	"github.com/sellora/escrowd/internal/txn"
	"github.com/sellora/escrowd/internal/validation"
	"github.com/sellora/escrowd/internal/wallet"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	orders   order.Store
	wallets  wallet.Store
	releases fundrelease.Store
	trail    audit.Logger

	ledger       *wallet.Ledger
	frService    *fundrelease.Service
	frTimer      *fundrelease.Timer
	orchestrator *escrow.Orchestrator
	mailer       notify.Mailer
	txns         txn.Provider

	healthReg     *health.Registry
	rateLimiter   *ratelimit.Limiter
	db            *sql.DB // nil if using in-memory
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	traceShutdown func(context.Context) error
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run

	// Health state
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

// WithMailer sets a custom mailer (for testing)
func WithMailer(m notify.Mailer) Option {
	return func(s *Server) {
		s.mailer = m
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set mailer/logger)
	for _, opt := range opts {
		opt(s)
	}

	s.healthReg = health.NewRegistry()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.orders = order.NewPostgresStore(db)
		s.wallets = wallet.NewPostgresStore(db)
		s.releases = fundrelease.NewPostgresStore(db)
		s.trail = audit.NewPostgresSink(db)
		s.txns = txn.NewSQLProvider(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.healthReg.Register("database", health.DBChecker("database", db, 2*time.Second))
	} else {
		memTxns := txn.NewMemoryProvider()
		s.orders = order.NewMemoryStore()
		s.wallets = wallet.NewMemoryStore()
		s.releases = fundrelease.NewMemoryStore()
		s.trail = audit.NewMemorySink()
		s.txns = memTxns
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	s.ledger = wallet.NewLedger(s.wallets)
	calc := commission.New(cfg.CommissionRateBps, currency.Amount(cfg.CommissionFlatFee))

	// Fund release state machine with the base ruleset
	s.frService = fundrelease.NewService(
		s.releases,
		&releaseLedgerAdapter{s.ledger},
		s.txns,
		calc,
		fundrelease.BaseRuleset{},
	)
	s.frTimer = fundrelease.NewTimer(s.frService, cfg.SweepInterval, s.logger)

	// Mailer: SMTP relay when configured, log-only otherwise
	if s.mailer == nil {
		if cfg.SMTPHost != "" {
			s.mailer = notify.NewSMTPMailer(notify.SMTPConfig{
				Host:     cfg.SMTPHost,
				Port:     cfg.SMTPPort,
				Username: cfg.SMTPUsername,
				Password: cfg.SMTPPassword,
				From:     cfg.MailFrom,
			}, s.logger)
			s.logger.Info("mail enabled", "relay", cfg.SMTPHost)
		} else {
			s.mailer = notify.NewLogMailer(s.logger)
			s.logger.Info("mail disabled (no SMTP_HOST set), logging instead")
		}
	}

	s.orchestrator = escrow.NewOrchestrator(
		s.orders,
		s.wallets,
		s.ledger,
		s.releases,
		s.txns,
		calc,
		authz.StaticAuthorizer{},
		s.trail,
		s.mailer,
		s.logger,
	)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
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

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

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

	// CORS: the admin console and storefront run on other origins
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
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
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
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

		// Log level based on status code
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

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/api", s.infoHandler)

	orderHandler := order.NewHandler(s.orders, s.frService, s.cfg.ReturnWindowDays, s.logger)

	// V1 API group
	v1 := s.router.Group("/v1")

	// Inbound webhooks (signature-verified, no admin auth)
	if s.cfg.StripeWebhookSecret != "" {
		stripeHandler := payments.NewStripeHandler(s.frService, s.cfg.StripeWebhookSecret, s.logger)
		stripeHandler.RegisterRoutes(v1)
		s.logger.Info("stripe webhook enabled")
	} else {
		s.logger.Warn("stripe webhook disabled (no STRIPE_WEBHOOK_SECRET set)")
	}
	orderHandler.RegisterWebhookRoutes(v1)

	// Admin routes, behind the shared admin secret
	admin := v1.Group("")
	admin.Use(authz.Middleware(s.cfg.AdminSecret))
	{
		escrow.NewHandler(s.orchestrator).RegisterRoutes(admin)
		fundrelease.NewHandler(s.frService).RegisterRoutes(admin)
		wallet.NewHandler(s.ledger).RegisterRoutes(admin)
		audit.NewHandler(s.trail).RegisterRoutes(admin)
		orderHandler.RegisterRoutes(admin)
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.healthReg.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "escrowd",
		"description": "Escrow and fund release engine for the Sellora marketplace",
		"version":     "0.1.0",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing
	shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.traceShutdown = shutdown
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start the auto-transition sweep
	go s.frTimer.Start(runCtx)

	// Sample DB pool stats into gauges
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
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

	// Cancel the context for all background goroutines (sweep timer, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop sweep timer
	if s.frTimer != nil {
		s.frTimer.Stop()
		s.logger.Info("sweep timer stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush traces
	if s.traceShutdown != nil {
		if err := s.traceShutdown(ctx); err != nil {
			s.logger.Warn("trace shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	return idgen.Hex(16)
}

// -----------------------------------------------------------------------------
// Adapters
// -----------------------------------------------------------------------------

// releaseLedgerAdapter adapts wallet.Ledger to fundrelease.LedgerService
type releaseLedgerAdapter struct {
	l *wallet.Ledger
}

func (a *releaseLedgerAdapter) Credit(ctx context.Context, sess txn.Session, walletID string, amount, shipping currency.Amount, reference, description string) (string, error) {
	t, err := a.l.Credit(ctx, sess, walletID, amount, shipping, wallet.Meta{
		Source:      "fund_release",
		RelatedID:   reference,
		RelatedType: "fund_release",
		Description: description,
	})
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

func (a *releaseLedgerAdapter) Debit(ctx context.Context, sess txn.Session, walletID string, amount, shipping currency.Amount, reference, description string) (string, error) {
	t, err := a.l.Debit(ctx, sess, walletID, amount, shipping, wallet.Meta{
		Source:      "fund_release",
		RelatedID:   reference,
		RelatedType: "fund_release",
		Description: description,
	})
	if err != nil {
		return "", err
	}
	return t.ID, nil
}
