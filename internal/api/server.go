// Package api provides the HTTP control-plane server for the sequencer.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jotautomation/iris/internal/api/middleware"
	"github.com/jotautomation/iris/internal/control"
	"github.com/jotautomation/iris/internal/intake"
	"github.com/jotautomation/iris/internal/persistence"
	"github.com/jotautomation/iris/internal/progress"
	"github.com/jotautomation/iris/internal/sequence"
)

// Server represents the station's HTTP control-plane server: control-event
// submission, run control (pause/resume/abort/terminate), progress
// polling and streaming, and health checks.
type Server struct {
	httpServer     *http.Server
	logger         *slog.Logger
	config         *ServerConfig
	startTime      time.Time
	callerKeyStore persistence.CallerKeyStore
	rateLimiter    middleware.RateLimiter

	control   *control.TestControl
	uiIntake  *intake.UIIntake // nil unless the station's active SN source is SN_FROM_UI
	reporter  *progress.Reporter
	registry  *sequence.Registry
	buildInfo string
}

// NewServer creates a new HTTP server instance with structured logging and middleware stack.
//
// Dependencies are injected explicitly rather than being part of ServerConfig.
// This follows the dependency injection pattern where configuration (what) is
// separated from dependencies (how).
//
// Parameters:
//   - cfg: Pure server configuration (ports, timeouts, CORS settings)
//   - callerKeyStore: caller-key storage implementation (nil disables authentication)
//   - rateLimiter: Rate limiter implementation (nil disables rate limiting)
//   - tc: the station's run-control surface (REQUIRED - panics if nil)
//   - uiIntake: the active UIIntake, or nil if the station's SN source is
//     external or instrument-driven (control-events endpoint then returns 409)
//   - reporter: the station's progress reporter (REQUIRED - panics if nil)
//   - registry: the station's sequence registry (nil disables GET /api/v1/sequences)
//   - buildInfo: a build identifier surfaced in health responses
func NewServer(
	cfg *ServerConfig,
	callerKeyStore persistence.CallerKeyStore,
	rateLimiter middleware.RateLimiter,
	tc *control.TestControl,
	uiIntake *intake.UIIntake,
	reporter *progress.Reporter,
	registry *sequence.Registry,
	buildInfo string,
) *Server {
	// Create structured logger with configured log level
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	if tc == nil || reporter == nil {
		logger.Error("control surface and progress reporter are required to start the control-plane server")
		panic("api: TestControl and progress.Reporter cannot be nil - this indicates a configuration error")
	}

	// Create base HTTP mux
	mux := http.NewServeMux()

	// Create server instance for route setup
	server := &Server{
		logger:         logger,
		config:         cfg,
		callerKeyStore: callerKeyStore,
		rateLimiter:    rateLimiter,
		control:        tc,
		uiIntake:       uiIntake,
		reporter:       reporter,
		registry:       registry,
		buildInfo:      buildInfo,
	}

	// Set up all API routes
	server.setupRoutes(mux)

	// Log middleware configuration
	if callerKeyStore != nil {
		logger.Info("caller-key authentication middleware enabled")
	} else {
		logger.Warn("CallerKeyStore not configured - caller-key authentication middleware disabled")
	}

	if rateLimiter != nil {
		logger.Info("rate limiting middleware enabled")
	} else {
		logger.Warn("RateLimiter not configured - rate limiting middleware disabled")
	}

	if uiIntake == nil {
		logger.Info("UI intake not active on this station - control-events endpoint will reject submissions")
	}

	// Apply middleware chain using functional options pattern.
	// Middleware executes in the order listed (top-to-bottom):
	//   1. CorrelationID - generate correlation ID for all responses
	//   2. Recovery - catch panics in all downstream middleware
	//   3. Caller Auth - identify caller and set CallerContext (optional)
	//   4. RateLimit - block requests before expensive operations (optional)
	//   5. RequestLogger - log only legitimate requests (not rate-limited spam)
	//   6. CORS - lightweight header manipulation
	handler := middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithAuthCaller(callerKeyStore, logger),
		middleware.WithRateLimit(rateLimiter, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	server.httpServer = httpServer

	return server
}

// Start starts the HTTP server and blocks until shutdown.
// It handles graceful shutdown on SIGINT and SIGTERM signals.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	// Record server start time for uptime calculation
	s.startTime = time.Now()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	// Start server in a goroutine
	go func() {
		s.logger.Info("starting control-plane API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server failed to start",
				slog.String("address", s.config.Address()),
				slog.String("error", err.Error()),
			)

			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("received shutdown signal",
			slog.String("signal", sig.String()),
		)

		return s.shutdown()
	}
}

// shutdown gracefully shuts down the server.
func (s *Server) shutdown() error {
	// Create context with timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("initiating server shutdown",
		slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
	)

	// Attempt graceful shutdown of HTTP server
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("server shutdown failed",
			slog.String("error", err.Error()),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// Close all dependencies (best-effort - log failures but continue shutdown)
	s.closeDependency("caller key store", s.callerKeyStore)
	s.closeDependency("rate limiter", s.rateLimiter)

	if s.uiIntake != nil {
		s.closeDependency("UI intake", s.uiIntake)
	}

	s.logger.Info("server shutdown completed successfully")

	return nil
}

// closeDependency attempts to close a server dependency that implements io.Closer.
// Logs the operation and its result. Errors are logged but don't stop shutdown (best-effort).
func (s *Server) closeDependency(name string, store interface{}) {
	// Skip if store is nil
	if store == nil {
		return
	}

	s.logger.Info("closing " + name)

	// Check if store implements io.Closer
	closer, ok := store.(io.Closer)
	if !ok {
		// Dependency doesn't implement io.Closer, nothing to close
		return
	}

	// Attempt to close (log error but continue)
	if err := closer.Close(); err != nil {
		s.logger.Error("failed to close "+name, slog.String("error", err.Error()))

		return
	}

	s.logger.Info(name + " closed successfully")
}
