// Package api provides the HTTP control-plane server for the sequencer.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jotautomation/iris/internal/api/middleware"
	"github.com/jotautomation/iris/internal/persistence"
)

const (
	healthCheckTimeout  = 2 * time.Second
	expectedURLParts    = 2
	maxControlEventSize = 1 << 20 // 1 MiB
)

// Route represents an HTTP route configuration with a path and handler.
// Used for declarative route registration with middleware bypass support.
type Route struct {
	Path    string // The URL path for this route (e.g., "/ping", "/api/v1/health")
	Handler http.HandlerFunc
}

var errUIIntakeNotActive = errors.New("station is not configured for SN_FROM_UI intake")

// setupRoutes registers every HTTP route for the control-plane server.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// Public health endpoints
	s.registerPublicRoutes(
		mux,
		Route{"GET /ping", s.handlePing},
		Route{"GET /ready", s.handleReady},
		Route{"GET /healthz", s.handleHealth},
		Route{"/", s.handleNotFound},
	)

	// Control-event intake: external systems (or a caller acting on an
	// operator's behalf) submit SN/DUT assignments here.
	mux.HandleFunc("POST /api/v1/control-events", s.handleControlEvent)

	// Progress surface
	mux.HandleFunc("GET /api/v1/progress", s.handleProgressSnapshot)
	mux.HandleFunc("GET /api/v1/progress/stream", s.handleProgressStream)

	// Run control
	mux.HandleFunc("POST /api/v1/control/pause", s.handlePause)
	mux.HandleFunc("POST /api/v1/control/resume", s.handleResume)
	mux.HandleFunc("POST /api/v1/control/abort", s.handleAbort)
	mux.HandleFunc("POST /api/v1/control/terminate", s.handleTerminate)

	// Sequence inventory
	mux.HandleFunc("GET /api/v1/sequences", s.handleSequences)
}

// registerPublicRoutes registers HTTP routes that bypass authentication and rate limiting.
// This is a convenience method that:
//  1. Registers the route handler with the HTTP mux
//  2. Automatically registers the path as a public endpoint (bypasses auth middleware)
//
// Public routes should only be used for health check endpoints that need to be accessible
// without authentication (e.g., K8s liveness/readiness probes, monitoring tools).
//
// Security Warning: Never register business logic endpoints as public routes.
func (s *Server) registerPublicRoutes(mux *http.ServeMux, routes ...Route) {
	validHTTPMethods := map[string]bool{
		"GET":    true,
		"POST":   true,
		"PUT":    true,
		"PATCH":  true,
		"DELETE": true,
	}

	for _, route := range routes {
		mux.Handle(route.Path, route.Handler)

		// Strip method prefix for public endpoint bypass registration.
		// Go 1.22+ method-based routing uses "GET /path" format, but
		// r.URL.Path is just "/path" (no method prefix).
		path := route.Path

		parts := strings.Fields(path)
		if len(parts) == expectedURLParts && validHTTPMethods[parts[0]] {
			path = strings.TrimSpace(parts[1])
		}

		if path == "" {
			s.logger.Warn("malformed route path detected, ignoring route", slog.String("path", path))

			continue
		}

		middleware.RegisterPublicEndpoint(path)
	}
}

// handlePing responds to liveness probes with a basic plaintext response.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("pong")); err != nil {
		s.logger.Error("failed to write ping response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)
	}
}

// handleReady responds to readiness probes, checking the caller-key store's
// backing storage when one is configured.
//
// Response codes:
//   - 200 OK: ready to accept traffic
//   - 503 Service Unavailable: caller-key store backend is unreachable
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	if s.callerKeyStore == nil {
		s.writePlain(w, r, http.StatusOK, "ready")

		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.callerKeyStore.HealthCheck(ctx); err != nil {
		s.logger.Error("caller key store health check failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		s.writePlain(w, r, http.StatusServiceUnavailable, "caller key store unavailable")

		return
	}

	s.writePlain(w, r, http.StatusOK, "ready")
}

func (s *Server) writePlain(w http.ResponseWriter, r *http.Request, status int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)

	if _, err := w.Write([]byte(body)); err != nil {
		s.logger.Error("failed to write plaintext response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)
	}
}

// handleHealth returns station health status, build info, and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	var uptime string

	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Round(time.Second).String()
	}

	health := HealthStatus{
		Status:      "healthy",
		ServiceName: "iris-sequencer",
		Version:     s.buildInfo,
		Uptime:      uptime,
	}

	s.writeJSON(w, r, http.StatusOK, health, correlationID)
}

// handleNotFound returns RFC 7807 compliant 404 responses for unknown endpoints.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("the requested resource was not found"))
}

// handleControlEvent accepts an SN/DUT-assignment payload and forwards it
// to the station's UIIntake. Only meaningful when the station's active SN
// source is SN_FROM_UI; otherwise returns 409 Conflict.
func (s *Server) handleControlEvent(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	if s.uiIntake == nil {
		WriteErrorResponse(w, r, s.logger, Conflict(errUIIntakeNotActive.Error()))

		return
	}

	if !s.requirePermission(w, r, persistence.PermissionSubmitSN) {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxControlEventSize))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("failed to read request body"))

		return
	}

	s.uiIntake.Submit(body)

	response := ControlEventResponse{
		Accepted:      true,
		CorrelationID: correlationID,
		Timestamp:     time.Now(),
	}

	s.writeJSON(w, r, http.StatusAccepted, response, correlationID)
}

// handleProgressSnapshot returns the current progress.Snapshot as JSON.
func (s *Server) handleProgressSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot := s.reporter.Snapshot()
	s.writeJSON(w, r, http.StatusOK, snapshot, middleware.GetCorrelationID(r.Context()))
}

// handleProgressStream streams progress.Snapshot updates as newline-delimited
// JSON (NDJSON) for as long as the client stays connected.
func (s *Server) handleProgressStream(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteErrorResponse(w, r, s.logger, InternalServerError("streaming unsupported by this response writer"))

		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("X-Correlation-ID", correlationID)
	w.WriteHeader(http.StatusOK)

	sub := s.reporter.Subscribe()
	enc := json.NewEncoder(w)
	buf := bufio.NewWriter(w)

	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case snapshot, open := <-sub:
			if !open {
				return
			}

			if err := enc.Encode(snapshot); err != nil {
				s.logger.Warn("failed to encode progress snapshot",
					slog.String("correlation_id", correlationID),
					slog.String("error", err.Error()),
				)

				return
			}

			_ = buf.Flush()
			flusher.Flush()
		}
	}
}

// requirePermission checks the authenticated caller's permission scope
// before a run-control or intake operation proceeds. An absent CallerContext
// (no caller-key store configured) passes through unchecked. Returns false
// and has already written a 403 response if the caller lacks the scope.
func (s *Server) requirePermission(w http.ResponseWriter, r *http.Request, permission string) bool {
	callerCtx, ok := middleware.GetCallerContext(r.Context())
	if !ok {
		return true
	}

	if callerCtx.HasPermission(permission) {
		return true
	}

	s.logger.Warn("caller lacks required permission",
		slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
		slog.String("caller_id", callerCtx.CallerID),
		slog.String("permission", permission),
	)
	WriteErrorResponse(w, r, s.logger, Forbidden("caller key is not authorized for this operation"))

	return false
}

// handlePause pauses the run loop between test cycles.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, persistence.PermissionControlRun) {
		return
	}

	s.control.Pause()
	s.writeRunControlResponse(w, r, "pause")
}

// handleResume resumes a paused run loop.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, persistence.PermissionControlRun) {
		return
	}

	s.control.Resume()
	s.writeRunControlResponse(w, r, "resume")
}

// handleAbort aborts the in-progress run at the next safe point.
func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, persistence.PermissionControlRun) {
		return
	}

	s.control.Abort()
	s.writeRunControlResponse(w, r, "abort")
}

// handleTerminate signals the outer run loop to stop after the current cycle.
func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, persistence.PermissionControlRun) {
		return
	}

	s.control.Terminate()
	s.writeRunControlResponse(w, r, "terminate")
}

func (s *Server) writeRunControlResponse(w http.ResponseWriter, r *http.Request, action string) {
	correlationID := middleware.GetCorrelationID(r.Context())

	response := RunControlResponse{
		Action:        action,
		Accepted:      true,
		CorrelationID: correlationID,
		Timestamp:     time.Now(),
	}

	s.writeJSON(w, r, http.StatusAccepted, response, correlationID)
}

// handleSequences lists the sequence names loaded into the station's registry.
func (s *Server) handleSequences(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	if s.registry == nil {
		WriteErrorResponse(w, r, s.logger, NotFound("no sequence registry configured on this station"))

		return
	}

	response := SequenceListResponse{Sequences: s.registry.SequenceNames()}
	s.writeJSON(w, r, http.StatusOK, response, correlationID)
}

// writeJSON encodes v as the JSON response body, logging and falling back to
// a 500 RFC 7807 response if encoding fails.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any, correlationID string) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("failed to encode response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("failed to write response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}
