// Package middleware provides HTTP middleware components for the sequencer's
// control-plane API.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/jotautomation/iris/internal/persistence"
)

// publicEndpoints defines public endpoints that bypass authentication.
// These endpoints are accessible without a caller key (e.g. K8s health
// probes, monitoring tools).
//
// Security note: Only health check endpoints should be in this map.
// Never add business logic endpoints to this bypass list.
var publicEndpoints = map[string]bool{} //nolint: gochecknoglobals

// RegisterPublicEndpoint registers an endpoint that bypasses authentication.
// This should only be called during route setup for health check endpoints.
//
// Example:
//
//	middleware.RegisterPublicEndpoint("/healthz")
func RegisterPublicEndpoint(endpoint string) {
	publicEndpoints[endpoint] = true
}

// AuthError represents an authentication error with a specific type.
type AuthError struct {
	Type    error
	Message string
}

// Authentication error types for granular error handling.
var (
	// ErrMissingCallerKey is returned when no caller key is provided in headers.
	ErrMissingCallerKey = errors.New("missing caller key")

	// ErrInvalidCallerKey is returned for invalid caller key format or not found.
	// Generic error prevents enumeration attacks.
	ErrInvalidCallerKey = errors.New("invalid caller key")

	// ErrCallerKeyExpired is returned when the caller key has expired.
	ErrCallerKeyExpired = errors.New("caller key expired")

	// ErrCallerKeyInactive is returned when the caller key is inactive (soft-deleted).
	ErrCallerKeyInactive = errors.New("caller key inactive")
)

// extractCallerKey extracts the caller key from request headers. It checks
// the X-Caller-Key header first (primary), then falls back to
// Authorization: Bearer (secondary).
//
// Security considerations:
//   - Rejects keys containing newlines (header injection prevention)
//   - Trims whitespace from keys
//   - Case-sensitive "Bearer " prefix check
//   - X-Caller-Key takes precedence over Authorization header.
func extractCallerKey(r *http.Request) (string, bool) {
	if key := r.Header.Get("X-Caller-Key"); key != "" {
		return validateCallerKey(key)
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		token := strings.TrimPrefix(authHeader, "Bearer ")

		return validateCallerKey(token)
	}

	return "", false
}

func validateCallerKey(key string) (string, bool) {
	if strings.ContainsAny(key, "\r\n") {
		return "", false
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return "", false
	}

	return key, true
}

// Error implements the error interface for AuthError.
func (e *AuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("authentication failed: %s: %s", e.Type.Error(), e.Message)
	}

	return "authentication failed: " + e.Type.Error()
}

// Unwrap returns the wrapped error type, enabling errors.Is()/errors.As().
func (e *AuthError) Unwrap() error {
	return e.Type
}

// performDummyBcryptComparison runs a bcrypt comparison on failure paths.
// "dummy" is not a valid bcrypt hash, so the call returns an error at once
// rather than taking the time of a real hash check.
func performDummyBcryptComparison() {
	_ = bcrypt.CompareHashAndPassword([]byte("dummy"), []byte("dummy"))
}

// authenticateRequest validates a caller key against the store and checks
// active/expiry state.
func authenticateRequest(
	ctx context.Context,
	store persistence.CallerKeyStore,
	callerKey string,
	logger *slog.Logger,
) (*persistence.CallerKey, error) {
	parsedKey, err := persistence.ParseCallerKey(callerKey)
	if err != nil {
		performDummyBcryptComparison()

		logger.Error("authentication failed: invalid key format",
			slog.String("error", err.Error()),
			slog.String("correlation_id", GetCorrelationID(ctx)),
			slog.String("failure_type", "format_validation"),
		)

		return nil, &AuthError{Type: ErrInvalidCallerKey, Message: "Invalid or missing caller key"}
	}

	foundKey, exists := store.FindByKey(ctx, parsedKey)
	if !exists {
		performDummyBcryptComparison()

		logger.Error("authentication failed: key not found",
			slog.String("correlation_id", GetCorrelationID(ctx)),
			slog.String("failure_type", "key_not_found"),
		)

		return nil, &AuthError{Type: ErrInvalidCallerKey, Message: "Invalid or missing caller key"}
	}

	if !foundKey.Active {
		logger.Error("authentication failed: key inactive",
			slog.String("key_id", foundKey.ID),
			slog.String("caller_id", foundKey.CallerID),
			slog.String("correlation_id", GetCorrelationID(ctx)),
			slog.String("failure_type", "key_inactive"),
		)

		return nil, &AuthError{Type: ErrCallerKeyInactive, Message: "caller key is inactive"}
	}

	if foundKey.ExpiresAt != nil && time.Now().After(*foundKey.ExpiresAt) {
		logger.Error("authentication failed: key expired",
			slog.String("key_id", foundKey.ID),
			slog.String("caller_id", foundKey.CallerID),
			slog.Time("expired_at", *foundKey.ExpiresAt),
			slog.String("correlation_id", GetCorrelationID(ctx)),
			slog.String("failure_type", "key_expired"),
		)

		return nil, &AuthError{Type: ErrCallerKeyExpired, Message: "caller key has expired"}
	}

	return foundKey, nil
}

// AuthenticateCaller creates an authentication middleware that validates
// caller keys for the external SN-intake endpoint and enriches the request
// context with CallerContext.
func AuthenticateCaller(store persistence.CallerKeyStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicEndpoints[r.URL.Path] {
				next.ServeHTTP(w, r)

				return
			}

			authStart := time.Now()

			callerKey, found := extractCallerKey(r)
			if !found {
				writeAuthError(w, r, logger, &AuthError{Type: ErrMissingCallerKey, Message: "missing caller key"})

				return
			}

			authenticated, err := authenticateRequest(r.Context(), store, callerKey, logger)
			if err != nil {
				writeAuthError(w, r, logger, err)

				return
			}

			callerCtx := CallerContext{
				CallerID:    authenticated.CallerID,
				Name:        authenticated.Name,
				Permissions: authenticated.Permissions,
				KeyID:       authenticated.ID,
				AuthTime:    time.Now(),
			}
			ctx := SetCallerContext(r.Context(), callerCtx)

			logger.Info("caller key authenticated",
				slog.String("caller_id", callerCtx.CallerID),
				slog.String("key_id", callerCtx.KeyID),
				slog.String("key", persistence.MaskKey(authenticated.Key)),
				slog.Duration("auth_latency", time.Since(authStart)),
				slog.String("correlation_id", GetCorrelationID(r.Context())),
				slog.String("endpoint", r.URL.Path),
			)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeAuthError writes an RFC 7807 compliant error response for authentication failures.
func writeAuthError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	correlationID := GetCorrelationID(r.Context())

	var statusCode int

	var authErr *AuthError
	if errors.As(err, &authErr) {
		switch {
		case errors.Is(authErr.Type, ErrCallerKeyInactive):
			statusCode = http.StatusForbidden
		default:
			statusCode = http.StatusUnauthorized
		}
	} else {
		statusCode = http.StatusUnauthorized
	}

	logger.Warn("authentication failed",
		slog.String("reason", err.Error()),
		slog.String("correlation_id", correlationID),
		slog.String("endpoint", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("user_agent", r.UserAgent()),
	)

	detail := err.Error()
	if err := writeRFC7807Error(w, r, statusCode, detail, correlationID); err != nil {
		logger.Error("failed to write response with RFC 7807 error format",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.String("detail", detail),
			slog.Any("error", err),
		)

		http.Error(w, detail, statusCode)
	}
}

// writeRFC7807Error writes an RFC 7807 compliant error response without importing the api package.
func writeRFC7807Error(w http.ResponseWriter, r *http.Request, statusCode int, detail, correlationID string) error {
	var title string

	switch statusCode {
	case http.StatusUnauthorized:
		title = "Unauthorized"
	case http.StatusForbidden:
		title = "Forbidden"
	case http.StatusTooManyRequests:
		title = "Too Many Requests"
	default:
		title = "Authentication Failed"
	}

	problem := map[string]interface{}{
		"type":           fmt.Sprintf("https://iris-sequencer.internal/problems/%d", statusCode),
		"title":          title,
		"status":         statusCode,
		"detail":         detail,
		"instance":       r.URL.Path,
		"correlation_id": correlationID,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(statusCode)

	return json.NewEncoder(w).Encode(problem)
}
