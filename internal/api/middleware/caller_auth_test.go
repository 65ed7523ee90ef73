package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jotautomation/iris/internal/persistence"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nilWriter{}, nil))
}

type nilWriter struct{}

func (nilWriter) Write(p []byte) (int, error) { return len(p), nil }

func newKeyedStore(t *testing.T) (persistence.CallerKeyStore, string) {
	t.Helper()

	key, err := persistence.GenerateCallerKey("mes-line-3")
	if err != nil {
		t.Fatalf("GenerateCallerKey: %v", err)
	}

	hash, err := persistence.HashCallerKey(key)
	if err != nil {
		t.Fatalf("HashCallerKey: %v", err)
	}

	store := persistence.NewInMemoryCallerKeyStore()
	err = store.Add(context.Background(), &persistence.CallerKey{
		ID:        "key-1",
		Key:       hash,
		CallerID:  "mes-line-3",
		Name:      "line 3 scanner",
		CreatedAt: time.Now(),
		Active:    true,
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	return store, key
}

func TestAuthenticateCallerSucceeds(t *testing.T) {
	store, key := newKeyedStore(t)

	var called bool

	handler := AuthenticateCaller(store, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true

		callerCtx, ok := GetCallerContext(r.Context())
		if !ok || callerCtx.CallerID != "mes-line-3" {
			t.Errorf("expected caller context with CallerID=mes-line-3, got %+v", callerCtx)
		}

		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/control-events", nil)
	req.Header.Set("X-Caller-Key", key)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected downstream handler to be invoked")
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestAuthenticateCallerRejectsMissingKey(t *testing.T) {
	store, _ := newKeyedStore(t)

	handler := AuthenticateCaller(store, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be invoked without a key")
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/control-events", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuthenticateCallerRejectsWrongKey(t *testing.T) {
	store, _ := newKeyedStore(t)

	handler := AuthenticateCaller(store, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be invoked with a bad key")
	}))

	key, err := persistence.GenerateCallerKey("other-caller")
	if err != nil {
		t.Fatalf("GenerateCallerKey: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/control-events", nil)
	req.Header.Set("X-Caller-Key", key)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuthenticateCallerBypassesPublicEndpoint(t *testing.T) {
	store, _ := newKeyedStore(t)

	RegisterPublicEndpoint("/healthz")

	var called bool

	handler := AuthenticateCaller(store, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected public endpoint to bypass authentication")
	}
}

func TestExtractCallerKeyFromAuthorizationHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer abc123")

	key, ok := extractCallerKey(req)
	if !ok || key != "abc123" {
		t.Errorf("extractCallerKey = (%q, %v), want (abc123, true)", key, ok)
	}
}

func TestExtractCallerKeyRejectsInjection(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Caller-Key", "abc\r\ninjected")

	if _, ok := extractCallerKey(req); ok {
		t.Error("expected key containing CRLF to be rejected")
	}
}
