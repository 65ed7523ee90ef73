// Package middleware provides HTTP middleware components for the sequencer's
// control-plane API.
package middleware

import (
	"context"

	"github.com/jotautomation/iris/internal/persistence"
)

// MockCallerKeyStore is a mock implementation of persistence.CallerKeyStore for testing.
type MockCallerKeyStore struct {
	FindByKeyFunc    func(ctx context.Context, key string) (*persistence.CallerKey, bool)
	AddFunc          func(ctx context.Context, key *persistence.CallerKey) error
	UpdateFunc       func(ctx context.Context, key *persistence.CallerKey) error
	DeleteFunc       func(ctx context.Context, keyID string) error
	ListByCallerFunc func(ctx context.Context, callerID string) ([]*persistence.CallerKey, error)
	HealthCheckFunc  func(ctx context.Context) error
}

// FindByKey implements persistence.CallerKeyStore.FindByKey.
func (m *MockCallerKeyStore) FindByKey(ctx context.Context, key string) (*persistence.CallerKey, bool) {
	if m.FindByKeyFunc != nil {
		return m.FindByKeyFunc(ctx, key)
	}

	return nil, false
}

// Add implements persistence.CallerKeyStore.Add.
func (m *MockCallerKeyStore) Add(ctx context.Context, key *persistence.CallerKey) error {
	if m.AddFunc != nil {
		return m.AddFunc(ctx, key)
	}

	return nil
}

// Update implements persistence.CallerKeyStore.Update.
func (m *MockCallerKeyStore) Update(ctx context.Context, key *persistence.CallerKey) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, key)
	}

	return nil
}

// Delete implements persistence.CallerKeyStore.Delete.
func (m *MockCallerKeyStore) Delete(ctx context.Context, keyID string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, keyID)
	}

	return nil
}

// ListByCaller implements persistence.CallerKeyStore.ListByCaller.
func (m *MockCallerKeyStore) ListByCaller(ctx context.Context, callerID string) ([]*persistence.CallerKey, error) {
	if m.ListByCallerFunc != nil {
		return m.ListByCallerFunc(ctx, callerID)
	}

	return []*persistence.CallerKey{}, nil
}

// HealthCheck implements persistence.CallerKeyStore.HealthCheck.
func (m *MockCallerKeyStore) HealthCheck(ctx context.Context) error {
	if m.HealthCheckFunc != nil {
		return m.HealthCheckFunc(ctx)
	}

	return nil
}
