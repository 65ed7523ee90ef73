package persistence

import (
	"context"
	"testing"
	"time"
)

func newTestCallerKey(id, callerID, key string) *CallerKey {
	return &CallerKey{
		ID:          id,
		Key:         key,
		CallerID:    callerID,
		Name:        "test key",
		Permissions: []string{"sn:submit"},
		CreatedAt:   time.Now(),
		Active:      true,
	}
}

func TestInMemoryCallerKeyStoreAddAndFind(t *testing.T) {
	store := NewInMemoryCallerKeyStore()
	ctx := context.Background()

	key := newTestCallerKey("id-1", "mes-line-3", "hash-1")

	if err := store.Add(ctx, key); err != nil {
		t.Fatalf("Add: %v", err)
	}

	found, ok := store.FindByKey(ctx, "hash-1")
	if !ok {
		t.Fatal("expected to find key")
	}

	if found.CallerID != "mes-line-3" {
		t.Errorf("CallerID = %q, want mes-line-3", found.CallerID)
	}

	found.Name = "mutated"
	if again, _ := store.FindByKey(ctx, "hash-1"); again.Name == "mutated" {
		t.Error("FindByKey should return a defensive copy")
	}
}

func TestInMemoryCallerKeyStoreAddDuplicate(t *testing.T) {
	store := NewInMemoryCallerKeyStore()
	ctx := context.Background()

	key := newTestCallerKey("id-1", "mes-line-3", "hash-1")
	if err := store.Add(ctx, key); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := store.Add(ctx, key); err == nil {
		t.Fatal("expected ErrKeyAlreadyExists on duplicate Add")
	}
}

func TestInMemoryCallerKeyStoreDeleteIsSoft(t *testing.T) {
	store := NewInMemoryCallerKeyStore()
	ctx := context.Background()

	key := newTestCallerKey("id-1", "mes-line-3", "hash-1")
	_ = store.Add(ctx, key)

	if err := store.Delete(ctx, "id-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	found, ok := store.FindByKey(ctx, "hash-1")
	if !ok {
		t.Fatal("soft-deleted key should still be findable")
	}
	if found.Active {
		t.Error("expected Active=false after Delete")
	}
}

func TestInMemoryCallerKeyStoreDeleteNotFound(t *testing.T) {
	store := NewInMemoryCallerKeyStore()

	if err := store.Delete(context.Background(), "missing"); err == nil {
		t.Fatal("expected ErrKeyNotFound")
	}
}

func TestInMemoryCallerKeyStoreListByCaller(t *testing.T) {
	store := NewInMemoryCallerKeyStore()
	ctx := context.Background()

	_ = store.Add(ctx, newTestCallerKey("id-1", "mes-line-3", "hash-1"))
	_ = store.Add(ctx, newTestCallerKey("id-2", "mes-line-3", "hash-2"))
	_ = store.Add(ctx, newTestCallerKey("id-3", "mes-line-7", "hash-3"))

	keys, err := store.ListByCaller(ctx, "mes-line-3")
	if err != nil {
		t.Fatalf("ListByCaller: %v", err)
	}

	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2", len(keys))
	}
}

func TestInMemoryCallerKeyStoreListByCallerUnknown(t *testing.T) {
	store := NewInMemoryCallerKeyStore()

	keys, err := store.ListByCaller(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("ListByCaller: %v", err)
	}

	if keys == nil || len(keys) != 0 {
		t.Errorf("expected empty slice, got %v", keys)
	}
}

func TestInMemoryCallerKeyStoreUpdate(t *testing.T) {
	store := NewInMemoryCallerKeyStore()
	ctx := context.Background()

	key := newTestCallerKey("id-1", "mes-line-3", "hash-1")
	_ = store.Add(ctx, key)

	key.Name = "renamed"
	key.Active = false

	if err := store.Update(ctx, key); err != nil {
		t.Fatalf("Update: %v", err)
	}

	found, _ := store.FindByKey(ctx, "hash-1")
	if found.Name != "renamed" || found.Active {
		t.Errorf("Update did not persist changes: %+v", found)
	}
}

func TestInMemoryCallerKeyStoreUpdateNotFound(t *testing.T) {
	store := NewInMemoryCallerKeyStore()

	err := store.Update(context.Background(), newTestCallerKey("missing", "x", "y"))
	if err == nil {
		t.Fatal("expected ErrKeyNotFound")
	}
}

func TestCallerKeyValidateKeyRejectsInactiveAndExpired(t *testing.T) {
	hash, err := HashCallerKey(testCallerKey)
	if err != nil {
		t.Fatalf("HashCallerKey: %v", err)
	}

	inactive := &CallerKey{Key: hash, Active: false}
	if inactive.ValidateKey(testCallerKey) {
		t.Error("inactive key should not validate")
	}

	past := time.Now().Add(-time.Hour)
	expired := &CallerKey{Key: hash, Active: true, ExpiresAt: &past}
	if expired.ValidateKey(testCallerKey) {
		t.Error("expired key should not validate")
	}

	future := time.Now().Add(time.Hour)
	valid := &CallerKey{Key: hash, Active: true, ExpiresAt: &future}
	if !valid.ValidateKey(testCallerKey) {
		t.Error("unexpired active key should validate")
	}
}

func TestCallerKeyHasPermission(t *testing.T) {
	key := &CallerKey{Permissions: []string{"sn:submit", "sn:list"}}

	if !key.HasPermission("sn:submit") {
		t.Error("expected sn:submit permission")
	}
	if key.HasPermission("sn:delete") {
		t.Error("did not expect sn:delete permission")
	}
}
