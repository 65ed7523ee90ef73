package persistence

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	randomBytesSize = 32
	callerKeyPrefix = "iris_ck_" // pragma: allowlist secret
	callerKeyLength = len(callerKeyPrefix) + 2*randomBytesSize
	prefixLen       = 12 // show "iris_ck_1234"
	suffixLen       = 4
)

var (
	// ErrKeyAlreadyExists is returned when attempting to add a key that already exists.
	ErrKeyAlreadyExists = errors.New("caller key already exists")
	// ErrKeyNotFound is returned when attempting to operate on a non-existent key.
	ErrKeyNotFound = errors.New("caller key not found")
	// ErrKeyNil is returned when a nil caller key is provided.
	ErrKeyNil = errors.New("caller key cannot be nil")
	// ErrCallerIDEmpty is returned when the caller ID is empty during key generation.
	ErrCallerIDEmpty = errors.New("caller ID cannot be empty")
	// ErrKeyStringEmpty is returned when key string is empty during parsing.
	ErrKeyStringEmpty = errors.New("key string cannot be empty")
	// ErrInvalidKeyFormat is returned when a caller key doesn't match the expected format.
	ErrInvalidKeyFormat = errors.New("invalid caller key format")
)

// CallerKey authorizes one external caller (a plant MES, a barcode scanner
// service) to submit serial numbers into SN Intake over HTTP.
type CallerKey struct {
	ID          string
	Key         string // bcrypt hash once persisted - never expose in API responses
	CallerID    string
	Name        string
	Permissions []string
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	Active      bool
}

// CallerKeyStore defines the interface for caller-key storage and retrieval.
type CallerKeyStore interface {
	FindByKey(ctx context.Context, key string) (*CallerKey, bool)
	Add(ctx context.Context, key *CallerKey) error
	Update(ctx context.Context, key *CallerKey) error
	Delete(ctx context.Context, keyID string) error
	ListByCaller(ctx context.Context, callerID string) ([]*CallerKey, error)
	HealthCheck(ctx context.Context) error
}

// ValidateKey performs a constant-time comparison of providedKey against
// this key's bcrypt hash, and rejects inactive or expired keys.
func (k *CallerKey) ValidateKey(providedKey string) bool {
	if providedKey == "" || k.Key == "" {
		return false
	}

	if !k.Active {
		return false
	}

	if k.ExpiresAt != nil && time.Now().After(*k.ExpiresAt) {
		return false
	}

	return CompareCallerKeyHash(k.Key, providedKey)
}

// Permission scopes a caller key may be granted. SN Intake checks
// PermissionSubmitSN before accepting a control event from an external
// caller; run control endpoints check PermissionControlRun.
const (
	PermissionSubmitSN    = "sn:submit"
	PermissionControlRun  = "run:control"
	PermissionQueryStatus = "status:query"
)

// HasPermission reports whether the key grants a specific permission.
func (k *CallerKey) HasPermission(permission string) bool {
	for _, p := range k.Permissions {
		if p == permission {
			return true
		}
	}

	return false
}

// SecureCompare performs a constant-time comparison of two strings.
func SecureCompare(a, b string) bool {
	if len(a) != len(b) {
		dummy := make([]byte, len(a))
		subtle.ConstantTimeCompare([]byte(a), dummy)

		return false
	}

	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// MaskKey masks a caller key for secure logging, showing only its prefix
// and last few characters.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}

	keyLen := len(key)

	if keyLen == callerKeyLength {
		maskedLen := keyLen - prefixLen - suffixLen

		return key[:prefixLen] + strings.Repeat("*", maskedLen) + key[keyLen-suffixLen:]
	}

	return strings.Repeat("*", keyLen)
}

// ComputeKeyLookupHash computes the SHA256 hash of a caller key for O(1)
// lookup. Stored in key_lookup_hash; never used for verification - the
// bcrypt hash remains the security boundary.
func ComputeKeyLookupHash(key string) string {
	hash := sha256.Sum256([]byte(key))

	return hex.EncodeToString(hash[:])
}

// GenerateCallerKey creates a new secure caller key for the given caller.
func GenerateCallerKey(callerID string) (string, error) {
	if callerID == "" {
		return "", ErrCallerIDEmpty
	}

	randomBytes := make([]byte, randomBytesSize)

	_, err := rand.Read(randomBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	return callerKeyPrefix + hex.EncodeToString(randomBytes), nil
}

// ParseCallerKey extracts the caller key from an Authorization header value.
func ParseCallerKey(keyString string) (string, error) {
	if keyString == "" {
		return "", ErrKeyStringEmpty
	}

	keyString = strings.TrimPrefix(keyString, "Bearer ")

	if !strings.HasPrefix(keyString, callerKeyPrefix) {
		return "", ErrInvalidKeyFormat
	}

	if len(keyString) != callerKeyLength {
		return "", ErrInvalidKeyFormat
	}

	return keyString, nil
}
