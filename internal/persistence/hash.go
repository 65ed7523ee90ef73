package persistence

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// bcryptCost trades hashing latency for brute-force resistance; 10 ≈
	// 60ms per call.
	bcryptCost  = 10
	bcryptLimit = 72
)

// HashCallerKey generates a bcrypt hash of a caller key for secure storage.
// Bcrypt has a 72-byte input limit, so keys longer than that are pre-hashed
// with SHA-256 first.
func HashCallerKey(key string) (string, error) {
	if key == "" {
		return "", ErrKeyNil
	}

	hash, err := bcrypt.GenerateFromPassword(bcryptInput(key), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash caller key: %w", err)
	}

	return string(hash), nil
}

// CompareCallerKeyHash performs a constant-time comparison of a caller key
// against its bcrypt hash. Returns false on any error, including malformed
// hashes.
func CompareCallerKeyHash(hash, key string) bool {
	if hash == "" || key == "" {
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), bcryptInput(key)) == nil
}

func bcryptInput(key string) []byte {
	if len(key) <= bcryptLimit {
		return []byte(key)
	}

	hasher := sha256.New()
	hasher.Write([]byte(key))

	return hasher.Sum(nil)
}
