package persistence

import (
	"strings"
	"testing"
)

const testCallerKey = "iris_ck_" + "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef" // pragma: allowlist secret

func TestHashCallerKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "valid key", key: testCallerKey},
		{name: "short key", key: "iris_ck_short"},
		{name: "long key", key: strings.Repeat("a", 100)},
		{name: "empty key", key: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashCallerKey(tt.key)

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if hash != "" {
					t.Errorf("hash = %q, want empty on error", hash)
				}

				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if hash == tt.key {
				t.Error("hash must not equal plaintext key")
			}

			if !CompareCallerKeyHash(hash, tt.key) {
				t.Error("CompareCallerKeyHash should succeed against its own hash")
			}
		})
	}
}

func TestCompareCallerKeyHashRejectsWrongKey(t *testing.T) {
	hash, err := HashCallerKey(testCallerKey)
	if err != nil {
		t.Fatalf("HashCallerKey: %v", err)
	}

	if CompareCallerKeyHash(hash, "iris_ck_wrong") {
		t.Error("CompareCallerKeyHash should reject a mismatched key")
	}
}

func TestHashCallerKeyProducesDistinctSalts(t *testing.T) {
	h1, err := HashCallerKey(testCallerKey)
	if err != nil {
		t.Fatalf("HashCallerKey: %v", err)
	}

	h2, err := HashCallerKey(testCallerKey)
	if err != nil {
		t.Fatalf("HashCallerKey: %v", err)
	}

	if h1 == h2 {
		t.Error("identical keys should produce different bcrypt hashes (salt)")
	}
}

func TestSecureCompare(t *testing.T) {
	if !SecureCompare("abc", "abc") {
		t.Error("expected equal strings to compare true")
	}
	if SecureCompare("abc", "abd") {
		t.Error("expected differing strings to compare false")
	}
	if SecureCompare("abc", "abcd") {
		t.Error("expected differing-length strings to compare false")
	}
}

func TestMaskKey(t *testing.T) {
	masked := MaskKey(testCallerKey)

	if strings.Contains(masked, testCallerKey) {
		t.Error("MaskKey must not return the original key")
	}
	if !strings.HasPrefix(masked, "iris_ck_") {
		t.Errorf("expected masked key to retain prefix, got %q", masked)
	}
	if !strings.HasSuffix(masked, testCallerKey[len(testCallerKey)-4:]) {
		t.Errorf("expected masked key to retain suffix, got %q", masked)
	}
}

func TestGenerateAndParseCallerKey(t *testing.T) {
	key, err := GenerateCallerKey("mes-line-3")
	if err != nil {
		t.Fatalf("GenerateCallerKey: %v", err)
	}

	if len(key) != callerKeyLength {
		t.Errorf("generated key length = %d, want %d", len(key), callerKeyLength)
	}

	parsed, err := ParseCallerKey("Bearer " + key)
	if err != nil {
		t.Fatalf("ParseCallerKey: %v", err)
	}

	if parsed != key {
		t.Errorf("ParseCallerKey = %q, want %q", parsed, key)
	}
}

func TestGenerateCallerKeyEmptyCallerID(t *testing.T) {
	if _, err := GenerateCallerKey(""); err == nil {
		t.Fatal("expected error for empty caller ID")
	}
}

func TestParseCallerKeyRejectsBadFormat(t *testing.T) {
	if _, err := ParseCallerKey("not-a-caller-key"); err == nil {
		t.Fatal("expected error for malformed key")
	}
}
