package agent

import (
	"strings"
	"testing"
)

func TestGenerateAPIKey_format(t *testing.T) {
	key, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	if !strings.HasPrefix(key, "snt_") {
		t.Errorf("key = %q, want snt_ prefix", key)
	}
	// 32 random bytes in unpadded base64url is 43 characters.
	if got := len(strings.TrimPrefix(key, "snt_")); got != 43 {
		t.Errorf("key body length = %d, want 43", got)
	}

	other, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	if key == other {
		t.Error("two generated keys are identical")
	}
}

func TestAPIKey_roundTrip(t *testing.T) {
	key, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	hash, err := HashAPIKey(key)
	if err != nil {
		t.Fatalf("HashAPIKey: %v", err)
	}

	if !ValidateAPIKey(key, hash) {
		t.Error("ValidateAPIKey rejected the key it was hashed from")
	}
	if ValidateAPIKey("snt_wrong", hash) {
		t.Error("ValidateAPIKey accepted a different key")
	}
}

func TestValidateAPIKey_emptyInputs(t *testing.T) {
	hash, err := HashAPIKey("snt_something")
	if err != nil {
		t.Fatalf("HashAPIKey: %v", err)
	}

	if ValidateAPIKey("", hash) {
		t.Error("empty key must never validate")
	}
	if ValidateAPIKey("snt_something", "") {
		t.Error("empty stored hash must never validate")
	}
	if ValidateAPIKey("", "") {
		t.Error("empty key and hash must never validate")
	}
}
