package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), "sentinel-backend", time.Hour)
	uid := uuid.New()

	tok, err := issuer.Issue(uid, "ops@example.com", "admin")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := issuer.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != uid.String() {
		t.Errorf("UserID = %q, want %q", claims.UserID, uid.String())
	}
	if claims.Email != "ops@example.com" {
		t.Errorf("Email = %q, want ops@example.com", claims.Email)
	}
	if claims.Role != "admin" {
		t.Errorf("Role = %q, want admin", claims.Role)
	}
	if claims.Issuer != "sentinel-backend" {
		t.Errorf("Issuer = %q, want sentinel-backend", claims.Issuer)
	}
}

func TestVerify_wrongSecret(t *testing.T) {
	issuer := NewTokenIssuer([]byte("secret-a"), "sentinel-backend", time.Hour)
	other := NewTokenIssuer([]byte("secret-b"), "sentinel-backend", time.Hour)

	tok, err := issuer.Issue(uuid.New(), "a@b.c", "viewer")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := other.Verify(tok); err == nil {
		t.Error("token verified under a different secret")
	}
}

func TestVerify_wrongIssuer(t *testing.T) {
	a := NewTokenIssuer([]byte("secret"), "service-a", time.Hour)
	b := NewTokenIssuer([]byte("secret"), "service-b", time.Hour)

	tok, err := a.Issue(uuid.New(), "a@b.c", "viewer")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := b.Verify(tok); err == nil {
		t.Error("token verified despite issuer mismatch")
	}
}

func TestVerify_expired(t *testing.T) {
	issuer := NewTokenIssuer([]byte("secret"), "sentinel-backend", -time.Minute)

	tok, err := issuer.Issue(uuid.New(), "a@b.c", "viewer")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := issuer.Verify(tok); err == nil {
		t.Error("expired token verified")
	}
}

func TestVerify_garbage(t *testing.T) {
	issuer := NewTokenIssuer([]byte("secret"), "sentinel-backend", time.Hour)
	if _, err := issuer.Verify("not.a.jwt"); err == nil {
		t.Error("garbage token verified")
	}
}
