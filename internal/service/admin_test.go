package service

import (
	"testing"
	"time"
)

func TestAdminTokenRoundTrip(t *testing.T) {
	tokens := NewAdminTokens("test-secret-key-for-jwt", "autoscore")

	token, err := tokens.Issue("ops", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	p, err := tokens.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if p.Subject != "ops" {
		t.Errorf("Subject: got %q, want %q", p.Subject, "ops")
	}
	if p.ExpiresAt.Before(time.Now()) {
		t.Errorf("ExpiresAt %v should be in the future", p.ExpiresAt)
	}
}

func TestAdminTokenExpired(t *testing.T) {
	tokens := NewAdminTokens("test-secret-key-for-jwt", "autoscore")

	token, err := tokens.Issue("ops", -time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := tokens.Validate(token); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestAdminTokenWrongSecret(t *testing.T) {
	token, err := NewAdminTokens("secret-one", "autoscore").Issue("ops", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := NewAdminTokens("secret-two", "autoscore").Validate(token); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestAdminTokenWrongIssuer(t *testing.T) {
	token, err := NewAdminTokens("secret", "someone-else").Issue("ops", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := NewAdminTokens("secret", "autoscore").Validate(token); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestAdminTokenGarbage(t *testing.T) {
	if _, err := NewAdminTokens("secret", "autoscore").Validate("garbage.token.here"); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}
