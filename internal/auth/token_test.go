package auth

import (
	"errors"
	"testing"
	"time"
)

func TestTokensIssueAndParse(t *testing.T) {
	tokens, err := NewTokens("test-secret", WithIssuer("test-issuer"), WithTokenTTL(30*time.Minute))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	actor := &Actor{ID: "user-42", Role: RoleStaffAdmin, Generation: 3}
	token, exp, err := tokens.Issue(actor)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expected future expiration, got %v", exp)
	}
	claims, err := tokens.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "user-42" || claims.Issuer != "test-issuer" || claims.Role != RoleStaffAdmin || claims.Generation != 3 {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestTokensRejectTampering(t *testing.T) {
	tokens, _ := NewTokens("secret-a")
	other, _ := NewTokens("secret-b")
	token, _, err := tokens.Issue(&Actor{ID: "u"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := other.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
	if _, err := tokens.Parse(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for empty token, got %v", err)
	}
	wrongIssuer, _ := NewTokens("secret-a", WithIssuer("elsewhere"))
	if _, err := wrongIssuer.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong issuer, got %v", err)
	}
}

func TestTokensExpire(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	tokens, _ := NewTokens("s", WithTokenTTL(time.Minute), WithTokenClock(clock))
	token, _, _ := tokens.Issue(&Actor{ID: "u"})
	now = now.Add(2 * time.Minute)
	if _, err := tokens.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
}

func TestNewTokensRequiresSecret(t *testing.T) {
	if _, err := NewTokens("  "); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
