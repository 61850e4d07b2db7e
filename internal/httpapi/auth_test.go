package httpapi

import (
	"strings"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"excisepos/backend/internal/domain"
)

func TestIssueAndParseTokenRoundTrip(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "739154")

	token, expiresAt, err := manager.IssueToken(domain.Actor{Username: "kasir-a", Role: domain.RoleCashier, CompanyID: "branch-2"})
	if err != nil {
		t.Fatalf("issue token failed: %v", err)
	}
	if !expiresAt.After(time.Now()) {
		t.Fatalf("expected expiry in the future, got %s", expiresAt)
	}

	actor, err := manager.ParseToken(token)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.Username != "kasir-a" || actor.Role != domain.RoleCashier || actor.CompanyID != "branch-2" {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestParseTokenRejectsForeignAndExpiredTokens(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Minute, "739154")
	other := NewAuthManager("another-secret", time.Minute, "739154")

	foreign, _, err := other.IssueToken(domain.Actor{Username: "admin", Role: domain.RoleAdmin})
	if err != nil {
		t.Fatalf("issue token failed: %v", err)
	}
	if _, err := manager.ParseToken(foreign); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}

	token, _, err := manager.IssueToken(domain.Actor{Username: "admin", Role: domain.RoleAdmin})
	if err != nil {
		t.Fatalf("issue token failed: %v", err)
	}
	manager.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := manager.ParseToken(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestParseTokenRejectsUnsignedToken(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "739154")
	unsigned, err := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, jwtlib.MapClaims{
		"sub": "admin", "role": "admin", "iss": tokenIssuer,
	}).SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}
	if _, err := manager.ParseToken(unsigned); err == nil {
		t.Fatalf("expected alg=none token to be rejected")
	}
}

func TestIssueTokenRejectsUnknownRole(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "739154")
	if _, _, err := manager.IssueToken(domain.Actor{Username: "x", Role: "owner"}); err == nil {
		t.Fatalf("expected unknown role to be rejected")
	}
	if _, _, err := manager.IssueToken(domain.Actor{Role: domain.RoleAdmin}); err == nil {
		t.Fatalf("expected empty subject to be rejected")
	}
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "654321")

	if manager.managerPIN == "654321" {
		t.Fatalf("expected manager pin to be stored as hash, got plain-text")
	}
	if !strings.HasPrefix(manager.managerPIN, "$2") {
		t.Fatalf("expected bcrypt hash prefix, got %s", manager.managerPIN)
	}

	if !manager.ValidateManagerPIN("654321") {
		t.Fatalf("expected manager pin validation to succeed")
	}

	if manager.ValidateManagerPIN("111111") {
		t.Fatalf("expected wrong manager pin to fail")
	}
}

func TestAttemptLimiterWindow(t *testing.T) {
	limiter := newAttemptLimiter(2, time.Minute)
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	if !limiter.Allow("a") || !limiter.Allow("a") {
		t.Fatalf("expected first two attempts to pass")
	}
	if limiter.Allow("a") {
		t.Fatalf("expected third attempt to be limited")
	}
	if !limiter.Allow("b") {
		t.Fatalf("expected other keys to be unaffected")
	}

	now = now.Add(61 * time.Second)
	if !limiter.Allow("a") {
		t.Fatalf("expected attempts to recover after the window")
	}
}
