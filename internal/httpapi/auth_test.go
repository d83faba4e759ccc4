package httpapi

import (
	"strings"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/OasisMate/cartpos-sub000/internal/domain"
)

func TestIssuedTokenRoundTripsPrincipal(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "654321")

	token, expiresAt, err := manager.IssueToken(domain.Principal{ID: "owner-1", PlatformAdmin: true})
	if err != nil {
		t.Fatalf("issue token failed: %v", err)
	}
	if !expiresAt.After(time.Now()) {
		t.Fatalf("expected expiry in the future, got %s", expiresAt)
	}

	principal, err := manager.ParseToken(token)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if principal.ID != "owner-1" || !principal.PlatformAdmin {
		t.Fatalf("unexpected principal %+v", principal)
	}
}

func TestParseTokenRejectsForeignSecretAndExpiry(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "654321")
	other := NewAuthManager("other-secret", time.Hour, "654321")

	token, _, err := other.IssueToken(domain.Principal{ID: "cashier"})
	if err != nil {
		t.Fatalf("issue token failed: %v", err)
	}
	if _, err := manager.ParseToken(token); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}

	expired := principalClaims{RegisteredClaims: jwtlib.RegisteredClaims{
		Subject:   "cashier",
		Issuer:    tokenIssuer,
		ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(-time.Minute)),
	}}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, expired).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if _, err := manager.ParseToken(signed); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestIssueTokenRequiresPrincipalID(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "654321")
	if _, _, err := manager.IssueToken(domain.Principal{ID: "  "}); err == nil {
		t.Fatalf("expected blank principal to be refused")
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
	if manager.ValidateManagerPIN("") {
		t.Fatalf("expected empty manager pin to fail")
	}
}
