package identity

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func testAccount() Account {
	return Account{
		ID:             "u1",
		OrganizationID: "org-1",
		Email:          "u@opsdesk.local",
		Role:           RoleUser,
		Tokens:         []string{"billing.invoices"},
	}
}

func TestTokenRoundTrip(t *testing.T) {
	auth, err := NewAuthenticator("test-secret")
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	signed, exp, err := auth.Issue(testAccount())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.After(time.Now()) {
		t.Fatalf("expiry in the past: %v", exp)
	}
	claims, err := auth.Verify(signed)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "u1" || claims.Role != "user" || claims.Org != "org-1" {
		t.Fatalf("claims = %+v", claims)
	}
	if len(claims.Tokens) != 1 || claims.Tokens[0] != "billing.invoices" {
		t.Fatalf("tokens = %v", claims.Tokens)
	}
}

func TestTokenExpiry(t *testing.T) {
	now := time.Now()
	auth, err := NewAuthenticator("test-secret",
		WithAccessTTL(time.Minute),
		WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	signed, _, err := auth.Issue(testAccount())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := auth.Verify(signed); err != nil {
		t.Fatalf("fresh token rejected: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := auth.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token accepted: %v", err)
	}
}

func TestTokenTampering(t *testing.T) {
	auth, _ := NewAuthenticator("test-secret")
	other, _ := NewAuthenticator("other-secret")

	signed, _, err := other.Issue(testAccount())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := auth.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign signature accepted: %v", err)
	}

	good, _, _ := auth.Issue(testAccount())
	parts := strings.Split(good, ".")
	mangled := parts[0] + "." + parts[1] + "x." + parts[2]
	if _, err := auth.Verify(mangled); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("mangled token accepted: %v", err)
	}
	if _, err := auth.Verify(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty token accepted: %v", err)
	}
}
