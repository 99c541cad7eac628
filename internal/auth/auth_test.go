package auth

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestIssueAndParse(t *testing.T) {
	s, err := NewSigner(testSecret)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	token, exp, err := s.Issue("user-42", []string{"Staff", "owner", "staff"}, 30*time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expected future expiry, got %v", exp)
	}
	p, err := s.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.UID != "user-42" {
		t.Fatalf("unexpected uid: %s", p.UID)
	}
	if len(p.Roles) != 2 || !slices.Contains(p.Roles, "staff") || !slices.Contains(p.Roles, "owner") {
		t.Fatalf("roles were not normalized: %v", p.Roles)
	}
}

func TestParseRejects(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s, _ := NewSigner(testSecret, WithClock(func() time.Time { return now }))
	other, _ := NewSigner("ffffffffffffffffffffffffffffffff", WithClock(func() time.Time { return now }))
	foreign, _ := NewSigner(testSecret, WithIssuer("someone-else"), WithClock(func() time.Time { return now }))

	valid, _, _ := s.Issue("u1", nil, time.Minute)
	wrongKey, _, _ := other.Issue("u1", nil, time.Minute)
	wrongIss, _, _ := foreign.Issue("u1", nil, time.Minute)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	later, _ := NewSigner(testSecret, WithClock(func() time.Time { return now.Add(2 * time.Minute) }))

	cases := map[string]struct {
		signer *Signer
		token  string
	}{
		"empty":     {s, ""},
		"garbage":   {s, "not-a-jwt"},
		"wrong key": {s, wrongKey},
		"issuer":    {s, wrongIss},
		"alg none":  {s, none},
		"expired":   {later, valid},
	}
	for name, tc := range cases {
		if _, err := tc.signer.Parse(tc.token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestNewSignerRequiresSecret(t *testing.T) {
	if _, err := NewSigner("  "); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
}

func TestPrincipalRoles(t *testing.T) {
	staff := Principal{UID: "u1", Roles: []string{RoleStaff}}
	owner := Principal{UID: "u2", Roles: []string{RoleOwner}}

	if err := staff.Require(RoleOwner); !errors.Is(err, ErrForbidden) {
		t.Fatalf("staff should not pass owner check: %v", err)
	}
	if err := owner.Require(RoleStaff); err != nil {
		t.Fatalf("owner should pass staff check: %v", err)
	}

	ctx := ContextWithPrincipal(context.Background(), staff)
	if got := UIDFromContext(ctx); got != "u1" {
		t.Fatalf("uid from context = %q", got)
	}
	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Fatal("expected no principal")
	}
}
