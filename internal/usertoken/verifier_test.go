package usertoken

import (
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func defaultClaims() jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    defaultIssuer,
		Audience:  jwt.ClaimStrings{defaultAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}
}

func TestVerifierAcceptsValidToken(t *testing.T) {
	v, err := NewVerifier(testSecret, Options{})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	userID, err := v.UserID(signToken(t, testSecret, defaultClaims()))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("unexpected subject %q", userID)
	}
}

func TestVerifierRejectsBadTokens(t *testing.T) {
	v, err := NewVerifier(testSecret, Options{})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	expired := defaultClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-2 * time.Minute))

	wrongIssuer := defaultClaims()
	wrongIssuer.Issuer = "someone-else"

	wrongAudience := defaultClaims()
	wrongAudience.Audience = jwt.ClaimStrings{"other-api"}

	noSubject := defaultClaims()
	noSubject.Subject = ""

	cases := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.jwt"},
		{"wrong secret", signToken(t, "other-secret", defaultClaims())},
		{"expired", signToken(t, testSecret, expired)},
		{"wrong issuer", signToken(t, testSecret, wrongIssuer)},
		{"wrong audience", signToken(t, testSecret, wrongAudience)},
		{"missing subject", signToken(t, testSecret, noSubject)},
	}
	for _, tc := range cases {
		if _, err := v.UserID(tc.token); err == nil {
			t.Fatalf("%s: expected verification failure", tc.name)
		}
	}
}

func TestVerifierRejectsWrongAlgorithm(t *testing.T) {
	v, err := NewVerifier(testSecret, Options{})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	// alg=none style tokens must never pass.
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, defaultClaims()).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}
	if _, err := v.UserID(token); err == nil {
		t.Fatalf("unsigned token must be rejected")
	}
}

func TestVerifierLeeway(t *testing.T) {
	v, err := NewVerifier(testSecret, Options{Leeway: time.Minute})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	claims := defaultClaims()
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-10 * time.Second))
	if _, err := v.UserID(signToken(t, testSecret, claims)); err != nil {
		t.Fatalf("token inside leeway should pass: %v", err)
	}
}

func TestVerifierRequiresSecret(t *testing.T) {
	if _, err := NewVerifier(strings.Repeat(" ", 3), Options{}); err == nil {
		t.Fatalf("expected error for blank secret")
	}
}
