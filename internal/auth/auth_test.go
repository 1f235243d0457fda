package auth

import (
	"errors"
	"testing"
	"time"

	"studiochat/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

func TestIsAuthFailure(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"jwt expired", true},
		{"Authentication error", true},
		{"Unauthorized", true},
		{"invalid token", true},
		{"invalid signature", true},
		{"Token expired", true},
		{"x509: certificate has expired or is not yet valid: current time is after notAfter", false},
		{`Post "http://host/socket/poll?token=abc": dial tcp: connection refused`, false},
		{"ETIMEDOUT", false},
		{"dial tcp 127.0.0.1:5000: connect: connection refused", false},
		{"websocket: bad handshake", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsAuthFailure(tt.message); got != tt.want {
			t.Errorf("IsAuthFailure(%q) = %v, want %v", tt.message, got, tt.want)
		}
	}
}

type staticSource string

func (s staticSource) Token() string { return string(s) }

func TestResolveToken(t *testing.T) {
	if token, err := ResolveToken(" explicit ", staticSource("stored")); err != nil || token != "explicit" {
		t.Errorf("expected explicit token, got %q, %v", token, err)
	}
	if token, err := ResolveToken("", staticSource("stored")); err != nil || token != "stored" {
		t.Errorf("expected stored token, got %q, %v", token, err)
	}
	if _, err := ResolveToken("", staticSource("")); !errors.Is(err, ErrNoToken) {
		t.Errorf("expected ErrNoToken, got %v", err)
	}
	if _, err := ResolveToken("", nil); !errors.Is(err, ErrNoToken) {
		t.Errorf("expected ErrNoToken for nil source, got %v", err)
	}
}

func signToken(t *testing.T, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func TestParseClaims(t *testing.T) {
	now := time.Unix(1700000000, 0)

	token := signToken(t, Claims{
		Role: models.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-7",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})

	claims, err := ParseClaims(token)
	if err != nil {
		t.Fatalf("ParseClaims failed: %v", err)
	}
	if claims.UserID != "user-7" {
		t.Errorf("expected user id from subject, got %q", claims.UserID)
	}
	if claims.Role != models.RoleAdmin {
		t.Errorf("expected admin role, got %q", claims.Role)
	}
	if err := CheckExpiry(claims, now); err != nil {
		t.Errorf("expected token to be valid, got %v", err)
	}
	if err := CheckExpiry(claims, now.Add(2*time.Hour)); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}

	if _, err := ParseClaims("not-a-jwt"); err == nil {
		t.Error("expected error for malformed token")
	}
}
