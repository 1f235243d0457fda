package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"studiochat/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoToken      = errors.New("no auth token")
	ErrTokenExpired = errors.New("token expired")
)

// authFailureKeywords are matched case-insensitively against connect error
// messages. Anything else is treated as a network error. Bare "expired" is
// left out: TLS reports expired certificates with it.
var authFailureKeywords = []string{
	"authentication",
	"unauthorized",
	"jwt",
	"invalid token",
	"token expired",
	"expired token",
	"invalid signature",
}

// IsAuthFailure reports whether a connection error message means the
// backend rejected our credentials.
func IsAuthFailure(message string) bool {
	msg := strings.ToLower(message)
	for _, kw := range authFailureKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// TokenSource yields the currently persisted auth token, or "".
type TokenSource interface {
	Token() string
}

// ResolveToken prefers an explicit token over the persisted one.
func ResolveToken(explicit string, src TokenSource) (string, error) {
	if token := strings.TrimSpace(explicit); token != "" {
		return token, nil
	}
	if src != nil {
		if token := src.Token(); token != "" {
			return token, nil
		}
	}
	return "", ErrNoToken
}

// Claims is the subset of the backend JWT the client cares about.
type Claims struct {
	UserID string      `json:"id,omitempty"`
	Role   models.Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// ParseClaims decodes token claims without verifying the signature.
// The client has no key; the backend remains the authority.
func ParseClaims(token string) (*Claims, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	return &claims, nil
}

// CheckExpiry returns ErrTokenExpired when the token carries an expiry before now.
// Tokens without an expiry are accepted.
func CheckExpiry(claims *Claims, now time.Time) error {
	if claims.ExpiresAt == nil {
		return nil
	}
	if !now.Before(claims.ExpiresAt.Time) {
		return fmt.Errorf("%w at %s", ErrTokenExpired, claims.ExpiresAt.Time.Format(time.RFC3339))
	}
	return nil
}
