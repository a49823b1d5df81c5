package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/loopchat/backend/internal/models"
)

var (
	// ErrTokenInvalid indicates the token is missing, malformed, expired, or
	// carries a bad signature.
	ErrTokenInvalid = errors.New("invalid session token")
	// ErrTokenRevoked indicates the token was denylisted by a logout.
	ErrTokenRevoked = errors.New("session token revoked")
)

// Claims carries the identity embedded in a session token.
type Claims struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies signed session tokens.
type TokenManager struct {
	secret  []byte
	ttl     time.Duration
	NowFunc func() time.Time
}

// NewTokenManager constructs a TokenManager signing HS256 tokens with the
// provided secret and time-to-live.
func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	if secret == "" {
		panic("auth: signing secret must not be empty")
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl}
}

// Issue creates a signed session token for the user. The subject is the user
// id; username and email ride along as custom claims.
func (m *TokenManager) Issue(user models.User) (string, time.Time, error) {
	if user.ID == "" {
		return "", time.Time{}, errors.New("user id must be provided")
	}

	now := m.now()
	expiresAt := now.Add(m.ttl)

	claims := Claims{
		Username: user.Username,
		Email:    user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}

	return signed, expiresAt, nil
}

// Parse verifies the token signature and expiry and returns its claims.
func (m *TokenManager) Parse(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrTokenInvalid
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

// ExpiryOf decodes the token without verifying its signature and returns the
// expiry claim. Logout uses this so even a token signed with a rotated secret
// can still be denylisted for its declared lifetime.
func (m *TokenManager) ExpiryOf(token string) (time.Time, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	parsed, _, err := parser.ParseUnverified(token, &Claims{})
	if err != nil {
		return time.Time{}, ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.ExpiresAt == nil {
		return time.Time{}, ErrTokenInvalid
	}
	return claims.ExpiresAt.Time, nil
}

func (m *TokenManager) now() time.Time {
	if m.NowFunc != nil {
		return m.NowFunc().UTC()
	}
	return time.Now().UTC()
}
