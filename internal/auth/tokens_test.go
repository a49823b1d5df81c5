package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/loopchat/backend/internal/models"
)

func TestTokenManagerIssueAndParse(t *testing.T) {
	manager := NewTokenManager("test-secret", time.Hour)

	user := models.User{ID: "user-1", Username: "alice", Email: "alice@example.com"}
	token, expiresAt, err := manager.Issue(user)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}
	if remaining := time.Until(expiresAt); remaining < 59*time.Minute {
		t.Fatalf("expected roughly one hour of validity, got %v", remaining)
	}

	claims, err := manager.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "user-1" || claims.Username != "alice" || claims.Email != "alice@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestTokenManagerIssueValidation(t *testing.T) {
	manager := NewTokenManager("test-secret", time.Hour)
	if _, _, err := manager.Issue(models.User{}); err == nil {
		t.Fatal("expected error for empty user id")
	}
}

func TestTokenManagerParseFailures(t *testing.T) {
	manager := NewTokenManager("test-secret", time.Hour)

	if _, err := manager.Parse(""); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for empty token, got %v", err)
	}

	if _, err := manager.Parse("not-a-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for malformed token, got %v", err)
	}

	other := NewTokenManager("different-secret", time.Hour)
	token, _, err := other.Issue(models.User{ID: "user-1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := manager.Parse(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for wrong signature, got %v", err)
	}
}

func TestTokenManagerParseExpired(t *testing.T) {
	manager := NewTokenManager("test-secret", time.Hour)
	manager.NowFunc = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, _, err := manager.Issue(models.User{ID: "user-1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	manager.NowFunc = nil
	if _, err := manager.Parse(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for expired token, got %v", err)
	}
}

func TestTokenManagerExpiryOf(t *testing.T) {
	manager := NewTokenManager("test-secret", time.Hour)

	token, expiresAt, err := manager.Issue(models.User{ID: "user-1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	decoded, err := manager.ExpiryOf(token)
	if err != nil {
		t.Fatalf("expiry of: %v", err)
	}
	if decoded.Unix() != expiresAt.Unix() {
		t.Fatalf("expected expiry %v got %v", expiresAt, decoded)
	}

	// A token signed elsewhere still decodes; logout must be able to denylist it.
	foreign := NewTokenManager("different-secret", time.Hour)
	token, _, err = foreign.Issue(models.User{ID: "user-2"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := manager.ExpiryOf(token); err != nil {
		t.Fatalf("expected foreign token to decode, got %v", err)
	}

	if _, err := manager.ExpiryOf("garbage"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}
