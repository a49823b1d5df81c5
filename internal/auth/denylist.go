package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DenylistStore records revoked session tokens until their natural expiry.
// Entries for expired tokens are reclaimed by DeleteExpired.
type DenylistStore interface {
	Revoke(ctx context.Context, token string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, token string) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// NewInMemoryDenylist returns a DenylistStore backed by an in-memory map.
func NewInMemoryDenylist() *InMemoryDenylist {
	return &InMemoryDenylist{tokens: make(map[string]time.Time)}
}

// InMemoryDenylist implements DenylistStore for tests and local development.
type InMemoryDenylist struct {
	mu     sync.RWMutex
	tokens map[string]time.Time
}

// Revoke records the token until the provided expiry.
func (d *InMemoryDenylist) Revoke(_ context.Context, token string, expiresAt time.Time) error {
	d.mu.Lock()
	d.tokens[token] = expiresAt.UTC()
	d.mu.Unlock()
	return nil
}

// IsRevoked reports whether the token is currently denylisted. A token whose
// recorded expiry has passed is no longer considered revoked; ordinary expiry
// checking rejects it anyway.
func (d *InMemoryDenylist) IsRevoked(_ context.Context, token string) (bool, error) {
	d.mu.RLock()
	expiresAt, ok := d.tokens[token]
	d.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return time.Now().UTC().Before(expiresAt), nil
}

// DeleteExpired drops entries whose expiry is at or before now.
func (d *InMemoryDenylist) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	now = now.UTC()
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for token, expiresAt := range d.tokens {
		if !expiresAt.After(now) {
			delete(d.tokens, token)
			removed++
		}
	}
	return removed, nil
}

// StartSweeper periodically reclaims expired denylist entries until the
// context is cancelled.
func StartSweeper(ctx context.Context, store DenylistStore, every time.Duration, logger *slog.Logger) {
	if every <= 0 {
		every = 5 * time.Minute
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.DeleteExpired(ctx, time.Now())
			if err != nil {
				logger.Warn("denylist sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.Info("denylist sweep removed expired tokens", "count", removed)
			}
		}
	}
}
