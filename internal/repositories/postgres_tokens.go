package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/loopchat/backend/internal/auth"
	"github.com/loopchat/backend/internal/db"
)

// PostgresDenylist persists revoked session tokens to PostgreSQL. Entries
// outlive process restarts and are reclaimed by the sweeper once expired.
type PostgresDenylist struct {
	pool db.Pool
}

// NewPostgresDenylist constructs a denylist store backed by PostgreSQL.
func NewPostgresDenylist(pool db.Pool) *PostgresDenylist {
	return &PostgresDenylist{pool: pool}
}

// Revoke records the token until its expiry.
func (s *PostgresDenylist) Revoke(ctx context.Context, token string, expiresAt time.Time) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO revoked_tokens (token, expires_at)
        VALUES ($1, $2)
        ON CONFLICT (token)
        DO UPDATE SET expires_at = EXCLUDED.expires_at
    `, token, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert revoked token: %w", err)
	}

	return nil
}

// IsRevoked reports whether the token is denylisted and not yet expired.
func (s *PostgresDenylist) IsRevoked(ctx context.Context, token string) (bool, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var expiresAt time.Time
	row := conn.QueryRow(ctx, `
        SELECT expires_at
        FROM revoked_tokens
        WHERE token = $1
    `, token)
	if err := row.Scan(&expiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("select revoked token: %w", err)
	}

	return time.Now().UTC().Before(expiresAt.UTC()), nil
}

// DeleteExpired drops entries whose expiry is at or before now.
func (s *PostgresDenylist) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        DELETE FROM revoked_tokens
        WHERE expires_at <= $1
    `, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

var _ auth.DenylistStore = (*PostgresDenylist)(nil)
