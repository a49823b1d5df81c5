package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loopchat/backend/internal/config"
)

type fakePool struct{}

func (fakePool) Acquire(context.Context) (*pgxpool.Conn, error) {
	return nil, errors.New("not implemented")
}

func (fakePool) Close() {}

func TestBuildDependencies(t *testing.T) {
	cfg := config.Config{
		JWTSecret:        "test-secret",
		SessionTTL:       time.Hour,
		AllowedOrigin:    "http://localhost:5173",
		AuthRateRequests: 10,
		AuthRateWindow:   time.Minute,
		AuthRateBurst:    5,
	}

	deps, denylist := buildDependencies(fakePool{}, cfg)

	if deps.Users == nil {
		t.Fatal("expected user repository to be configured")
	}
	if deps.Sessions == nil {
		t.Fatal("expected session manager to be configured")
	}
	if deps.Denylist == nil {
		t.Fatal("expected token denylist to be configured")
	}
	if deps.Invites == nil {
		t.Fatal("expected invite repository to be configured")
	}
	if deps.Chats == nil {
		t.Fatal("expected chat repository to be configured")
	}
	if deps.Relay == nil {
		t.Fatal("expected relay handler to be configured")
	}
	if deps.AuthLimiter == nil {
		t.Fatal("expected auth rate limiter to be configured")
	}
	if denylist == nil {
		t.Fatal("expected denylist store for the sweeper")
	}
}
