package app

import (
	"log/slog"

	"github.com/loopchat/backend/internal/auth"
	"github.com/loopchat/backend/internal/config"
	"github.com/loopchat/backend/internal/db"
	"github.com/loopchat/backend/internal/handlers"
	"github.com/loopchat/backend/internal/middleware"
	"github.com/loopchat/backend/internal/relay"
	"github.com/loopchat/backend/internal/repositories"
)

// buildDependencies wires together concrete implementations used by the HTTP
// handlers and the websocket relay. The returned denylist store is exposed
// separately so the caller can run the expiry sweeper against it.
func buildDependencies(pool db.Pool, cfg config.Config) (handlers.Dependencies, auth.DenylistStore) {
	users := repositories.NewPostgresUserRepository(pool)
	chats := repositories.NewPostgresChatRepository(pool)
	invites := repositories.NewPostgresInviteRepository(pool)
	denylist := repositories.NewPostgresDenylist(pool)

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.SessionTTL)

	hub := relay.NewHub(relay.NewMemoryPresence(), chats, slog.Default())
	relayHandler := relay.Handler{
		Hub:      hub,
		Tokens:   tokens,
		Denylist: denylist,
		Origin:   cfg.AllowedOrigin,
	}

	limiter := middleware.NewIPRateLimiter(cfg.AuthRateRequests, cfg.AuthRateWindow, cfg.AuthRateBurst, cfg.AuthRateWindow*10)

	return handlers.Dependencies{
		Users:       users,
		Sessions:    tokens,
		Denylist:    denylist,
		Invites:     invites,
		Chats:       chats,
		Relay:       relayHandler,
		AuthLimiter: limiter,
	}, denylist
}
