package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/loopchat/backend/internal/logging"
	"github.com/loopchat/backend/internal/models"
	"github.com/loopchat/backend/internal/repositories"
)

type ctxKey int

const currentUserKey ctxKey = iota

// Authenticator guards routes that require a valid, non-revoked session token.
type Authenticator struct {
	Tokens   SessionManager
	Denylist TokenDenylist
	Users    UserStore
}

// Require wraps next so it only runs for requests carrying a valid bearer
// token. The resolved user is placed on the request context.
func (a Authenticator) Require(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := logging.FromContext(ctx)

		token := bearerToken(r)
		if token == "" {
			respondError(ctx, w, http.StatusUnauthorized, "authentication required")
			return
		}

		revoked, err := a.Denylist.IsRevoked(ctx, token)
		if err != nil {
			logger.Error("denylist lookup failed", "error", err)
			respondError(ctx, w, http.StatusInternalServerError, "unable to verify session")
			return
		}
		if revoked {
			respondError(ctx, w, http.StatusUnauthorized, "session has been logged out")
			return
		}

		claims, err := a.Tokens.Parse(token)
		if err != nil {
			logger.Warn("rejected session token", "error", err)
			respondError(ctx, w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		user, err := a.Users.FindByID(ctx, claims.Subject)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				respondError(ctx, w, http.StatusUnauthorized, "account no longer exists")
				return
			}
			logger.Error("load authenticated user", "error", err, "userId", claims.Subject)
			respondError(ctx, w, http.StatusInternalServerError, "unable to verify session")
			return
		}

		next(w, r.WithContext(withCurrentUser(ctx, user)))
	}
}

func withCurrentUser(ctx context.Context, user models.User) context.Context {
	return context.WithValue(ctx, currentUserKey, user)
}

// CurrentUser returns the authenticated user stored by Authenticator.Require.
func CurrentUser(ctx context.Context) (models.User, bool) {
	user, ok := ctx.Value(currentUserKey).(models.User)
	return user, ok
}
