package relay

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/loopchat/backend/internal/auth"
	"github.com/loopchat/backend/internal/logging"
)

// TokenParser verifies session tokens presented at upgrade time.
type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

// DenylistChecker reports whether a token was revoked by a logout.
type DenylistChecker interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// Handler upgrades authenticated HTTP requests to relay connections.
type Handler struct {
	Hub      *Hub
	Tokens   TokenParser
	Denylist DenylistChecker
	Origin   string
}

// ServeHTTP implements GET /ws?token=... . The token travels as a query
// parameter because browsers cannot set headers on websocket upgrades.
func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	token := r.URL.Query().Get("token")
	claims, err := h.Tokens.Parse(token)
	if err != nil {
		logger.Warn("relay upgrade rejected", "error", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	if h.Denylist != nil {
		revoked, err := h.Denylist.IsRevoked(ctx, token)
		if err != nil {
			logger.Error("denylist lookup failed", "error", err)
			http.Error(w, "unable to verify session", http.StatusInternalServerError)
			return
		}
		if revoked {
			logger.Warn("relay upgrade with revoked token", "userId", claims.Subject)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if h.Origin == "" || h.Origin == "*" {
				return true
			}
			return r.Header.Get("Origin") == h.Origin
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newClient(h.Hub, uuid.NewString(), claims.Subject, conn)
	h.Hub.register(client)

	go client.writePump()
	go client.readPump()
}
