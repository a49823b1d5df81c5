package handlers

import (
	"net/http"
	"time"
)

// Dependencies bundles the collaborators required to serve the HTTP API.
type Dependencies struct {
	Users       UserStore
	Sessions    SessionManager
	Denylist    TokenDenylist
	Invites     InviteStore
	Chats       ChatStore
	Relay       http.Handler
	AuthLimiter RateLimiter
	NowFunc     func() time.Time
}

// RegisterRoutes wires every endpoint onto the provided mux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	authHandler := AuthHandler{
		Users:    deps.Users,
		Sessions: deps.Sessions,
		Denylist: deps.Denylist,
		Limiter:  deps.AuthLimiter,
		NowFunc:  deps.NowFunc,
	}
	chatHandler := ChatHandler{Chats: deps.Chats, Users: deps.Users, NowFunc: deps.NowFunc}
	inviteHandler := InviteHandler{Invites: deps.Invites, Users: deps.Users, Chats: deps.Chats, NowFunc: deps.NowFunc}
	authn := Authenticator{Tokens: deps.Sessions, Denylist: deps.Denylist, Users: deps.Users}

	mux.HandleFunc("/healthz", HealthHandler{}.Handle)

	mux.HandleFunc("/api/auth/register", authHandler.Register)
	mux.HandleFunc("/api/auth/login", authHandler.Login)
	mux.HandleFunc("/api/auth/logout", authHandler.Logout)
	mux.HandleFunc("/api/auth/me", authn.Require(authHandler.Me))

	mux.HandleFunc("/api/chats", authn.Require(chatHandler.List))
	mux.HandleFunc("/api/chats/", authn.Require(chatHandler.Route))

	mux.HandleFunc("/api/invites/send", authn.Require(inviteHandler.Send))
	mux.HandleFunc("/api/invites", authn.Require(inviteHandler.List))
	mux.HandleFunc("/api/invites/{inviteId}", authn.Require(inviteHandler.Get))
	mux.HandleFunc("/api/invites/accept/{inviteId}", authn.Require(inviteHandler.Accept))
	mux.HandleFunc("/api/invites/reject/{inviteId}", authn.Require(inviteHandler.Reject))
	mux.HandleFunc("/api/invites/cancel/{inviteId}", authn.Require(inviteHandler.Cancel))

	if deps.Relay != nil {
		mux.Handle("/ws", deps.Relay)
	}
}
