package handlers

import (
	"context"
	"time"

	"github.com/loopchat/backend/internal/auth"
	"github.com/loopchat/backend/internal/models"
)

// UserStore captures the persistence operations required by the handlers.
type UserStore interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindByID(ctx context.Context, id string) (models.User, error)
	IsContact(ctx context.Context, userID, contactID string) (bool, error)
}

// SessionManager issues and verifies signed session tokens.
type SessionManager interface {
	Issue(user models.User) (string, time.Time, error)
	Parse(token string) (*auth.Claims, error)
	ExpiryOf(token string) (time.Time, error)
}

// TokenDenylist records revoked tokens until their natural expiry.
type TokenDenylist interface {
	Revoke(ctx context.Context, token string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// InviteStore captures operations required by the invite handlers.
type InviteStore interface {
	Create(ctx context.Context, invite models.Invite) error
	FindByID(ctx context.Context, id string) (models.Invite, error)
	ExistsPending(ctx context.Context, senderID, receiverID, inviteType string) (bool, error)
	ListPendingForUser(ctx context.Context, userID string) ([]models.Invite, error)
	AcceptDirect(ctx context.Context, inviteID string, chat models.Chat) error
	AcceptGroup(ctx context.Context, inviteID, chatID, userID string) error
	UpdateStatus(ctx context.Context, inviteID, status string) error
	Delete(ctx context.Context, inviteID string) error
}

// ChatStore captures operations required by the chat handlers.
type ChatStore interface {
	ListForUser(ctx context.Context, userID string) ([]models.ChatSummary, error)
	FindForUser(ctx context.Context, chatID, userID string) (models.Chat, error)
	CreateDirect(ctx context.Context, chat models.Chat) error
	FindDirectBetween(ctx context.Context, userA, userB string) (models.Chat, error)
	AppendMessage(ctx context.Context, msg models.Message) error
}
