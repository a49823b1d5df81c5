package repositories

import (
	"context"

	"github.com/loopchat/backend/internal/models"
)

// InviteRepository defines data access for relationship invites.
type InviteRepository interface {
	Create(ctx context.Context, invite models.Invite) error
	FindByID(ctx context.Context, id string) (models.Invite, error)
	ExistsPending(ctx context.Context, senderID, receiverID, inviteType string) (bool, error)
	ListPendingForUser(ctx context.Context, userID string) ([]models.Invite, error)
	// AcceptDirect atomically creates the direct chat, adds each party to the
	// other's contacts, and marks the invite accepted with the chat linked.
	AcceptDirect(ctx context.Context, inviteID string, chat models.Chat) error
	// AcceptGroup atomically adds the receiver to the chat's participants and
	// marks the invite accepted.
	AcceptGroup(ctx context.Context, inviteID, chatID, userID string) error
	UpdateStatus(ctx context.Context, inviteID, status string) error
	Delete(ctx context.Context, inviteID string) error
}
