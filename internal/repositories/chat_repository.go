package repositories

import (
	"context"

	"github.com/loopchat/backend/internal/models"
)

// ChatRepository defines data access for conversations and their messages.
type ChatRepository interface {
	ListForUser(ctx context.Context, userID string) ([]models.ChatSummary, error)
	// FindForUser loads a full chat including messages. It returns ErrNotFound
	// when the chat is inactive, absent, or the user is not a participant, so
	// callers cannot distinguish "doesn't exist" from "not yours".
	FindForUser(ctx context.Context, chatID, userID string) (models.Chat, error)
	CreateDirect(ctx context.Context, chat models.Chat) error
	FindDirectBetween(ctx context.Context, userA, userB string) (models.Chat, error)
	// AppendMessage appends to the chat's message log and refreshes the
	// last-message preview. ErrNotFound follows the FindForUser rule for the
	// message sender.
	AppendMessage(ctx context.Context, msg models.Message) error
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
}
