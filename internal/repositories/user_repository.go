package repositories

import (
	"context"

	"github.com/loopchat/backend/internal/models"
)

// UserRepository defines the data access contract for users and their contacts.
type UserRepository interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindByID(ctx context.Context, id string) (models.User, error)
	IsContact(ctx context.Context, userID, contactID string) (bool, error)
}
