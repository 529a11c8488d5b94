package refreshtokens

import (
	"context"

	"github.com/okulov/vaultsync/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, token *models.RefreshToken) error

	// Get returns the stored token or common.ErrorNotFound. Expiry is
	// not checked here; the service layer compares ExpiresAt.
	Get(ctx context.Context, token string) (*models.RefreshToken, error)

	Delete(ctx context.Context, token string) error

	// DeleteAllForUser revokes every outstanding session, used when the
	// password epoch changes.
	DeleteAllForUser(ctx context.Context, userID string) error
}
