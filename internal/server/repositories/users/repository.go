package users

import (
	"context"
	"encoding/json"
	"time"

	"github.com/okulov/vaultsync/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)

	// UpdateLockState persists the consecutive-failure counter and the
	// optional lockout deadline.
	UpdateLockState(ctx context.Context, userID string, failedAttempts int, lockedUntil *time.Time) error

	// UpdateAuth replaces the password epoch: salt, verifier and KDF
	// settings change together. Run inside the same transaction as the
	// accompanying vault upload.
	UpdateAuth(ctx context.Context, userID string, salt, verifier []byte, kdfType string, kdfSettings json.RawMessage) error

	SetTOTPSecret(ctx context.Context, userID, secret string) error
	AddRecoveryCodes(ctx context.Context, userID string, codeHashes []string) error

	// ConsumeRecoveryCode marks the code used and reports whether it was
	// present and unused. A code authenticates at most once.
	ConsumeRecoveryCode(ctx context.Context, userID, codeHash string) (bool, error)
}
