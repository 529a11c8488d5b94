package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/okulov/vaultsync/internal/common"
	"github.com/okulov/vaultsync/internal/dbx"
	"github.com/okulov/vaultsync/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	query := `INSERT INTO refresh_tokens (user_id, token, expires_at) VALUES ($1, $2, $3)`

	_, err := r.db.ExecContext(ctx, query, token.UserID, token.Token, token.ExpiresAt)
	if err != nil {
		return fmt.Errorf("inserting refresh token: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, token string) (*models.RefreshToken, error) {
	query := `SELECT user_id, token, expires_at FROM refresh_tokens WHERE token = $1`

	rt := &models.RefreshToken{}
	err := r.db.QueryRowContext(ctx, query, token).Scan(&rt.UserID, &rt.Token, &rt.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("selecting refresh token: %w", err)
	}
	return rt, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("deleting refresh token: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteAllForUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("deleting refresh tokens for user: %w", err)
	}
	return nil
}
