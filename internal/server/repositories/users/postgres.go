package users

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
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

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query := `
		INSERT INTO users (username, salt, verifier, kdf_type, kdf_settings)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		user.Username, user.Salt, user.Verifier, user.KDFType, user.KDFSettings,
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("inserting user: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `
		SELECT id, username, salt, verifier, kdf_type, kdf_settings,
		       COALESCE(totp_secret, ''), failed_attempts, locked_until, created_at
		FROM users WHERE username = $1`

	return r.scanUser(r.db.QueryRowContext(ctx, query, username))
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT id, username, salt, verifier, kdf_type, kdf_settings,
		       COALESCE(totp_secret, ''), failed_attempts, locked_until, created_at
		FROM users WHERE id = $1`

	return r.scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) scanUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	var lockedUntil sql.NullTime

	err := row.Scan(&user.ID, &user.Username, &user.Salt, &user.Verifier,
		&user.KDFType, &user.KDFSettings, &user.TOTPSecret,
		&user.FailedAttempts, &lockedUntil, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	if lockedUntil.Valid {
		t := lockedUntil.Time
		user.LockedUntil = &t
	}
	return user, nil
}

func (r *PostgresRepository) UpdateLockState(ctx context.Context, userID string, failedAttempts int, lockedUntil *time.Time) error {
	query := `UPDATE users SET failed_attempts = $2, locked_until = $3 WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, userID, failedAttempts, lockedUntil)
	if err != nil {
		return fmt.Errorf("updating lock state: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateAuth(ctx context.Context, userID string, salt, verifier []byte, kdfType string, kdfSettings json.RawMessage) error {
	query := `UPDATE users SET salt = $2, verifier = $3, kdf_type = $4, kdf_settings = $5 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, userID, salt, verifier, kdfType, kdfSettings)
	if err != nil {
		return fmt.Errorf("updating auth: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) SetTOTPSecret(ctx context.Context, userID, secret string) error {
	query := `UPDATE users SET totp_secret = NULLIF($2, '') WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, userID, secret)
	if err != nil {
		return fmt.Errorf("updating totp secret: %w", err)
	}
	return nil
}

func (r *PostgresRepository) AddRecoveryCodes(ctx context.Context, userID string, codeHashes []string) error {
	for _, h := range codeHashes {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO recovery_codes (user_id, code_hash) VALUES ($1, $2)`, userID, h)
		if err != nil {
			return fmt.Errorf("inserting recovery code: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) ConsumeRecoveryCode(ctx context.Context, userID, codeHash string) (bool, error) {
	query := `
		UPDATE recovery_codes SET used_at = now()
		WHERE user_id = $1 AND code_hash = $2 AND used_at IS NULL`

	res, err := r.db.ExecContext(ctx, query, userID, codeHash)
	if err != nil {
		return false, fmt.Errorf("consuming recovery code: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
