package vaults

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

func (r *PostgresRepository) GetLatest(ctx context.Context, userID string) (*models.Vault, error) {
	query := `
		SELECT id, user_id, blob, COALESCE(storage_key, ''), revision_number,
		       version, encryption_type, encryption_settings, created_at
		FROM vaults
		WHERE user_id = $1
		ORDER BY revision_number DESC
		LIMIT 1`

	vault := &models.Vault{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&vault.ID, &vault.UserID, &vault.Blob, &vault.StorageKey,
		&vault.RevisionNumber, &vault.Version,
		&vault.EncryptionType, &vault.EncryptionSettings, &vault.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("selecting latest vault: %w", err)
	}
	return vault, nil
}

func (r *PostgresRepository) GetLatestRevision(ctx context.Context, userID string) (int64, error) {
	query := `SELECT COALESCE(MAX(revision_number), 0) FROM vaults WHERE user_id = $1`

	var revision int64
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&revision); err != nil {
		return 0, fmt.Errorf("selecting latest revision: %w", err)
	}
	return revision, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, vault *models.Vault) (*models.Vault, error) {
	query := `
		INSERT INTO vaults (user_id, blob, storage_key, revision_number,
		                    version, encryption_type, encryption_settings)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)
		RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		vault.UserID, vault.Blob, vault.StorageKey, vault.RevisionNumber,
		vault.Version, vault.EncryptionType, vault.EncryptionSettings,
	).Scan(&vault.ID, &vault.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Someone else won the race for this revision number.
			return nil, common.ErrVaultOutdated
		}
		return nil, fmt.Errorf("inserting vault revision: %w", err)
	}
	return vault, nil
}
