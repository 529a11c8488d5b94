// Package vaultdb manages the local plaintext vault database: an sqlite
// file that exists decrypted only while the session is unlocked. The
// whole file doubles as the snapshot unit for sync.
package vaultdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/okulov/vaultsync/internal/common"
	"github.com/okulov/vaultsync/internal/client/vaultdb/migrations"
)

// Metadata keys.
const (
	MetaCanary = "canary"
	MetaEpoch  = "epoch"

	// Account metadata cached locally so the vault can be unlocked
	// without a server round-trip.
	MetaUsername    = "username"
	MetaSalt        = "salt"
	MetaKDFType     = "kdf_type"
	MetaKDFSettings = "kdf_settings"
)

// DB wraps the open sqlite handle together with the file path, which
// Snapshot and merge need.
type DB struct {
	*sql.DB
	path string
}

// Open opens (or creates) the vault database at path and brings the
// schema up to date. A database written by a newer client reports
// common.ErrPendingMigrations instead of being touched.
func Open(ctx context.Context, path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening vault db: %w", err)
	}

	if err := runMigrations(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &DB{DB: sqlDB, path: path}, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}

	current, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	newest, err := newestMigrationVersion()
	if err != nil {
		return err
	}
	if current > newest {
		return common.ErrPendingMigrations
	}

	return goose.UpContext(ctx, db, ".")
}

func newestMigrationVersion() (int64, error) {
	all, err := goose.CollectMigrations(".", 0, goose.MaxVersion)
	if err != nil {
		return 0, fmt.Errorf("collecting migrations: %w", err)
	}
	last, err := all.Last()
	if err != nil {
		return 0, err
	}
	return last.Version, nil
}

func (d *DB) Path() string {
	return d.path
}

// SchemaVersion reports the applied migration version. It travels with
// every uploaded snapshot so older clients can refuse newer vaults.
func (d *DB) SchemaVersion(ctx context.Context) (int64, error) {
	return goose.GetDBVersionContext(ctx, d.DB)
}

// GetMeta returns the metadata value for key, nil when absent.
func (d *DB) GetMeta(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := d.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata[%s]: %w", key, err)
	}
	return value, nil
}

func (d *DB) SetMeta(ctx context.Context, key string, value []byte) error {
	_, err := d.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set metadata[%s]: %w", key, err)
	}
	return nil
}

// Snapshot returns the database file as one byte blob. The WAL is
// checkpointed first so the file alone is the complete state.
func (d *DB) Snapshot(ctx context.Context) ([]byte, error) {
	if _, err := d.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return nil, fmt.Errorf("checkpointing vault db: %w", err)
	}
	data, err := os.ReadFile(d.path)
	if err != nil {
		return nil, fmt.Errorf("reading vault db file: %w", err)
	}
	return data, nil
}

// WriteSnapshot materializes a snapshot blob as an sqlite file at path.
// Used for fetched server copies before merging.
func WriteSnapshot(path string, data []byte) error {
	return os.WriteFile(path, data, 0o600)
}
