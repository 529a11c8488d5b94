package vaultdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okulov/vaultsync/internal/common"
)

// nowMilli is a seam for tests that need deterministic timestamps.
var nowMilli = func() int64 { return time.Now().UnixMilli() }

// Credential is one stored login.
type Credential struct {
	ID        string
	Title     string
	Username  string
	Password  string
	URL       string
	UpdatedAt int64
	IsDeleted bool
}

// Identity is a stored personal identity record.
type Identity struct {
	ID        string
	Title     string
	FullName  string
	Email     string
	Phone     string
	UpdatedAt int64
	IsDeleted bool
}

// OTPSeed is a stored one-time-password secret for a third-party site.
type OTPSeed struct {
	ID        string
	Title     string
	Issuer    string
	Secret    string
	UpdatedAt int64
	IsDeleted bool
}

// Note is free-form secret text.
type Note struct {
	ID        string
	Title     string
	Body      string
	UpdatedAt int64
	IsDeleted bool
}

// Attachment is a small binary payload (keys, documents).
type Attachment struct {
	ID        string
	Title     string
	Filename  string
	Content   []byte
	UpdatedAt int64
	IsDeleted bool
}

// touch assigns an id to new records and stamps the modification time.
func touch(id *string, updatedAt *int64) {
	if *id == "" {
		*id = uuid.NewString()
	}
	*updatedAt = nowMilli()
}

// tombstone soft-deletes a row: the record stays in the table so the
// deletion propagates to other devices through merge.
func (d *DB) tombstone(ctx context.Context, table, id string) error {
	query := fmt.Sprintf(`UPDATE %s SET is_deleted = 1, updated_at = ? WHERE id = ? AND is_deleted = 0`, table)
	res, err := d.ExecContext(ctx, query, nowMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (d *DB) SaveCredential(ctx context.Context, c *Credential) error {
	touch(&c.ID, &c.UpdatedAt)
	query := `
		INSERT INTO credentials (id, title, username, password, url, updated_at, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title,
			username = excluded.username,
			password = excluded.password,
			url = excluded.url,
			updated_at = excluded.updated_at,
			is_deleted = 0`
	_, err := d.ExecContext(ctx, query, c.ID, c.Title, c.Username, c.Password, c.URL, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

func (d *DB) GetCredential(ctx context.Context, id string) (*Credential, error) {
	query := `SELECT id, title, username, password, url, updated_at FROM credentials WHERE id = ? AND is_deleted = 0`
	c := &Credential{}
	err := d.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Title, &c.Username, &c.Password, &c.URL, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select credential: %w", err)
	}
	return c, nil
}

func (d *DB) ListCredentials(ctx context.Context) ([]Credential, error) {
	query := `SELECT id, title, username, url, updated_at FROM credentials WHERE is_deleted = 0 ORDER BY title`
	rows, err := d.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select credentials: %w", err)
	}
	defer rows.Close()

	var result []Credential
	for rows.Next() {
		var c Credential
		if err := rows.Scan(&c.ID, &c.Title, &c.Username, &c.URL, &c.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (d *DB) DeleteCredential(ctx context.Context, id string) error {
	return d.tombstone(ctx, "credentials", id)
}

func (d *DB) SaveIdentity(ctx context.Context, i *Identity) error {
	touch(&i.ID, &i.UpdatedAt)
	query := `
		INSERT INTO identities (id, title, full_name, email, phone, updated_at, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title,
			full_name = excluded.full_name,
			email = excluded.email,
			phone = excluded.phone,
			updated_at = excluded.updated_at,
			is_deleted = 0`
	_, err := d.ExecContext(ctx, query, i.ID, i.Title, i.FullName, i.Email, i.Phone, i.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert identity: %w", err)
	}
	return nil
}

func (d *DB) ListIdentities(ctx context.Context) ([]Identity, error) {
	query := `SELECT id, title, full_name, email, phone, updated_at FROM identities WHERE is_deleted = 0 ORDER BY title`
	rows, err := d.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select identities: %w", err)
	}
	defer rows.Close()

	var result []Identity
	for rows.Next() {
		var i Identity
		if err := rows.Scan(&i.ID, &i.Title, &i.FullName, &i.Email, &i.Phone, &i.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, i)
	}
	return result, rows.Err()
}

func (d *DB) DeleteIdentity(ctx context.Context, id string) error {
	return d.tombstone(ctx, "identities", id)
}

func (d *DB) SaveOTPSeed(ctx context.Context, o *OTPSeed) error {
	touch(&o.ID, &o.UpdatedAt)
	query := `
		INSERT INTO otp_seeds (id, title, issuer, secret, updated_at, is_deleted)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title,
			issuer = excluded.issuer,
			secret = excluded.secret,
			updated_at = excluded.updated_at,
			is_deleted = 0`
	_, err := d.ExecContext(ctx, query, o.ID, o.Title, o.Issuer, o.Secret, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert otp seed: %w", err)
	}
	return nil
}

func (d *DB) ListOTPSeeds(ctx context.Context) ([]OTPSeed, error) {
	query := `SELECT id, title, issuer, secret, updated_at FROM otp_seeds WHERE is_deleted = 0 ORDER BY title`
	rows, err := d.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select otp seeds: %w", err)
	}
	defer rows.Close()

	var result []OTPSeed
	for rows.Next() {
		var o OTPSeed
		if err := rows.Scan(&o.ID, &o.Title, &o.Issuer, &o.Secret, &o.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

func (d *DB) DeleteOTPSeed(ctx context.Context, id string) error {
	return d.tombstone(ctx, "otp_seeds", id)
}

func (d *DB) SaveNote(ctx context.Context, n *Note) error {
	touch(&n.ID, &n.UpdatedAt)
	query := `
		INSERT INTO notes (id, title, body, updated_at, is_deleted)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title,
			body = excluded.body,
			updated_at = excluded.updated_at,
			is_deleted = 0`
	_, err := d.ExecContext(ctx, query, n.ID, n.Title, n.Body, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert note: %w", err)
	}
	return nil
}

func (d *DB) GetNote(ctx context.Context, id string) (*Note, error) {
	query := `SELECT id, title, body, updated_at FROM notes WHERE id = ? AND is_deleted = 0`
	n := &Note{}
	err := d.QueryRowContext(ctx, query, id).Scan(&n.ID, &n.Title, &n.Body, &n.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select note: %w", err)
	}
	return n, nil
}

func (d *DB) ListNotes(ctx context.Context) ([]Note, error) {
	query := `SELECT id, title, body, updated_at FROM notes WHERE is_deleted = 0 ORDER BY title`
	rows, err := d.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select notes: %w", err)
	}
	defer rows.Close()

	var result []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.Title, &n.Body, &n.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func (d *DB) DeleteNote(ctx context.Context, id string) error {
	return d.tombstone(ctx, "notes", id)
}

func (d *DB) SaveAttachment(ctx context.Context, a *Attachment) error {
	touch(&a.ID, &a.UpdatedAt)
	query := `
		INSERT INTO attachments (id, title, filename, content, updated_at, is_deleted)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title,
			filename = excluded.filename,
			content = excluded.content,
			updated_at = excluded.updated_at,
			is_deleted = 0`
	_, err := d.ExecContext(ctx, query, a.ID, a.Title, a.Filename, a.Content, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert attachment: %w", err)
	}
	return nil
}

func (d *DB) GetAttachment(ctx context.Context, id string) (*Attachment, error) {
	query := `SELECT id, title, filename, content, updated_at FROM attachments WHERE id = ? AND is_deleted = 0`
	a := &Attachment{}
	err := d.QueryRowContext(ctx, query, id).Scan(&a.ID, &a.Title, &a.Filename, &a.Content, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select attachment: %w", err)
	}
	return a, nil
}

func (d *DB) ListAttachments(ctx context.Context) ([]Attachment, error) {
	query := `SELECT id, title, filename, updated_at FROM attachments WHERE is_deleted = 0 ORDER BY title`
	rows, err := d.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select attachments: %w", err)
	}
	defer rows.Close()

	var result []Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.Title, &a.Filename, &a.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (d *DB) DeleteAttachment(ctx context.Context, id string) error {
	return d.tombstone(ctx, "attachments", id)
}
