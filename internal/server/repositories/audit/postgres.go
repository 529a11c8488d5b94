package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/okulov/vaultsync/internal/dbx"
	"github.com/okulov/vaultsync/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Append(ctx context.Context, event *models.AuditEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var prev string
	err := r.db.QueryRowContext(ctx,
		`SELECT hash FROM audit_events ORDER BY id DESC LIMIT 1`).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("selecting audit tail: %w", err)
	}

	event.Hash = chainHash(prev, event)

	query := `
		INSERT INTO audit_events (username, event, outcome, origin, hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	err = r.db.QueryRowContext(ctx, query,
		event.Username, event.Event, event.Outcome, event.Origin,
		event.Hash, event.CreatedAt,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Last(ctx context.Context, limit int) ([]*models.AuditEvent, error) {
	query := `
		SELECT id, username, event, outcome, origin, hash, created_at
		FROM audit_events ORDER BY id DESC LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("selecting audit events: %w", err)
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		e := &models.AuditEvent{}
		if err := rows.Scan(&e.ID, &e.Username, &e.Event, &e.Outcome,
			&e.Origin, &e.Hash, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
