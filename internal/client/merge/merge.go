// Package merge reconciles two vault database snapshots with whole-row
// last-writer-wins semantics. The incoming snapshot is attached to the
// live connection, so reconciliation is plain SQL and commits atomically.
package merge

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/okulov/vaultsync/internal/client/vaultdb"
	"github.com/okulov/vaultsync/internal/common"
)

// Into merges the snapshot file at srcPath into dst. Only tables present
// in both databases and carrying the merge columns (id, is_deleted)
// participate; rows with a strictly newer updated_at win, tombstones
// included. Tables without updated_at fall back to source-overwrites.
// Nothing is mutated when the snapshots belong to different password
// epochs.
func Into(ctx context.Context, dst *vaultdb.DB, srcPath string) error {
	conn, err := dst.Conn(ctx)
	if err != nil {
		return fmt.Errorf("pinning connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `ATTACH DATABASE ? AS src`, srcPath); err != nil {
		return fmt.Errorf("attaching snapshot: %w", err)
	}
	defer conn.ExecContext(context.WithoutCancel(ctx), `DETACH DATABASE src`)

	if err := checkEpochs(ctx, conn); err != nil {
		return err
	}

	tables, err := mergeableTables(ctx, conn)
	if err != nil {
		return err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning merge transaction: %w", err)
	}
	defer tx.Rollback()

	for _, t := range tables {
		if err := mergeTable(ctx, tx, t); err != nil {
			return fmt.Errorf("merging table %s: %w", t.name, err)
		}
	}

	return tx.Commit()
}

// Fold merges several snapshots into dst one after another. Pairwise
// left-fold: with LWW row semantics the outcome is independent of the
// order the snapshots arrive in.
func Fold(ctx context.Context, dst *vaultdb.DB, srcPaths ...string) error {
	for _, p := range srcPaths {
		if err := Into(ctx, dst, p); err != nil {
			return err
		}
	}
	return nil
}

func checkEpochs(ctx context.Context, conn *sql.Conn) error {
	dstEpoch, err := metaValue(ctx, conn, "main")
	if err != nil {
		return err
	}
	srcEpoch, err := metaValue(ctx, conn, "src")
	if err != nil {
		return err
	}
	if !bytes.Equal(dstEpoch, srcEpoch) {
		return common.ErrMergeEpochMismatch
	}
	return nil
}

func metaValue(ctx context.Context, conn *sql.Conn, schema string) ([]byte, error) {
	var value []byte
	err := conn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT value FROM %s.metadata WHERE key = ?`, schema),
		vaultdb.MetaEpoch).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s epoch: %w", schema, err)
	}
	return value, nil
}

type tableSpec struct {
	name string
	// columns shared by both sides, id first
	columns []string
	// whether both sides carry updated_at and LWW applies
	timestamped bool
}

// mergeableTables probes every user table in the source snapshot and
// keeps those applicable for merge: present on both sides with id and
// is_deleted columns.
func mergeableTables(ctx context.Context, conn *sql.Conn) ([]tableSpec, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT name FROM src.sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		  AND name NOT LIKE 'goose_%' AND name != 'metadata'`)
	if err != nil {
		return nil, fmt.Errorf("listing source tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var tables []tableSpec
	for _, name := range names {
		srcCols, err := tableColumns(ctx, conn, "src", name)
		if err != nil {
			return nil, err
		}
		dstCols, err := tableColumns(ctx, conn, "main", name)
		if err != nil {
			return nil, err
		}
		if len(dstCols) == 0 {
			continue // table unknown to this client version
		}

		shared := intersect(srcCols, dstCols)
		if !contains(shared, "id") || !contains(shared, "is_deleted") {
			continue
		}

		tables = append(tables, tableSpec{
			name:        name,
			columns:     shared,
			timestamped: contains(shared, "updated_at"),
		})
	}
	return tables, nil
}

func tableColumns(ctx context.Context, conn *sql.Conn, schema, table string) ([]string, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(`PRAGMA %s.table_info(%q)`, schema, table))
	if err != nil {
		return nil, fmt.Errorf("probing %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notNull   int
			dflt      sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// mergeTable upserts every source row into the destination. With
// timestamps the row with the strictly greater updated_at wins, so
// replaying the same snapshot is a no-op. Without timestamps the source
// row always overwrites.
func mergeTable(ctx context.Context, tx *sql.Tx, t tableSpec) error {
	colList := strings.Join(t.columns, ", ")

	var sets []string
	for _, c := range t.columns {
		if c == "id" {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
	}

	query := fmt.Sprintf(`
		INSERT INTO main.%s (%s)
		SELECT %s FROM src.%s WHERE true
		ON CONFLICT(id) DO UPDATE SET %s`,
		t.name, colList, colList, t.name, strings.Join(sets, ", "))
	if t.timestamped {
		query += fmt.Sprintf(" WHERE excluded.updated_at > %s.updated_at", t.name)
	}

	_, err := tx.ExecContext(ctx, query)
	return err
}

func intersect(a, b []string) []string {
	var out []string
	for _, x := range a {
		if contains(b, x) {
			out = append(out, x)
		}
	}
	return out
}

func contains(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
