// Package dbx holds the small database plumbing shared by every
// repository: the DBTX interface that lets a repo run against either a
// plain handle or an open transaction, and the WithTx wrapper.
package dbx

import (
	"context"
	"database/sql"
)

// DBTX is the slice of database/sql the repositories call. *sql.DB and
// *sql.Tx both satisfy it, so service code decides per call whether a
// repo operates transactionally.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn inside a transaction: commit on nil error, rollback on
// error or panic (the panic is rethrown after rollback).
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    if err := users.Update(ctx, tx, u); err != nil {
//	        return err
//	    }
//	    return vaults.Insert(ctx, tx, v)
//	})
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}
