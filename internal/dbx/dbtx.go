// Package dbx provides tiny DB abstractions shared by repositories:
// a minimal interface (DBTX) implemented by *sql.DB, *sql.Conn and *sql.Tx,
// transaction helpers, identifier quoting and driver error classification.
package dbx

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of database/sql used by our repos.
// *sql.DB, *sql.Conn and *sql.Tx all satisfy this interface.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxBeginner is implemented by *sql.DB and *sql.Conn.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// WithTx begins a transaction, runs fn with a transactional handle, and then
// commits on success or rolls back on error/panic. Panics are rethrown.
//
// Typical use:
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    _, err := tx.ExecContext(ctx, "UPDATE ...")
//	    return err
//	})
func WithTx(ctx context.Context, db TxBeginner, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
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

// TxRunner runs a function inside a transaction. Services depend on it
// rather than on *sql.DB so tests can substitute a fake.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) error
}

// SQLTxRunner is the database/sql TxRunner.
type SQLTxRunner struct {
	db TxBeginner
}

func NewTxRunner(db TxBeginner) *SQLTxRunner {
	return &SQLTxRunner{db: db}
}

func (r *SQLTxRunner) InTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) error {
	return WithTx(ctx, r.db, nil, fn)
}

// Ident quotes a (possibly qualified) identifier, e.g. Ident("tenant_acme", "users")
// yields "tenant_acme"."users".
func Ident(parts ...string) string {
	return pgx.Identifier(parts).Sanitize()
}

// uniqueViolation is the Postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// IsUniqueViolation reports whether err carries Postgres SQLSTATE 23505.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	var stateErr interface{ SQLState() string }
	if errors.As(err, &stateErr) {
		return stateErr.SQLState() == uniqueViolation
	}
	return false
}
