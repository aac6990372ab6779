// Package db provides the PostgreSQL-backed brew log store. Store accepts a
// DBTX interface that is satisfied by both *pgxpool.Pool and pgx.Tx, so the
// seeding path can run inside a transaction.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"brewcast/internal/types"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads observations, beans and users from the users, beans and
// recipe tables.
type Store struct {
	db DBTX
}

// NewStore creates a Store backed by the given pool or transaction.
func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

func dbError(op string, err error) error {
	return types.NewAppError(types.ErrCodeInternalDB, fmt.Sprintf("failed to %s", op), err)
}
