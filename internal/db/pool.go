// Package db provides the pgx connection surface shared by the store and its tests.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the statement surface common to a pgx pool and a pgx transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Pool is a Querier that can open transactions. Satisfied by *pgxpool.Pool
// and pgxmock.PgxPoolIface.
type Pool interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}
