// Package database wraps CockroachDB/Postgres behind a small interface so the
// sealed blob store can run on either the pgx pool or database/sql.
package database

import (
	"context"
)

type Row interface {
	Scan(dest ...interface{}) error
}

type Rows interface {
	Close() error
	Err() error
	Next() bool
	Scan(dest ...interface{}) error
}

type ExecResult interface {
	RowsAffected() (int64, error)
}

type Transaction interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (ExecResult, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type Database interface {
	QueryRow(ctx context.Context, sql string, arguments ...interface{}) (Row, error)
	Query(ctx context.Context, sql string, arguments ...interface{}) (Rows, error)
	Exec(ctx context.Context, sql string, arguments ...interface{}) (ExecResult, error)
	GetTransaction(ctx context.Context) (Transaction, error)
	// Migrate applies the embedded sealed_blobs schema.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
