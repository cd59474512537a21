package database

import (
	"context"

	"github.com/cockroachdb/cockroach-go/v2/crdb"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	"go.elastic.co/apm/module/apmpgx/v2"

	"github.com/quantumauth-io/quantum-go-drm/retry"
)

type CockroachPGXDatabase struct {
	dbPool   *pgxpool.Pool
	settings DatabaseSettings
}

type pgxTransaction struct {
	tx pgx.Tx
}

type pgxDatabaseExecResult struct {
	cmdTag pgconn.CommandTag
}

type pgxDatabaseRows struct {
	rows pgx.Rows
}

func NewCockroachPGXDatabase(ctx context.Context, dbSettings DatabaseSettings) (Database, error) {
	connStr, err := getConnectionString(dbSettings)
	if err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(databaseDriverType + "://" + connStr)
	if err != nil {
		return nil, errors.Wrap(err, "error parsing the database config")
	}
	configurePGXPool(poolCfg, dbSettings)
	apmpgx.Instrument(poolCfg.ConnConfig)

	db, err := retry.Do(ctx, connectRetryConfig(),
		func(ctx context.Context) (*CockroachPGXDatabase, error) {
			dbPool, err2 := pgxpool.ConnectConfig(ctx, poolCfg)
			if err2 != nil {
				return nil, errors.Wrap(err2, "error opening the database")
			}
			return &CockroachPGXDatabase{dbPool: dbPool, settings: dbSettings}, nil
		},
		nil,
		"Database Connection",
	)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to instantiate db after retries")
	}
	return db, nil
}

func (db *CockroachPGXDatabase) Migrate(ctx context.Context) error {
	return migrateWithIOFS(ctx, db.settings)
}

func (db *CockroachPGXDatabase) GetSettings() DatabaseSettings {
	return db.settings
}

func (db *CockroachPGXDatabase) GetTransaction(ctx context.Context) (Transaction, error) {
	opts := pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	}

	tx, err := retry.Do(ctx, connectRetryConfig(),
		func(ctx context.Context) (*pgxTransaction, error) {
			txn, err2 := db.dbPool.BeginTx(ctx, opts)
			if err2 != nil {
				return nil, errors.Wrap(err2, "Failed to begin db transaction")
			}
			return &pgxTransaction{txn}, nil
		},
		nil,
		"Get DB Transaction",
	)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to begin transaction after retries")
	}
	return tx, nil
}

func (db *CockroachPGXDatabase) Exec(ctx context.Context, sql string, arguments ...interface{}) (ExecResult, error) {
	res, err := retry.Do(ctx, connectRetryConfig(),
		func(ctx context.Context) (*pgxDatabaseExecResult, error) {
			var tag pgconn.CommandTag
			err := crdb.Execute(func() error {
				var err error
				tag, err = db.dbPool.Exec(ctx, sql, arguments...)
				return err
			})
			if err != nil {
				return nil, err
			}
			return &pgxDatabaseExecResult{tag}, nil
		},
		isRetryable,
		"Database Exec",
	)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to execute %s after retries", sql)
	}
	return res, nil
}

// QueryRow defers errors to Scan, as pgx does. The pool releases the
// connection once the row is scanned.
func (db *CockroachPGXDatabase) QueryRow(ctx context.Context, sql string, arguments ...interface{}) (Row, error) {
	return db.dbPool.QueryRow(ctx, sql, arguments...), nil
}

func (db *CockroachPGXDatabase) Query(ctx context.Context, sql string, arguments ...interface{}) (Rows, error) {
	rows, err := retry.Do(ctx, connectRetryConfig(),
		func(ctx context.Context) (*pgxDatabaseRows, error) {
			var rows pgx.Rows
			err := crdb.Execute(func() error {
				var err error
				rows, err = db.dbPool.Query(ctx, sql, arguments...)
				return err
			})
			if err != nil {
				return nil, errors.Wrapf(err, "Failed to Execute Query %s", sql)
			}
			return &pgxDatabaseRows{rows}, nil
		},
		isRetryable,
		"Database Query",
	)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to queryRows %s after retries", sql)
	}
	return rows, nil
}

func (pgxRows *pgxDatabaseRows) Close() error {
	pgxRows.rows.Close()
	return nil
}

func (pgxRows *pgxDatabaseRows) Err() error {
	return pgxRows.rows.Err()
}

func (pgxRows *pgxDatabaseRows) Next() bool {
	return pgxRows.rows.Next()
}

func (pgxRows *pgxDatabaseRows) Scan(dest ...interface{}) error {
	return pgxRows.rows.Scan(dest...)
}

func (pgxResult *pgxDatabaseExecResult) RowsAffected() (int64, error) {
	return pgxResult.cmdTag.RowsAffected(), nil
}

// Exec inside a transaction is not retried: a failed statement aborts the
// transaction and the caller has to start over.
func (pgxTransaction *pgxTransaction) Exec(ctx context.Context, sql string, arguments ...interface{}) (ExecResult, error) {
	tag, err := pgxTransaction.tx.Exec(ctx, sql, arguments...)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to execute db transaction %s", sql)
	}
	return &pgxDatabaseExecResult{tag}, nil
}

func (pgxTransaction *pgxTransaction) Commit(ctx context.Context) error {
	if err := pgxTransaction.tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "Failed to commit db transaction")
	}
	return nil
}

func (pgxTransaction *pgxTransaction) Rollback(ctx context.Context) error {
	err := pgxTransaction.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return errors.Wrap(err, "Failed to rollback db transaction")
	}
	return nil
}

func (db *CockroachPGXDatabase) Close() error {
	db.dbPool.Close()
	return nil
}

func (db *CockroachPGXDatabase) Ping(ctx context.Context) error {
	return pingDB(ctx, db.dbPool.Ping)
}
