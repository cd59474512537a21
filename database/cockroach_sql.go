package database

import (
	"context"
	"database/sql"

	_ "github.com/golang-migrate/migrate/v4/database/cockroachdb"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/pkg/errors"
	"go.elastic.co/apm/module/apmsql/v2"
	_ "go.elastic.co/apm/module/apmsql/v2/pq"

	"github.com/quantumauth-io/quantum-go-drm/retry"
)

type CockroachSQLDatabase struct {
	dbPool   *sql.DB
	settings DatabaseSettings
}

type sqlDatabaseRows struct {
	rows *sql.Rows
}

type sqlTransaction struct {
	tx *sql.Tx
}

func NewCockroachSQLDatabase(ctx context.Context, dbSettings DatabaseSettings) (Database, error) {
	connStr, err := getConnectionString(dbSettings)
	if err != nil {
		return nil, err
	}
	db, err := retry.Do(ctx, connectRetryConfig(),
		func(ctx context.Context) (*CockroachSQLDatabase, error) {
			pool, err3 := apmsql.Open("postgres", databaseDriverType+"://"+connStr)
			if err3 != nil {
				return nil, errors.Wrap(err3, "error opening the database")
			}
			if err3 = pool.PingContext(ctx); err3 != nil {
				_ = pool.Close()
				return nil, errors.Wrap(err3, "error reaching the database")
			}
			configureSQLPool(pool, dbSettings)
			return &CockroachSQLDatabase{dbPool: pool, settings: dbSettings}, nil
		},
		nil,
		"Database Connection",
	)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to instantiate db after retries")
	}
	return db, nil
}

// NewSQLDatabaseFromDB wraps an already opened pool. Migrate still needs
// dbSettings to reach the server.
func NewSQLDatabaseFromDB(db *sql.DB, dbSettings DatabaseSettings) *CockroachSQLDatabase {
	return &CockroachSQLDatabase{dbPool: db, settings: dbSettings}
}

func (db *CockroachSQLDatabase) Migrate(ctx context.Context) error {
	return migrateWithIOFS(ctx, db.settings)
}

func (db *CockroachSQLDatabase) QueryRow(ctx context.Context, sql string, arguments ...interface{}) (Row, error) {
	return db.dbPool.QueryRowContext(ctx, sql, arguments...), nil
}

func (db *CockroachSQLDatabase) Query(ctx context.Context, sql string, arguments ...interface{}) (Rows, error) {
	result, err := db.dbPool.QueryContext(ctx, sql, arguments...)
	if err != nil {
		return nil, err
	}
	return &sqlDatabaseRows{result}, nil
}

func (db *CockroachSQLDatabase) Close() error {
	return db.dbPool.Close()
}

func (db *CockroachSQLDatabase) Ping(ctx context.Context) error {
	return pingDB(ctx, db.dbPool.PingContext)
}

func (dbRows *sqlDatabaseRows) Close() error {
	return dbRows.rows.Close()
}

func (dbRows *sqlDatabaseRows) Err() error {
	return dbRows.rows.Err()
}

func (dbRows *sqlDatabaseRows) Next() bool {
	return dbRows.rows.Next()
}

func (dbRows *sqlDatabaseRows) Scan(dest ...interface{}) error {
	return dbRows.rows.Scan(dest...)
}

func (db *CockroachSQLDatabase) Exec(ctx context.Context, sql string, arguments ...interface{}) (ExecResult, error) {
	return db.dbPool.ExecContext(ctx, sql, arguments...)
}

func (db *CockroachSQLDatabase) GetTransaction(ctx context.Context) (Transaction, error) {
	opts := &sql.TxOptions{
		ReadOnly:  false,
		Isolation: sql.LevelDefault,
	}

	txResult, err := db.dbPool.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &sqlTransaction{txResult}, nil
}

func (sqlTx *sqlTransaction) Exec(ctx context.Context, sql string, arguments ...interface{}) (ExecResult, error) {
	return sqlTx.tx.ExecContext(ctx, sql, arguments...)
}

func (sqlTx *sqlTransaction) Commit(context.Context) error {
	return sqlTx.tx.Commit()
}

func (sqlTx *sqlTransaction) Rollback(context.Context) error {
	return sqlTx.tx.Rollback()
}
