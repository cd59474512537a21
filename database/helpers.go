package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/quantumauth-io/quantum-go-drm/retry"
)

const (
	databaseDriverType = "postgresql"

	defaultMaxRetry = 6

	defaultMinDBPoolSize = 1
	defaultMaxDBPoolSize = 8

	defaultConnectionMaxLifetime = 2 * time.Minute
	defaultConnectionMaxIdleTime = 30 * time.Second

	defaultDBPoolSize   = 5
	defaultIdlePoolSize = defaultDBPoolSize

	defaultPingTimeout = 60 * time.Second

	uniqueConstraintViolationCode = "23505"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type DatabaseSettings struct {
	Host                  string
	Port                  string
	User                  string
	Password              string
	Database              string
	SSLModeDisable        bool
	CertPath              string
	ConnectionMaxLifetime time.Duration
	ConnectionMaxIdleTime time.Duration
	MaxIdleConnections    uint
	MaxPoolSize           uint // pgx
	MinPoolSize           uint // pgx
	PoolSize              uint // sql
}

func connectRetryConfig() *retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxDelayBeforeRetrying = 1 * time.Second
	cfg.MaxNumRetries = defaultMaxRetry
	return cfg
}

func migrateWithIOFS(ctx context.Context, cfg DatabaseSettings) error {
	connectionString, err := getConnectionString(cfg)
	if err != nil {
		return errors.Wrap(err, "Failed to create connection string")
	}

	_, err = retry.Do(ctx, connectRetryConfig(),
		func(context.Context) (struct{}, error) {
			src, err2 := iofs.New(migrationFiles, "migrations")
			if err2 != nil {
				return struct{}{}, errors.Wrap(err2, "Failed to read embedded migrations")
			}
			m, err2 := migrate.NewWithSourceInstance("iofs", src, "postgres://"+connectionString)
			if err2 != nil {
				return struct{}{}, errors.Wrap(err2, "Failed to initialize migrations")
			}
			defer m.Close()
			if err3 := m.Up(); err3 != nil && !errors.Is(err3, migrate.ErrNoChange) {
				return struct{}{}, errors.Wrap(err3, "error migrating database schema")
			}
			return struct{}{}, nil
		},
		nil,
		"Database Migration",
	)

	return err
}

func getConnectionString(dbSettings DatabaseSettings) (string, error) {
	connString := fmt.Sprintf("%s:%s@%s:%s/%s",
		dbSettings.User,
		dbSettings.Password,
		dbSettings.Host,
		dbSettings.Port,
		dbSettings.Database,
	)

	if dbSettings.SSLModeDisable {
		return connString + "?sslmode=disable", nil
	}

	// No CA bundle: encrypt but don't verify.
	if dbSettings.CertPath == "" {
		return connString + "?sslmode=require", nil
	}

	if _, err := os.Stat(dbSettings.CertPath); errors.Is(err, os.ErrNotExist) {
		return "", errors.New("ssl mode was enabled but cert file not found")
	} else if err != nil {
		return "", err
	}

	return connString + fmt.Sprintf("?sslmode=verify-ca&sslrootcert=%s", dbSettings.CertPath), nil
}

func pingDB(ctx context.Context, pingFn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	cfg := connectRetryConfig()
	cfg.MaxNumRetries = retry.InfiniteRetries
	_, err := retry.Do(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, pingFn(ctx)
	}, nil, "Database Ping")
	if err != nil {
		return errors.Wrap(err, "failed to ping database")
	}
	return nil
}

type poolSettings struct {
	minPool, maxPool, pool, maxIdle uint
	maxLifetime, maxIdleTime        time.Duration
}

func resolvePoolSettings(dbSettings DatabaseSettings) poolSettings {
	ps := poolSettings{
		minPool:     dbSettings.MinPoolSize,
		maxPool:     dbSettings.MaxPoolSize,
		pool:        dbSettings.PoolSize,
		maxIdle:     dbSettings.MaxIdleConnections,
		maxLifetime: dbSettings.ConnectionMaxLifetime,
		maxIdleTime: dbSettings.ConnectionMaxIdleTime,
	}
	if ps.minPool == 0 {
		ps.minPool = defaultMinDBPoolSize
	}
	if ps.maxPool == 0 {
		ps.maxPool = defaultMaxDBPoolSize
	}
	if ps.pool == 0 {
		ps.pool = defaultDBPoolSize
	}
	if ps.maxIdle == 0 {
		ps.maxIdle = defaultIdlePoolSize
	}
	if ps.maxLifetime == 0 {
		ps.maxLifetime = defaultConnectionMaxLifetime
	}
	if ps.maxIdleTime == 0 {
		ps.maxIdleTime = defaultConnectionMaxIdleTime
	}
	return ps
}

func configurePGXPool(cfg *pgxpool.Config, dbSettings DatabaseSettings) {
	ps := resolvePoolSettings(dbSettings)
	cfg.MinConns = int32(ps.minPool)
	cfg.MaxConns = int32(ps.maxPool)
	cfg.MaxConnLifetime = ps.maxLifetime
	cfg.MaxConnIdleTime = ps.maxIdleTime
	cfg.HealthCheckPeriod = 15 * time.Second
}

func configureSQLPool(db *sql.DB, dbSettings DatabaseSettings) {
	ps := resolvePoolSettings(dbSettings)
	db.SetMaxOpenConns(int(ps.pool))
	db.SetMaxIdleConns(int(ps.maxIdle))
	db.SetConnMaxLifetime(ps.maxLifetime)
	db.SetConnMaxIdleTime(ps.maxIdleTime)
}

// IsNoRows reports whether err means the query matched nothing, for either driver.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}

// used by both SQL + PGX drivers
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if IsNoRows(err) {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueConstraintViolationCode {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueConstraintViolationCode {
		return false
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}

	// optimistic for Cockroach / transient DB errors
	return true
}
