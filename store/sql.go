package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/quantumauth-io/quantum-go-drm/database"
)

const (
	loadBlobSQL   = `SELECT blob FROM sealed_blobs WHERE key = $1`
	saveBlobSQL   = `INSERT INTO sealed_blobs (key, blob, updated_at) VALUES ($1, $2, now()) ON CONFLICT (key) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at`
	deleteBlobSQL = `DELETE FROM sealed_blobs WHERE key = $1`
)

// SQLStore keeps blobs in the sealed_blobs table. Call db.Migrate first.
type SQLStore struct {
	db database.Database
}

func NewSQLStore(db database.Database) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Load(ctx context.Context, key string) ([]byte, error) {
	if !validKey(key) {
		return nil, errors.Wrapf(errInvalidKey, "%q", key)
	}
	return withRetry(ctx, "sql store load", func(ctx context.Context) ([]byte, error) {
		row, err := s.db.QueryRow(ctx, loadBlobSQL, key)
		if err != nil {
			return nil, errors.Wrap(err, "query blob")
		}
		var blob []byte
		if err := row.Scan(&blob); err != nil {
			if database.IsNoRows(err) {
				return nil, ErrNotFound
			}
			return nil, errors.Wrap(err, "scan blob")
		}
		return blob, nil
	})
}

func (s *SQLStore) Save(ctx context.Context, key string, blob []byte) error {
	if !validKey(key) {
		return errors.Wrapf(errInvalidKey, "%q", key)
	}
	_, err := withRetry(ctx, "sql store save", func(ctx context.Context) (struct{}, error) {
		_, err := s.db.Exec(ctx, saveBlobSQL, key, blob)
		return struct{}{}, errors.Wrap(err, "upsert blob")
	})
	return err
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	if !validKey(key) {
		return errors.Wrapf(errInvalidKey, "%q", key)
	}
	_, err := withRetry(ctx, "sql store delete", func(ctx context.Context) (struct{}, error) {
		_, err := s.db.Exec(ctx, deleteBlobSQL, key)
		return struct{}{}, errors.Wrap(err, "delete blob")
	})
	return err
}
