package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumauth-io/quantum-go-drm/database"
	"github.com/quantumauth-io/quantum-go-drm/redis"
)

func exerciseStore(t *testing.T, s BlobStore) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Load(ctx, "policy-a")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Save(ctx, "policy-a", []byte{1, 2, 3}))
	got, err := s.Load(ctx, "policy-a")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	require.NoError(t, s.Save(ctx, "policy-a", []byte{4}))
	got, err = s.Load(ctx, "policy-a")
	require.NoError(t, err)
	assert.Equal(t, []byte{4}, got)

	require.NoError(t, s.Delete(ctx, "policy-a"))
	require.NoError(t, s.Delete(ctx, "policy-a"))
	_, err = s.Load(ctx, "policy-a")
	assert.ErrorIs(t, err, ErrNotFound)

	for _, bad := range []string{"", "..", "a/b", `a\b`} {
		assert.Error(t, s.Save(ctx, bad, []byte{1}), bad)
	}
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)
	exerciseStore(t, s)

	require.NoError(t, s.Save(context.Background(), "perm", []byte("x")))
	fi, err := os.Stat(filepath.Join(dir, "perm.blob"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
}

func TestFileStoreCreatesDir(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "nested", "blobs"))
	require.NoError(t, s.Save(context.Background(), "k", []byte("v")))
	got, err := s.Load(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

// Runs against a real Redis when QDRM_TEST_REDIS_HOST is set.
func TestRedisStore(t *testing.T) {
	host := os.Getenv("QDRM_TEST_REDIS_HOST")
	if host == "" {
		t.Skip("QDRM_TEST_REDIS_HOST not set")
	}
	cfg := redis.Config{Host: host, KeyPrefix: "qdrm-test"}
	rdb, err := redis.NewClient(context.Background(), cfg)
	require.NoError(t, err)
	defer rdb.Close()

	exerciseStore(t, NewRedisStore(rdb, cfg))
}

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	pool, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return NewSQLStore(database.NewSQLDatabaseFromDB(pool, database.DatabaseSettings{})), mock
}

func TestSQLStoreLoad(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(loadBlobSQL).WithArgs("p").
		WillReturnRows(sqlmock.NewRows([]string{"blob"}).AddRow([]byte{9, 9}))
	got, err := s.Load(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9}, got)

	mock.ExpectQuery(loadBlobSQL).WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"blob"}))
	_, err = s.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreSaveRetriesTransientErrors(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(saveBlobSQL).WithArgs("p", []byte{1}).
		WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectExec(saveBlobSQL).WithArgs("p", []byte{1}).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Save(context.Background(), "p", []byte{1}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreDelete(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(deleteBlobSQL).WithArgs("p").
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, s.Delete(context.Background(), "p"))

	assert.Error(t, s.Delete(context.Background(), "../p"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreGivesUp(t *testing.T) {
	s, mock := newMockStore(t)
	for i := 0; i < 5; i++ {
		mock.ExpectExec(deleteBlobSQL).WithArgs("p").WillReturnError(errors.New("down"))
	}
	assert.Error(t, s.Delete(context.Background(), "p"))
	require.NoError(t, mock.ExpectationsWereMet())
}
