// Package store persists sealed policy blobs between runs. Blobs are opaque
// here: integrity and freshness are enforced by the enclave, not the store.
package store

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/quantumauth-io/quantum-go-drm/retry"
)

var ErrNotFound = errors.New("store: blob not found")

type BlobStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, blob []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

func validKey(key string) bool {
	if key == "" || key == "." || key == ".." {
		return false
	}
	return !strings.ContainsAny(key, `/\`)
}

var errInvalidKey = errors.New("store: invalid key")

func shouldRetry(err error) bool {
	return !errors.Is(err, ErrNotFound) && !errors.Is(err, errInvalidKey) && !errors.Is(err, context.Canceled)
}

func withRetry[T any](ctx context.Context, desc string, fn func(ctx context.Context) (T, error)) (T, error) {
	return retry.Do(ctx, retry.StorageConfig(), fn, shouldRetry, desc)
}
