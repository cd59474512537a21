package store

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/quantumauth-io/quantum-go-drm/cryptoctx"
)

const blobSuffix = ".blob"

// FileStore keeps one file per key under Dir.
type FileStore struct {
	Dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

func (s *FileStore) path(key string) (string, error) {
	if !validKey(key) {
		return "", errors.Wrapf(errInvalidKey, "%q", key)
	}
	return filepath.Join(s.Dir, key+blobSuffix), nil
}

func (s *FileStore) Load(ctx context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	return withRetry(ctx, "file store load", func(context.Context) ([]byte, error) {
		b, err := os.ReadFile(p)
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", p)
		}
		return b, nil
	})
}

func (s *FileStore) Save(ctx context.Context, key string, blob []byte) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	_, err = withRetry(ctx, "file store save", func(context.Context) (struct{}, error) {
		return struct{}{}, cryptoctx.AtomicWriteFile(p, blob, 0o600)
	})
	return err
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	_, err = withRetry(ctx, "file store delete", func(context.Context) (struct{}, error) {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return struct{}{}, errors.Wrapf(err, "remove %s", p)
		}
		return struct{}{}, nil
	})
	return err
}
