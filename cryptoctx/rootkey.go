package cryptoctx

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quantumauth-io/quantum-go-drm/tpmdevice"
)

var (
	ErrCorruptKeyFile  = errors.New("cryptoctx: corrupt or tampered root key file")
	ErrSealerRequired  = errors.New("cryptoctx: root key file is TPM sealed but no sealer configured")
	ErrMissingKeyLabel = errors.New("cryptoctx: label is required to seal the root key")
)

const rootKeySize = 32

// v1 envelope: either a TPM-sealed root key or, in simulation, the raw key.
type rootKeyEnvelopeV1 struct {
	V int `json:"v"`

	SealedKeyB64 string `json:"sealed_key_b64,omitempty"`
	KeyB64       string `json:"key_b64,omitempty"`

	Label string `json:"label"`
}

// RootKeyOptions says where the platform seal key lives.
type RootKeyOptions struct {
	// Path of the key envelope. Empty gives an ephemeral in-memory key.
	Path string
	// Sealer protects the key with the TPM. Nil stores it unprotected.
	Sealer tpmdevice.Sealer
	// Label scopes TPM sealing/unsealing.
	Label string
}

// LoadOrCreateRootKey returns the 32-byte root seal key, creating and
// persisting one on first use. Callers should wipe the result when done.
func LoadOrCreateRootKey(ctx context.Context, opts RootKeyOptions) ([]byte, error) {
	if opts.Path == "" {
		return randomKey()
	}
	if opts.Sealer != nil && opts.Label == "" {
		return nil, ErrMissingKeyLabel
	}

	b, err := os.ReadFile(opts.Path)
	switch {
	case err == nil:
		return openEnvelope(ctx, opts, b)
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("cryptoctx: read root key file: %w", err)
	}

	key, err := randomKey()
	if err != nil {
		return nil, err
	}

	env := rootKeyEnvelopeV1{V: 1, Label: opts.Label}
	if opts.Sealer != nil {
		sealed, err := opts.Sealer.Seal(ctx, opts.Label, key)
		if err != nil {
			zeroBytes(key)
			return nil, fmt.Errorf("cryptoctx: seal root key: %w", err)
		}
		env.SealedKeyB64 = base64.StdEncoding.EncodeToString(sealed)
	} else {
		env.KeyB64 = base64.StdEncoding.EncodeToString(key)
	}

	out, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		zeroBytes(key)
		return nil, fmt.Errorf("cryptoctx: marshal envelope: %w", err)
	}
	if err := AtomicWriteFile(opts.Path, out, 0o600); err != nil {
		zeroBytes(key)
		return nil, err
	}
	return key, nil
}

func openEnvelope(ctx context.Context, opts RootKeyOptions, b []byte) ([]byte, error) {
	var env rootKeyEnvelopeV1
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("cryptoctx: unmarshal envelope: %w", err)
	}
	if env.V != 1 {
		return nil, fmt.Errorf("cryptoctx: unsupported root key envelope version: %d", env.V)
	}
	if env.Label != opts.Label {
		return nil, ErrCorruptKeyFile
	}

	var key []byte
	switch {
	case env.SealedKeyB64 != "":
		if opts.Sealer == nil {
			return nil, ErrSealerRequired
		}
		sealed, err := base64.StdEncoding.DecodeString(env.SealedKeyB64)
		if err != nil {
			return nil, ErrCorruptKeyFile
		}
		key, err = opts.Sealer.Unseal(ctx, opts.Label, sealed)
		if err != nil {
			return nil, ErrCorruptKeyFile
		}
	case env.KeyB64 != "":
		var err error
		key, err = base64.StdEncoding.DecodeString(env.KeyB64)
		if err != nil {
			return nil, ErrCorruptKeyFile
		}
	default:
		return nil, ErrCorruptKeyFile
	}

	if len(key) != rootKeySize {
		zeroBytes(key)
		return nil, ErrCorruptKeyFile
	}
	return key, nil
}

func randomKey() ([]byte, error) {
	key := make([]byte, rootKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("cryptoctx: rand root key: %w", err)
	}
	return key, nil
}

// AtomicWriteFile writes data to a temp file next to path and renames it over path.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	_ = os.Remove(tmp)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("cryptoctx: mkdir: %w", err)
	}

	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("cryptoctx: write tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("cryptoctx: rename: %w", err)
	}
	return nil
}
