package cryptoctx

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIdentity(artifact string) Identity {
	return Identity{
		UniqueID:  sha256.Sum256([]byte(artifact)),
		SignerID:  sha256.Sum256([]byte("signer")),
		ProductID: 1,
	}
}

func testRoot() []byte {
	k := sha256.Sum256([]byte("root"))
	return k[:]
}

func TestSealUnsealRoundTrip(t *testing.T) {
	rt, err := New(testRoot(), testIdentity("a"), 1)
	require.NoError(t, err)
	defer rt.Close()

	payload := []byte("counter state")
	for _, policy := range []KeyPolicy{KeyPolicyEnclave, KeyPolicySigner} {
		blob, err := rt.Seal(policy, payload, 620)
		require.NoError(t, err)
		assert.Len(t, blob, 620)

		got, err := rt.Unseal(blob)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	}
}

func TestSealIsRandomized(t *testing.T) {
	rt, err := New(testRoot(), testIdentity("a"), 1)
	require.NoError(t, err)

	a, err := rt.Seal(KeyPolicyEnclave, []byte("x"), 128)
	require.NoError(t, err)
	b, err := rt.Seal(KeyPolicyEnclave, []byte("x"), 128)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSealPayloadTooLarge(t *testing.T) {
	rt, err := New(testRoot(), testIdentity("a"), 1)
	require.NoError(t, err)

	_, err = rt.Seal(KeyPolicyEnclave, make([]byte, 100), 100)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	_, err = rt.Seal(KeyPolicyEnclave, nil, Overhead()-1)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	blob, err := rt.Seal(KeyPolicyEnclave, make([]byte, 16), Overhead()+16)
	require.NoError(t, err)
	assert.Len(t, blob, Overhead()+16)
}

func TestUnsealRejectsOtherIdentity(t *testing.T) {
	a, err := New(testRoot(), testIdentity("a"), 1)
	require.NoError(t, err)
	b, err := New(testRoot(), testIdentity("b"), 1)
	require.NoError(t, err)

	blob, err := a.Seal(KeyPolicyEnclave, []byte("secret"), 256)
	require.NoError(t, err)
	_, err = b.Unseal(blob)
	assert.ErrorIs(t, err, ErrCorruptOrTampered)

	// same signer and product: signer policy survives a rebuild
	blob, err = a.Seal(KeyPolicySigner, []byte("secret"), 256)
	require.NoError(t, err)
	got, err := b.Unseal(blob)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), got)
}

func TestUnsealReleaseVersion(t *testing.T) {
	v1, err := New(testRoot(), testIdentity("a"), 1)
	require.NoError(t, err)
	v2, err := New(testRoot(), testIdentity("a"), 2)
	require.NoError(t, err)

	old, err := v1.Seal(KeyPolicySigner, []byte("p"), 128)
	require.NoError(t, err)
	_, err = v2.Unseal(old)
	assert.ErrorIs(t, err, ErrStaleReleaseVersion)

	newer, err := v2.Seal(KeyPolicySigner, []byte("p"), 128)
	require.NoError(t, err)
	_, err = v1.Unseal(newer)
	assert.ErrorIs(t, err, ErrFutureReleaseVersion)
}

func TestUnsealTampered(t *testing.T) {
	rt, err := New(testRoot(), testIdentity("a"), 1)
	require.NoError(t, err)

	blob, err := rt.Seal(KeyPolicyEnclave, []byte("payload"), 200)
	require.NoError(t, err)

	for _, off := range []int{offKeyID, offNonce, offPlainLen + 3, headerSize + 1, len(blob) - 1} {
		bad := append([]byte(nil), blob...)
		bad[off] ^= 0x01
		_, err := rt.Unseal(bad)
		assert.Error(t, err, "offset %d", off)
	}
}

func TestUnsealMalformed(t *testing.T) {
	rt, err := New(testRoot(), testIdentity("a"), 1)
	require.NoError(t, err)

	_, err = rt.Unseal(make([]byte, 10))
	assert.ErrorIs(t, err, ErrMalformedBlob)

	_, err = rt.Unseal(make([]byte, 620))
	assert.ErrorIs(t, err, ErrMalformedBlob)

	blob, err := rt.Seal(KeyPolicyEnclave, nil, 128)
	require.NoError(t, err)
	blob[offPolicy] = 9
	_, err = rt.Unseal(blob)
	assert.ErrorIs(t, err, ErrMalformedBlob)
}

func TestNewRejectsShortKey(t *testing.T) {
	_, err := New(make([]byte, 16), Identity{}, 0)
	assert.ErrorIs(t, err, ErrBadRootKey)
}

type xorSealer struct{}

func (xorSealer) Seal(_ context.Context, _ string, plain []byte) ([]byte, error) {
	out := make([]byte, len(plain))
	for i, b := range plain {
		out[i] = b ^ 0x5a
	}
	return out, nil
}

func (s xorSealer) Unseal(ctx context.Context, label string, sealed []byte) ([]byte, error) {
	return s.Seal(ctx, label, sealed)
}

func TestLoadOrCreateRootKey(t *testing.T) {
	ctx := context.Background()

	t.Run("ephemeral", func(t *testing.T) {
		a, err := LoadOrCreateRootKey(ctx, RootKeyOptions{})
		require.NoError(t, err)
		b, err := LoadOrCreateRootKey(ctx, RootKeyOptions{})
		require.NoError(t, err)
		assert.Len(t, a, 32)
		assert.NotEqual(t, a, b)
	})

	t.Run("persists plain key", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "keys", "root.json")
		a, err := LoadOrCreateRootKey(ctx, RootKeyOptions{Path: path})
		require.NoError(t, err)
		b, err := LoadOrCreateRootKey(ctx, RootKeyOptions{Path: path})
		require.NoError(t, err)
		assert.Equal(t, a, b)

		st, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())
	})

	t.Run("sealed key", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "root.json")
		opts := RootKeyOptions{Path: path, Sealer: xorSealer{}, Label: "drm"}
		a, err := LoadOrCreateRootKey(ctx, opts)
		require.NoError(t, err)
		b, err := LoadOrCreateRootKey(ctx, opts)
		require.NoError(t, err)
		assert.Equal(t, a, b)

		_, err = LoadOrCreateRootKey(ctx, RootKeyOptions{Path: path, Label: "drm"})
		assert.ErrorIs(t, err, ErrSealerRequired)

		_, err = LoadOrCreateRootKey(ctx, RootKeyOptions{Path: path, Sealer: xorSealer{}, Label: "other"})
		assert.ErrorIs(t, err, ErrCorruptKeyFile)
	})

	t.Run("label required with sealer", func(t *testing.T) {
		_, err := LoadOrCreateRootKey(ctx, RootKeyOptions{Path: filepath.Join(t.TempDir(), "k"), Sealer: xorSealer{}})
		assert.ErrorIs(t, err, ErrMissingKeyLabel)
	})

	t.Run("corrupt file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "root.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"v":1,"key_b64":"AAAA","label":""}`), 0o600))
		_, err := LoadOrCreateRootKey(ctx, RootKeyOptions{Path: path})
		assert.ErrorIs(t, err, ErrCorruptKeyFile)
	})
}
