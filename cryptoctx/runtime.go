package cryptoctx

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrCorruptOrTampered    = errors.New("cryptoctx: corrupt or tampered sealed blob")
	ErrMalformedBlob        = errors.New("cryptoctx: malformed sealed blob")
	ErrStaleReleaseVersion  = errors.New("cryptoctx: blob sealed under an older release version")
	ErrFutureReleaseVersion = errors.New("cryptoctx: blob sealed under a newer release version")
	ErrPayloadTooLarge      = errors.New("cryptoctx: payload does not fit the sealed blob")
	ErrBadRootKey           = errors.New("cryptoctx: root seal key must be 32 bytes")
)

// KeyPolicy selects which identity a blob is bound to.
type KeyPolicy uint16

const (
	// KeyPolicyEnclave binds to the exact enclave measurement.
	KeyPolicyEnclave KeyPolicy = iota
	// KeyPolicySigner binds to signer + product, so later builds can unseal.
	KeyPolicySigner
)

// Identity is the enclave identity blobs are sealed to.
type Identity struct {
	UniqueID  [32]byte // measurement of the enclave artifact
	SignerID  [32]byte // measurement of the signer key
	ProductID uint16
}

// sealed blob layout
const (
	magic        = "QDS1"
	offPolicy    = 4
	offRelease   = 6
	offKeyID     = 8
	offNonce     = 40
	offPlainLen  = 64
	headerSize   = 68
	keyIDSize    = 32
	sealOverhead = headerSize + chacha20poly1305.Overhead
)

// Runtime seals and unseals fixed-size blobs for one enclave identity at one
// release version.
type Runtime struct {
	identity       Identity
	releaseVersion uint16
	root           []byte
	rand           io.Reader
}

// New returns a Runtime. rootKey is the platform seal key (see LoadOrCreateRootKey)
// and is copied.
func New(rootKey []byte, identity Identity, releaseVersion uint16) (*Runtime, error) {
	if len(rootKey) != 32 {
		return nil, ErrBadRootKey
	}
	return &Runtime{
		identity:       identity,
		releaseVersion: releaseVersion,
		root:           append([]byte(nil), rootKey...),
		rand:           rand.Reader,
	}, nil
}

func (r *Runtime) Identity() Identity {
	return r.identity
}

func (r *Runtime) ReleaseVersion() uint16 {
	return r.releaseVersion
}

// Overhead is the number of blob bytes not available to the payload.
func Overhead() int {
	return sealOverhead
}

// Seal encrypts payload into a blob of exactly size bytes.
func (r *Runtime) Seal(policy KeyPolicy, payload []byte, size int) ([]byte, error) {
	capacity := size - sealOverhead
	if capacity < 0 || len(payload) > capacity {
		return nil, ErrPayloadTooLarge
	}

	blob := make([]byte, size)
	copy(blob, magic)
	binary.LittleEndian.PutUint16(blob[offPolicy:], uint16(policy))
	binary.LittleEndian.PutUint16(blob[offRelease:], r.releaseVersion)
	if _, err := io.ReadFull(r.rand, blob[offKeyID:offKeyID+keyIDSize]); err != nil {
		return nil, fmt.Errorf("cryptoctx: rand key id: %w", err)
	}
	if _, err := io.ReadFull(r.rand, blob[offNonce:offNonce+chacha20poly1305.NonceSizeX]); err != nil {
		return nil, fmt.Errorf("cryptoctx: rand nonce: %w", err)
	}
	binary.LittleEndian.PutUint32(blob[offPlainLen:], uint32(len(payload)))

	aead, err := r.aead(policy, blob[offKeyID:offKeyID+keyIDSize], r.releaseVersion)
	if err != nil {
		return nil, err
	}

	padded := make([]byte, capacity)
	copy(padded, payload)
	defer zeroBytes(padded)

	header := blob[:headerSize]
	aead.Seal(blob[headerSize:headerSize], blob[offNonce:offNonce+chacha20poly1305.NonceSizeX], padded, header)
	return blob, nil
}

// Unseal authenticates blob and returns its payload.
func (r *Runtime) Unseal(blob []byte) ([]byte, error) {
	if len(blob) < sealOverhead || string(blob[:len(magic)]) != magic {
		return nil, ErrMalformedBlob
	}

	policy := KeyPolicy(binary.LittleEndian.Uint16(blob[offPolicy:]))
	if policy != KeyPolicyEnclave && policy != KeyPolicySigner {
		return nil, ErrMalformedBlob
	}

	release := binary.LittleEndian.Uint16(blob[offRelease:])
	switch {
	case release < r.releaseVersion:
		return nil, ErrStaleReleaseVersion
	case release > r.releaseVersion:
		return nil, ErrFutureReleaseVersion
	}

	plainLen := int(binary.LittleEndian.Uint32(blob[offPlainLen:]))
	if plainLen > len(blob)-sealOverhead {
		return nil, ErrMalformedBlob
	}

	aead, err := r.aead(policy, blob[offKeyID:offKeyID+keyIDSize], release)
	if err != nil {
		return nil, err
	}

	plain, err := aead.Open(nil, blob[offNonce:offNonce+chacha20poly1305.NonceSizeX], blob[headerSize:], blob[:headerSize])
	if err != nil {
		return nil, ErrCorruptOrTampered
	}

	out := append([]byte(nil), plain[:plainLen]...)
	zeroBytes(plain)
	return out, nil
}

func (r *Runtime) aead(policy KeyPolicy, keyID []byte, release uint16) (cipher.AEAD, error) {
	info := make([]byte, 0, 64)
	info = append(info, "qdrm-seal-v1"...)
	info = binary.LittleEndian.AppendUint16(info, uint16(policy))
	switch policy {
	case KeyPolicyEnclave:
		info = append(info, r.identity.UniqueID[:]...)
	case KeyPolicySigner:
		info = append(info, r.identity.SignerID[:]...)
		info = binary.LittleEndian.AppendUint16(info, r.identity.ProductID)
	}
	info = binary.LittleEndian.AppendUint16(info, release)

	key := make([]byte, chacha20poly1305.KeySize)
	defer zeroBytes(key)
	if _, err := io.ReadFull(hkdf.New(sha256.New, r.root, keyID, info), key); err != nil {
		return nil, fmt.Errorf("cryptoctx: derive seal key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoctx: aead: %w", err)
	}
	return aead, nil
}

// Close wipes the root key copy held by r.
func (r *Runtime) Close() {
	if r == nil {
		return
	}
	zeroBytes(r.root)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
