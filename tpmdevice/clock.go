package tpmdevice

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"io"

	tpm2 "github.com/google/go-tpm/legacy/tpm2"

	"github.com/quantumauth-io/quantum-go-drm/tee"
)

// Clock is the TPM clock as trusted time. The clock only resets together
// with the storage primary seed, so the source nonce is a hash of the
// storage primary public key.
type Clock struct {
	dev *Device
}

var _ tee.TrustedClock = (*Clock)(nil)

func (c *Clock) Now(ctx context.Context) (uint64, tee.TimeSourceNonce, error) {
	var (
		secs  uint64
		nonce tee.TimeSourceNonce
	)
	err := c.dev.with(ctx, func(rw io.ReadWriter) error {
		_, clockMS, err := tpm2.ReadClock(rw)
		if err != nil {
			return mapTPMError(err)
		}
		n, err := sourceNonce(rw, c.dev.cfg.OwnerAuth)
		if err != nil {
			return err
		}
		secs, nonce = clockMS/1000, n
		return nil
	})
	return secs, nonce, err
}

func sourceNonce(rw io.ReadWriter, ownerAuth string) (tee.TimeSourceNonce, error) {
	var nonce tee.TimeSourceNonce

	h, pub, err := tpm2.CreatePrimary(rw, tpm2.HandleOwner, tpm2.PCRSelection{}, "", ownerAuth, storageTemplate())
	if err != nil {
		return nonce, fmt.Errorf("tpmdevice: CreatePrimary(storage): %w", mapTPMError(err))
	}
	defer tpm2.FlushContext(rw, h)

	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nonce, fmt.Errorf("tpmdevice: marshal storage key: %w", err)
	}
	nonce = sha256.Sum256(append([]byte("qdrm-time-source-v1"), der...))
	return nonce, nil
}
