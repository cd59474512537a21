package tpmdevice

import "context"

// Sealer can protect small secrets (like the 32-byte root seal key) using the TPM.
// The returned blob is portable only to the SAME TPM (and same hierarchy/policy).
type Sealer interface {
	Seal(ctx context.Context, label string, secret []byte) ([]byte, error)
	Unseal(ctx context.Context, label string, blob []byte) ([]byte, error)
}
