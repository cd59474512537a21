package drm

import (
	"context"

	"github.com/quantumauth-io/quantum-go-drm/tee"
)

// ReplayProtected is a usage policy guarded by a hardware monotonic counter.
//
// Lifecycle: Init, then any number of PerformFunction / UpdateSecret, then
// DeleteSecret. After a delete the blob is a tombstone that the enclave
// rejects forever.
type ReplayProtected struct {
	s *session
}

// NewReplayProtected creates the enclave and checks for a monotonic counter.
// It never fails: if the enclave cannot be created every call returns
// status.InvalidEnclaveID.
func NewReplayProtected(ctx context.Context, loader tee.Loader, caps tee.CapabilityProvider, opts ...Option) *ReplayProtected {
	return &ReplayProtected{
		s: newSession(ctx, "replay-protected", tee.MonotonicCounter, loader, caps,
			func(l tee.BlobLayout) int { return l.ReplayProtected }, opts),
	}
}

func (r *ReplayProtected) ID() string {
	return r.s.id
}

// BlobLength is the fixed sealed blob size of this session.
func (r *ReplayProtected) BlobLength() int {
	return len(r.s.blob)
}

// Init seals a fresh policy into the session buffer.
func (r *ReplayProtected) Init(ctx context.Context) error {
	return r.s.call(ctx, tee.OpCreateSealedPolicy, r.s.blob, true)
}

// InitBlob seals a fresh policy into blob.
func (r *ReplayProtected) InitBlob(ctx context.Context, blob []byte) error {
	return r.s.call(ctx, tee.OpCreateSealedPolicy, blob, true)
}

func (r *ReplayProtected) PerformFunction(ctx context.Context) error {
	return r.s.call(ctx, tee.OpPerformSealedPolicy, r.s.blob, false)
}

func (r *ReplayProtected) PerformFunctionBlob(ctx context.Context, blob []byte) error {
	return r.s.call(ctx, tee.OpPerformSealedPolicy, blob, false)
}

func (r *ReplayProtected) UpdateSecret(ctx context.Context) error {
	return r.s.call(ctx, tee.OpUpdateSealedPolicy, r.s.blob, false)
}

func (r *ReplayProtected) UpdateSecretBlob(ctx context.Context, blob []byte) error {
	return r.s.call(ctx, tee.OpUpdateSealedPolicy, blob, false)
}

func (r *ReplayProtected) DeleteSecret(ctx context.Context) error {
	return r.s.call(ctx, tee.OpDeleteSealedPolicy, r.s.blob, false)
}

func (r *ReplayProtected) DeleteSecretBlob(ctx context.Context, blob []byte) error {
	return r.s.call(ctx, tee.OpDeleteSealedPolicy, blob, false)
}

// GetActivityLog copies the session buffer into out, which must be
// BlobLength bytes.
func (r *ReplayProtected) GetActivityLog(out []byte) error {
	return r.s.copyOut(out)
}

// Close destroys the enclave. Safe to call more than once.
func (r *ReplayProtected) Close() error {
	return r.s.close()
}
