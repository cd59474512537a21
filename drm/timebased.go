package drm

import (
	"context"

	"github.com/quantumauth-io/quantum-go-drm/tee"
)

// TimeBased is a lease that permits the protected function for a fixed
// window of trusted time after Init.
type TimeBased struct {
	s *session
}

func NewTimeBased(ctx context.Context, loader tee.Loader, caps tee.CapabilityProvider, opts ...Option) *TimeBased {
	return &TimeBased{
		s: newSession(ctx, "time-based", tee.TrustedTime, loader, caps,
			func(l tee.BlobLayout) int { return l.TimeBased }, opts),
	}
}

func (t *TimeBased) ID() string {
	return t.s.id
}

func (t *TimeBased) BlobLength() int {
	return len(t.s.blob)
}

// Init starts a new lease in the session buffer.
func (t *TimeBased) Init(ctx context.Context) error {
	return t.s.call(ctx, tee.OpCreateTimeBasedPolicy, t.s.blob, true)
}

func (t *TimeBased) InitBlob(ctx context.Context, blob []byte) error {
	return t.s.call(ctx, tee.OpCreateTimeBasedPolicy, blob, true)
}

func (t *TimeBased) PerformFunction(ctx context.Context) error {
	return t.s.call(ctx, tee.OpPerformTimeBasedPolicy, t.s.blob, false)
}

func (t *TimeBased) PerformFunctionBlob(ctx context.Context, blob []byte) error {
	return t.s.call(ctx, tee.OpPerformTimeBasedPolicy, blob, false)
}

func (t *TimeBased) GetTimeBasedPolicy(out []byte) error {
	return t.s.copyOut(out)
}

func (t *TimeBased) Close() error {
	return t.s.close()
}
