// Package policy is the code that runs inside the trust boundary: it unseals
// a policy blob, validates it against the live monotonic counter or trusted
// clock, runs the protected action and reseals the next state.
package policy

import (
	"context"
	"crypto/rand"
	"errors"
	"io"

	"github.com/quantumauth-io/quantum-go-drm/cryptoctx"
	"github.com/quantumauth-io/quantum-go-drm/log"
	"github.com/quantumauth-io/quantum-go-drm/status"
	"github.com/quantumauth-io/quantum-go-drm/tee"
)

// Sealer is the sealing capability of the enclave runtime.
type Sealer interface {
	Seal(policy cryptoctx.KeyPolicy, payload []byte, size int) ([]byte, error)
	Unseal(blob []byte) ([]byte, error)
}

// Engine implements tee.TrustedCompute. It keeps no state between calls;
// everything lives in the sealed blob and the platform services.
type Engine struct {
	cfg      Config
	sealer   Sealer
	platform tee.PlatformServices
	rand     io.Reader
}

var _ tee.TrustedCompute = (*Engine)(nil)

func NewEngine(cfg Config, sealer Sealer, platform tee.PlatformServices) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sealer == nil || platform == nil {
		return nil, errors.New("policy: sealer and platform services are required")
	}
	return &Engine{cfg: cfg, sealer: sealer, platform: platform, rand: rand.Reader}, nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Enter dispatches op. buf is only written when Success is returned.
func (e *Engine) Enter(ctx context.Context, op tee.Operation, buf []byte) status.Status {
	var st status.Status
	switch op {
	case tee.OpCreateSealedPolicy:
		st = e.withSize(buf, e.cfg.ReplayBlobSize, func() ([]byte, status.Status) { return e.createReplay(ctx) })
	case tee.OpPerformSealedPolicy:
		st = e.withSize(buf, e.cfg.ReplayBlobSize, func() ([]byte, status.Status) { return e.performReplay(ctx, buf) })
	case tee.OpUpdateSealedPolicy:
		st = e.withSize(buf, e.cfg.ReplayBlobSize, func() ([]byte, status.Status) { return e.updateReplay(ctx, buf) })
	case tee.OpDeleteSealedPolicy:
		st = e.withSize(buf, e.cfg.ReplayBlobSize, func() ([]byte, status.Status) { return e.deleteReplay(ctx, buf) })
	case tee.OpCreateTimeBasedPolicy:
		st = e.withSize(buf, e.cfg.TimeBlobSize, func() ([]byte, status.Status) { return e.createTime(ctx) })
	case tee.OpPerformTimeBasedPolicy:
		st = e.withSize(buf, e.cfg.TimeBlobSize, func() ([]byte, status.Status) { return e.performTime(ctx, buf) })
	default:
		st = status.InvalidFunction
	}

	if !st.OK() {
		log.Debug("policy: operation rejected", "op", op.String(), "status", st.Error())
	}
	return st
}

// withSize runs fn and publishes its blob into buf on success.
func (e *Engine) withSize(buf []byte, size int, fn func() ([]byte, status.Status)) status.Status {
	if len(buf) != size {
		return status.InvalidParameter
	}
	blob, st := fn()
	if !st.OK() {
		return st
	}
	if len(blob) != size {
		return status.Unexpected
	}
	copy(buf, blob)
	return status.Success
}

func (e *Engine) seal(payload []byte, size int) ([]byte, status.Status) {
	defer zero(payload)
	blob, err := e.sealer.Seal(e.cfg.KeyPolicy, payload, size)
	if err != nil {
		return nil, sealStatus(err)
	}
	return blob, status.Success
}

func (e *Engine) unseal(blob []byte) ([]byte, status.Status) {
	payload, err := e.sealer.Unseal(blob)
	if err != nil {
		return nil, sealStatus(err)
	}
	return payload, status.Success
}

// checkPlatform rejects platform services older than the sealed state and
// returns the version to seal next.
func (e *Engine) checkPlatform(sealed uint16) (uint16, status.Status) {
	current := e.platform.SecurityVersion()
	if current < sealed || current < e.cfg.MinPlatformServiceVersion {
		return 0, status.PlatformServiceDowngraded
	}
	return current, status.Success
}

func (e *Engine) runAction(ctx context.Context, op tee.Operation, secret []byte) status.Status {
	if e.cfg.Action == nil {
		return status.Success
	}
	if err := e.cfg.Action(ctx, op, secret); err != nil {
		return status.FromError(err)
	}
	return status.Success
}

func (e *Engine) newSecret(dst *[secretSize]byte) status.Status {
	if _, err := io.ReadFull(e.rand, dst[:]); err != nil {
		return status.Unexpected
	}
	return status.Success
}

func sealStatus(err error) status.Status {
	switch {
	case errors.Is(err, cryptoctx.ErrStaleReleaseVersion), errors.Is(err, cryptoctx.ErrFutureReleaseVersion):
		return status.InvalidISVSVN
	case errors.Is(err, cryptoctx.ErrCorruptOrTampered), errors.Is(err, cryptoctx.ErrMalformedBlob):
		return status.MacMismatch
	case errors.Is(err, cryptoctx.ErrPayloadTooLarge):
		return status.InvalidParameter
	}
	return status.Unexpected
}

// platformStatus maps platform service failures to their statuses.
func platformStatus(err error) status.Status {
	switch {
	case errors.Is(err, tee.ErrCounterNotFound):
		return status.MCNotFound
	case errors.Is(err, tee.ErrCounterExhausted):
		return status.MCOverQuota
	case errors.Is(err, tee.ErrCounterOverflowed):
		return status.MCUsedUp
	case errors.Is(err, tee.ErrServiceBusy):
		return status.Busy
	case errors.Is(err, tee.ErrServiceDown):
		return status.ServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return status.ServiceTimeout
	}
	return status.Unexpected
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
