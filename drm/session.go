// Package drm is the host side of the DRM enclave. A session owns one enclave
// and the last sealed policy blob, and forwards Init/Perform/Update/Delete
// into the enclave's policy engine.
//
// Sessions do no locking: calls on one session must be serialized by the
// caller. Every error returned carries a status.Status; use status.FromError
// or errors.Is(err, status.ReplayDetected) to inspect it.
package drm

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/quantumauth-io/quantum-go-drm/log"
	"github.com/quantumauth-io/quantum-go-drm/policy"
	"github.com/quantumauth-io/quantum-go-drm/status"
	"github.com/quantumauth-io/quantum-go-drm/tee"
)

// DefaultEnclaveName is the signed enclave artifact sessions load.
const DefaultEnclaveName = "DRM_enclave.signed"

type options struct {
	enclaveName string
}

type Option func(*options)

// WithEnclaveName loads a different enclave artifact.
func WithEnclaveName(name string) Option {
	return func(o *options) { o.enclaveName = name }
}

type session struct {
	id      string
	kind    string
	need    tee.CapabilitySet
	caps    tee.CapabilityProvider
	capSt   status.Status
	enclave tee.Enclave
	blob    []byte
}

func newSession(ctx context.Context, kind string, need tee.CapabilitySet, loader tee.Loader,
	caps tee.CapabilityProvider, blobSize func(tee.BlobLayout) int, opts []Option) *session {
	o := options{enclaveName: DefaultEnclaveName}
	for _, opt := range opts {
		opt(&o)
	}

	s := &session{
		id:   uuid.NewString(),
		kind: kind,
		need: need,
		caps: caps,
	}
	s.capSt = s.queryCapabilities(ctx)

	size := blobSize(policy.DefaultConfig().Layout())
	enc, err := loader.Create(ctx, o.enclaveName)
	if err != nil {
		log.Error("drm: enclave creation failed, session is inert",
			"session", s.id,
			"kind", kind,
			"enclave", o.enclaveName,
			"status", fmt.Sprintf("0x%04x", uint32(status.FromError(err))),
			"err", err,
		)
	} else {
		s.enclave = enc
		size = blobSize(enc.Layout())
		log.Info("drm: session created", "session", s.id, "kind", kind, "enclave", enc.ID())
	}
	s.blob = make([]byte, size)
	return s
}

func (s *session) queryCapabilities(ctx context.Context) status.Status {
	if s.caps == nil {
		return status.ServiceUnavailable
	}
	set, err := s.caps.QueryCapabilities(ctx)
	if err != nil {
		log.Warn("drm: capability query failed", "session", s.id, "err", err)
		return status.FromError(err)
	}
	if !set.Has(s.need) {
		log.Warn("drm: required platform service unavailable",
			"session", s.id, "need", s.need.String(), "have", set.String())
		return status.ServiceUnavailable
	}
	return status.Success
}

// call runs op on a scratch copy of target and publishes it on success.
func (s *session) call(ctx context.Context, op tee.Operation, target []byte, requery bool) error {
	if s.enclave == nil {
		return status.InvalidEnclaveID
	}
	if len(target) != len(s.blob) {
		return status.InvalidParameter
	}
	if requery {
		s.capSt = s.queryCapabilities(ctx)
	}
	if !s.capSt.OK() {
		return s.capSt
	}

	scratch := append([]byte(nil), target...)
	st, err := s.enclave.Enter(ctx, op, scratch)
	if err != nil {
		bst := status.FromError(err)
		log.Warn("drm: boundary call failed",
			"session", s.id,
			"op", op.String(),
			"status", fmt.Sprintf("0x%04x", uint32(bst)),
			"err", err,
		)
		return bst
	}
	if !st.OK() {
		log.Info("drm: operation denied",
			"session", s.id,
			"op", op.String(),
			"status", fmt.Sprintf("0x%04x", uint32(st)),
			"class", status.ClassOf(st).String(),
			"msg", st.Message(),
		)
		return st
	}

	copy(target, scratch)
	log.Debug("drm: operation ok", "session", s.id, "op", op.String())
	return nil
}

func (s *session) copyOut(out []byte) error {
	if len(out) != len(s.blob) {
		return status.InvalidParameter
	}
	copy(out, s.blob)
	return nil
}

func (s *session) close() error {
	if s.enclave == nil {
		return nil
	}
	enc := s.enclave
	s.enclave = nil
	if err := enc.Destroy(); err != nil {
		log.Warn("drm: enclave destroy failed", "session", s.id, "err", err)
		return err
	}
	log.Debug("drm: session closed", "session", s.id)
	return nil
}
