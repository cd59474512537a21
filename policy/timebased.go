package policy

import (
	"context"

	"github.com/quantumauth-io/quantum-go-drm/status"
	"github.com/quantumauth-io/quantum-go-drm/tee"
)

func (e *Engine) createTime(ctx context.Context) ([]byte, status.Status) {
	svn, st := e.checkPlatform(0)
	if !st.OK() {
		return nil, st
	}

	now, nonce, err := e.platform.Clock().Now(ctx)
	if err != nil {
		return nil, platformStatus(err)
	}

	state := timeState{
		nonce:       nonce,
		start:       now,
		lastSeen:    now,
		duration:    e.cfg.leaseSeconds(),
		platformSVN: svn,
	}
	if st := e.newSecret(&state.secret); !st.OK() {
		return nil, st
	}
	defer zero(state.secret[:])

	return e.seal(state.marshal(), e.cfg.TimeBlobSize)
}

func (e *Engine) performTime(ctx context.Context, buf []byte) ([]byte, status.Status) {
	payload, st := e.unseal(buf)
	if !st.OK() {
		return nil, st
	}
	defer zero(payload)

	var state timeState
	if err := state.unmarshal(payload); err != nil {
		return nil, status.MacMismatch
	}
	defer zero(state.secret[:])

	svn, st := e.checkPlatform(state.platformSVN)
	if !st.OK() {
		return nil, st
	}

	now, nonce, err := e.platform.Clock().Now(ctx)
	if err != nil {
		return nil, platformStatus(err)
	}
	if nonce != state.nonce {
		return nil, status.TimesourceChanged
	}
	if now < state.start || now < state.lastSeen {
		return nil, status.TimestampUnexpected
	}
	if now-state.start > state.duration {
		return nil, status.LeaseExpired
	}

	if st := e.runAction(ctx, tee.OpPerformTimeBasedPolicy, state.secret[:]); !st.OK() {
		return nil, st
	}

	state.lastSeen = now
	state.platformSVN = svn
	return e.seal(state.marshal(), e.cfg.TimeBlobSize)
}
