package policy

import (
	"context"

	"github.com/quantumauth-io/quantum-go-drm/log"
	"github.com/quantumauth-io/quantum-go-drm/status"
	"github.com/quantumauth-io/quantum-go-drm/tee"
)

func (e *Engine) createReplay(ctx context.Context) ([]byte, status.Status) {
	svn, st := e.checkPlatform(0)
	if !st.OK() {
		return nil, st
	}

	state := replayState{
		maxReleaseVersion: e.cfg.MaxReleaseVersion,
		platformSVN:       svn,
	}
	if st := e.newSecret(&state.secret); !st.OK() {
		return nil, st
	}
	defer zero(state.secret[:])

	counters := e.platform.Counters()
	id, value, err := counters.Create(ctx)
	if err != nil {
		return nil, platformStatus(err)
	}
	state.counterID, state.counterValue = id, value

	blob, st := e.seal(state.marshal(), e.cfg.ReplayBlobSize)
	if !st.OK() {
		if err := counters.Destroy(ctx, id); err != nil {
			log.Warn("policy: releasing counter after failed seal", "counter", id.String(), "err", err)
		}
		return nil, st
	}
	return blob, status.Success
}

// openReplay unseals buf and checks it against the hardware counter. Any
// state that is not the latest one is reported as a replay.
func (e *Engine) openReplay(ctx context.Context, buf []byte) (*replayState, uint16, status.Status) {
	payload, st := e.unseal(buf)
	if !st.OK() {
		return nil, 0, st
	}
	defer zero(payload)

	var state replayState
	if err := state.unmarshal(payload); err != nil {
		return nil, 0, status.MacMismatch
	}
	if state.tombstone {
		return nil, 0, status.ReplayDetected
	}

	svn, st := e.checkPlatform(state.platformSVN)
	if !st.OK() {
		return nil, 0, st
	}

	current, err := e.platform.Counters().Read(ctx, state.counterID)
	if err != nil {
		st := platformStatus(err)
		if st == status.MCNotFound {
			return nil, 0, status.ReplayDetected
		}
		return nil, 0, st
	}
	if current != state.counterValue {
		return nil, 0, status.ReplayDetected
	}
	return &state, svn, status.Success
}

// commitReplay seals the successor of state and then advances the counter,
// so a failed increment leaves the current blob valid.
func (e *Engine) commitReplay(ctx context.Context, state *replayState) ([]byte, status.Status) {
	if state.counterValue == ^uint32(0) {
		return nil, status.MCUsedUp
	}
	expected := state.counterValue + 1
	state.counterValue = expected

	blob, st := e.seal(state.marshal(), e.cfg.ReplayBlobSize)
	if !st.OK() {
		return nil, st
	}

	got, err := e.platform.Counters().Increment(ctx, state.counterID)
	if err != nil {
		st := platformStatus(err)
		if st == status.MCNotFound {
			return nil, status.ReplayDetected
		}
		return nil, st
	}
	if got != expected {
		// someone else advanced the counter between read and increment
		return nil, status.ReplayDetected
	}
	return blob, status.Success
}

func (e *Engine) performReplay(ctx context.Context, buf []byte) ([]byte, status.Status) {
	state, svn, st := e.openReplay(ctx, buf)
	if !st.OK() {
		return nil, st
	}
	defer zero(state.secret[:])

	if st := e.runAction(ctx, tee.OpPerformSealedPolicy, state.secret[:]); !st.OK() {
		return nil, st
	}
	state.platformSVN = svn
	return e.commitReplay(ctx, state)
}

func (e *Engine) updateReplay(ctx context.Context, buf []byte) ([]byte, status.Status) {
	state, svn, st := e.openReplay(ctx, buf)
	if !st.OK() {
		return nil, st
	}
	defer zero(state.secret[:])

	if state.releaseVersion >= state.maxReleaseVersion {
		return nil, status.MaxReleaseReached
	}
	if st := e.newSecret(&state.secret); !st.OK() {
		return nil, st
	}
	state.releaseVersion++
	state.platformSVN = svn
	return e.commitReplay(ctx, state)
}

func (e *Engine) deleteReplay(ctx context.Context, buf []byte) ([]byte, status.Status) {
	state, svn, st := e.openReplay(ctx, buf)
	if !st.OK() {
		return nil, st
	}

	tomb := replayState{
		tombstone:         true,
		counterID:         state.counterID,
		counterValue:      state.counterValue,
		releaseVersion:    state.releaseVersion,
		maxReleaseVersion: state.maxReleaseVersion,
		platformSVN:       svn,
	}
	zero(state.secret[:])

	blob, st := e.seal(tomb.marshal(), e.cfg.ReplayBlobSize)
	if !st.OK() {
		return nil, st
	}
	if err := e.platform.Counters().Destroy(ctx, state.counterID); err != nil {
		return nil, platformStatus(err)
	}
	return blob, status.Success
}
