package enclave

import (
	"context"
	"sync/atomic"

	"github.com/quantumauth-io/quantum-go-drm/log"
	"github.com/quantumauth-io/quantum-go-drm/status"
	"github.com/quantumauth-io/quantum-go-drm/tee"
)

type instance struct {
	id        string
	name      string
	layout    tee.BlobLayout
	compute   tee.TrustedCompute
	onDestroy func()
	destroyed atomic.Bool
}

var _ tee.Enclave = (*instance)(nil)

func newInstance(name string, compute tee.TrustedCompute, layout tee.BlobLayout, onDestroy func()) *instance {
	return &instance{
		id:        newID(),
		name:      name,
		layout:    layout,
		compute:   compute,
		onDestroy: onDestroy,
	}
}

func (e *instance) ID() string {
	return e.id
}

func (e *instance) Layout() tee.BlobLayout {
	return e.layout
}

// Enter marshals buf in, runs the trusted code and marshals the result back
// when it succeeded. Once the call is inside it runs to completion.
func (e *instance) Enter(ctx context.Context, op tee.Operation, buf []byte) (status.Status, error) {
	if e.destroyed.Load() {
		return status.Success, status.EnclaveLost
	}
	if op < tee.OpCreateSealedPolicy || op > tee.OpPerformTimeBasedPolicy {
		return status.Success, status.InvalidFunction
	}
	if buf == nil {
		return status.Success, status.InvalidParameter
	}
	if ctx.Err() != nil {
		return status.Success, status.Unexpected
	}

	scratch := append([]byte(nil), buf...)
	st := e.compute.Enter(context.WithoutCancel(ctx), op, scratch)
	if st.OK() {
		copy(buf, scratch)
	}
	for i := range scratch {
		scratch[i] = 0
	}
	return st, nil
}

// Destroy releases the enclave. Calls after the first are no-ops.
func (e *instance) Destroy() error {
	if !e.destroyed.CompareAndSwap(false, true) {
		return nil
	}
	if e.onDestroy != nil {
		e.onDestroy()
	}
	log.Debug("enclave destroyed", "enclave", e.id, "name", e.name)
	return nil
}
