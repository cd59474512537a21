// Package tee holds the contracts between the host, the trust boundary and the
// platform services the policy engine relies on. Nothing here does I/O; the
// implementations live in enclave, platform and tpmdevice.
package tee

import (
	"context"

	"github.com/quantumauth-io/quantum-go-drm/status"
)

// CapabilitySet is a bit set of platform services.
type CapabilitySet uint32

const (
	MonotonicCounter CapabilitySet = 1 << iota
	TrustedTime
)

func (c CapabilitySet) Has(flag CapabilitySet) bool {
	return c&flag == flag
}

func (c CapabilitySet) String() string {
	switch {
	case c.Has(MonotonicCounter | TrustedTime):
		return "monotonic-counter|trusted-time"
	case c.Has(MonotonicCounter):
		return "monotonic-counter"
	case c.Has(TrustedTime):
		return "trusted-time"
	}
	return "none"
}

// CapabilityProvider reports which platform services are usable right now.
// Implementations must be side-effect free.
type CapabilityProvider interface {
	QueryCapabilities(ctx context.Context) (CapabilitySet, error)
}

// Operation selects the policy engine entry point.
type Operation uint8

const (
	OpCreateSealedPolicy Operation = iota + 1
	OpPerformSealedPolicy
	OpUpdateSealedPolicy
	OpDeleteSealedPolicy
	OpCreateTimeBasedPolicy
	OpPerformTimeBasedPolicy
)

func (o Operation) String() string {
	switch o {
	case OpCreateSealedPolicy:
		return "create_sealed_policy"
	case OpPerformSealedPolicy:
		return "perform_sealed_policy"
	case OpUpdateSealedPolicy:
		return "update_sealed_policy"
	case OpDeleteSealedPolicy:
		return "delete_sealed_policy"
	case OpCreateTimeBasedPolicy:
		return "create_time_based_policy"
	case OpPerformTimeBasedPolicy:
		return "perform_time_based_policy"
	}
	return "unknown"
}

// TrustedCompute is the code running inside the boundary. Enter reads and may
// rewrite buf in place; it must leave buf untouched unless it returns Success.
type TrustedCompute interface {
	Enter(ctx context.Context, op Operation, buf []byte) status.Status
}

// BlobLayout is the fixed sealed blob length for each policy kind.
type BlobLayout struct {
	ReplayProtected int
	TimeBased       int
}

// Enclave is a loaded enclave instance.
//
// Enter returns two values the way an ecall does: the error is the boundary
// fault (the call never ran), the Status is what the trusted code returned.
type Enclave interface {
	ID() string
	Layout() BlobLayout
	Enter(ctx context.Context, op Operation, buf []byte) (status.Status, error)
	Destroy() error
}

// Loader creates enclaves from a signed artifact name.
type Loader interface {
	Create(ctx context.Context, name string) (Enclave, error)
}
