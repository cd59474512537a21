package tee

import (
	"context"
	"encoding/hex"
	"errors"
)

var (
	ErrCounterNotFound   = errors.New("tee: monotonic counter not found")
	ErrCounterExhausted  = errors.New("tee: monotonic counter quota exhausted")
	ErrServiceDown       = errors.New("tee: platform service unavailable")
	ErrServiceBusy       = errors.New("tee: platform service busy")
	ErrCounterOverflowed = errors.New("tee: monotonic counter overflow")
)

// CounterID names one hardware monotonic counter.
type CounterID [16]byte

func (id CounterID) String() string {
	return hex.EncodeToString(id[:])
}

// TimeSourceNonce changes whenever the trusted clock loses continuity.
type TimeSourceNonce [32]byte

// MonotonicCounters is the hardware counter service. Values only go up;
// Destroy makes the id permanently unreadable.
type MonotonicCounters interface {
	Create(ctx context.Context) (CounterID, uint32, error)
	Read(ctx context.Context, id CounterID) (uint32, error)
	Increment(ctx context.Context, id CounterID) (uint32, error)
	Destroy(ctx context.Context, id CounterID) error
}

// TrustedClock returns seconds of trusted time and the nonce of the source
// that produced them. Readings from different sources are not comparable.
type TrustedClock interface {
	Now(ctx context.Context) (uint64, TimeSourceNonce, error)
}

// PlatformServices is what the policy engine sees of the platform.
type PlatformServices interface {
	Counters() MonotonicCounters
	Clock() TrustedClock
	// SecurityVersion of the platform services; a drop signals a downgrade.
	SecurityVersion() uint16
}
