// Package status defines the numeric codes returned by every call that crosses the
// trust boundary. Values below 0xF000 follow the SGX SDK numbering so hardware and
// simulated enclaves report the same numbers; 0xF001..0xF006 are produced by the
// DRM policy engine.
package status

import (
	"errors"
	"fmt"
)

// Status is the result of a boundary call. Zero means success; any other value is
// passed through to the caller unmodified.
type Status uint32

const (
	Success Status = 0x0000

	Unexpected       Status = 0x0001
	InvalidParameter Status = 0x0002
	OutOfMemory      Status = 0x0003
	EnclaveLost      Status = 0x0004
	InvalidState     Status = 0x0005

	InvalidFunction Status = 0x1001
	OutOfTCS        Status = 0x1003
	EnclaveCrashed  Status = 0x1006

	InvalidEnclave    Status = 0x2001
	InvalidEnclaveID  Status = 0x2002
	InvalidSignature  Status = 0x2003
	NoDevice          Status = 0x2006
	EnclaveFileAccess Status = 0x200f

	MacMismatch      Status = 0x3001
	InvalidAttribute Status = 0x3002
	InvalidCPUSVN    Status = 0x3003
	InvalidISVSVN    Status = 0x3004
	InvalidKeyname   Status = 0x3005

	ServiceUnavailable Status = 0x4001
	ServiceTimeout     Status = 0x4002
	Busy               Status = 0x400a
	MCNotFound         Status = 0x400c
	MCNoAccessRight    Status = 0x400d
	MCUsedUp           Status = 0x400e
	MCOverQuota        Status = 0x400f

	PlatformServiceDowngraded Status = 0xF001
	ReplayDetected            Status = 0xF002
	MaxReleaseReached         Status = 0xF003
	TimesourceChanged         Status = 0xF004
	TimestampUnexpected       Status = 0xF005
	LeaseExpired              Status = 0xF006
)

// OK reports whether s is Success.
func (s Status) OK() bool {
	return s == Success
}

// Error makes a nonzero Status usable as an error value. errors.Is compares codes.
func (s Status) Error() string {
	return fmt.Sprintf("%s (0x%04x)", s.Message(), uint32(s))
}

// Err returns nil for Success and s otherwise, so call sites can write
// `return st.Err()` without handing a typed-nil error to the caller.
func (s Status) Err() error {
	if s == Success {
		return nil
	}
	return s
}

// FromError extracts the Status carried by err. A nil error is Success; an error
// without a Status is reported as Unexpected.
func FromError(err error) Status {
	if err == nil {
		return Success
	}
	var s Status
	if errors.As(err, &s) {
		return s
	}
	return Unexpected
}
