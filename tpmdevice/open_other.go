//go:build !linux && !windows

package tpmdevice

import (
	"fmt"
	"io"
	"runtime"
)

// openTPM has no backend here; macOS Secure Enclave exposes neither NV
// counters nor a trusted clock.
func openTPM() (io.ReadWriteCloser, error) {
	return nil, fmt.Errorf("%w on %s", ErrNoDevice, runtime.GOOS)
}
