package tpmdevice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	tpm2 "github.com/google/go-tpm/legacy/tpm2"
	"github.com/google/go-tpm/tpmutil"

	"github.com/quantumauth-io/quantum-go-drm/log"
	"github.com/quantumauth-io/quantum-go-drm/tee"
)

const (
	// owner-range NV indices reserved for DRM counters
	defaultCounterBase = tpmutil.Handle(0x01500100)
	defaultMaxCounters = 64
)

var ErrNoDevice = errors.New("tpmdevice: no TPM device")

// Config selects the TPM and the NV range used for monotonic counters.
type Config struct {
	OwnerAuth   string // TPM owner hierarchy auth (usually "")
	CounterBase tpmutil.Handle
	MaxCounters int
	// SecurityVersion reported for the platform services.
	SecurityVersion uint16

	// Open overrides device discovery. Nil uses the OS default device.
	Open func() (io.ReadWriteCloser, error)
}

// Device is a TPM 2.0 acting as the platform services of the DRM enclave:
// NV counters, the TPM clock and sealing of the root key. Commands are
// serialized; the device is opened per command.
type Device struct {
	mu  sync.Mutex
	cfg Config
}

func New(cfg Config) *Device {
	if cfg.CounterBase == 0 {
		cfg.CounterBase = defaultCounterBase
	}
	if cfg.MaxCounters <= 0 {
		cfg.MaxCounters = defaultMaxCounters
	}
	if cfg.Open == nil {
		cfg.Open = openTPM
	}
	return &Device{cfg: cfg}
}

// with runs fn against an open TPM and closes it afterwards.
func (d *Device) with(ctx context.Context, fn func(rw io.ReadWriter) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	rwc, err := d.cfg.Open()
	if err != nil {
		return fmt.Errorf("%w: %v", tee.ErrServiceDown, err)
	}
	defer closeQuietly(rwc)

	return fn(rwc)
}

func (d *Device) Counters() tee.MonotonicCounters {
	return &Counters{dev: d}
}

func (d *Device) Clock() tee.TrustedClock {
	return &Clock{dev: d}
}

func (d *Device) SecurityVersion() uint16 {
	return d.cfg.SecurityVersion
}

// Sealer returns a root-key sealer bound to the device's owner hierarchy.
func (d *Device) Sealer() Sealer {
	return &tpm2Sealer{dev: d}
}

// mapTPMError turns TPM response codes into platform service errors.
func mapTPMError(err error) error {
	if err == nil {
		return nil
	}

	var herr tpm2.HandleError
	if errors.As(err, &herr) && herr.Code == tpm2.RCHandle {
		return fmt.Errorf("%w: %v", tee.ErrCounterNotFound, err)
	}
	var warn tpm2.Warning
	if errors.As(err, &warn) {
		return fmt.Errorf("%w: %v", tee.ErrServiceBusy, err)
	}
	var ferr tpm2.Error
	if errors.As(err, &ferr) && ferr.Code == tpm2.RCNVSpace {
		return fmt.Errorf("%w: %v", tee.ErrCounterExhausted, err)
	}
	return err
}

func closeQuietly(c io.Closer) {
	err := c.Close()
	if err == nil || errors.Is(err, os.ErrClosed) || strings.Contains(err.Error(), "file already closed") {
		return
	}
	log.Warn("tpmdevice: close failed", "err", err)
}
