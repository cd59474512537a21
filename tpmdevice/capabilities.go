package tpmdevice

import (
	"context"
	"errors"
	"io"

	tpm2 "github.com/google/go-tpm/legacy/tpm2"

	"github.com/quantumauth-io/quantum-go-drm/log"
	"github.com/quantumauth-io/quantum-go-drm/tee"
)

// QueryCapabilities probes the TPM. A missing device reports no
// capabilities rather than an error.
func (d *Device) QueryCapabilities(ctx context.Context) (tee.CapabilitySet, error) {
	var caps tee.CapabilitySet
	err := d.with(ctx, func(rw io.ReadWriter) error {
		if _, _, err := tpm2.ReadClock(rw); err == nil {
			caps |= tee.TrustedTime
		} else {
			log.Debug("tpmdevice: ReadClock probe failed", "err", err)
		}

		vals, _, err := tpm2.GetCapability(rw, tpm2.CapabilityTPMProperties, 1, uint32(tpm2.NVCountersAvail))
		if err == nil && len(vals) == 1 {
			caps |= tee.MonotonicCounter
		} else {
			log.Debug("tpmdevice: NV counter probe failed", "err", err)
		}
		return nil
	})
	if errors.Is(err, tee.ErrServiceDown) {
		log.Info("tpmdevice: no TPM available", "err", err)
		return 0, nil
	}
	return caps, err
}

var _ tee.CapabilityProvider = (*Device)(nil)
var _ tee.PlatformServices = (*Device)(nil)
