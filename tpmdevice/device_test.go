package tpmdevice

import (
	"context"
	"errors"
	"io"
	"testing"

	tpm2 "github.com/google/go-tpm/legacy/tpm2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumauth-io/quantum-go-drm/tee"
)

func noDevice() (io.ReadWriteCloser, error) {
	return nil, ErrNoDevice
}

func TestQueryCapabilitiesWithoutDevice(t *testing.T) {
	d := New(Config{Open: noDevice})

	caps, err := d.QueryCapabilities(context.Background())
	require.NoError(t, err)
	assert.False(t, caps.Has(tee.MonotonicCounter))
	assert.False(t, caps.Has(tee.TrustedTime))
}

func TestOperationsWithoutDevice(t *testing.T) {
	ctx := context.Background()
	d := New(Config{Open: noDevice, SecurityVersion: 3})

	_, _, err := d.Counters().Create(ctx)
	assert.ErrorIs(t, err, tee.ErrServiceDown)

	_, _, err = d.Clock().Now(ctx)
	assert.ErrorIs(t, err, tee.ErrServiceDown)

	_, err = d.Sealer().Seal(ctx, "root", []byte("k"))
	assert.ErrorIs(t, err, tee.ErrServiceDown)

	assert.Equal(t, uint16(3), d.SecurityVersion())
}

func TestCancelledContextSkipsDevice(t *testing.T) {
	opened := false
	d := New(Config{Open: func() (io.ReadWriteCloser, error) {
		opened = true
		return nil, ErrNoDevice
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Counters().Read(ctx, counterID(defaultCounterBase))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, opened)
}

func TestCounterIDOutsideRange(t *testing.T) {
	ctx := context.Background()
	c := New(Config{Open: noDevice}).Counters()

	_, err := c.Read(ctx, counterID(defaultCounterBase-1))
	assert.ErrorIs(t, err, tee.ErrCounterNotFound)

	_, err = c.Increment(ctx, counterID(defaultCounterBase+defaultMaxCounters))
	assert.ErrorIs(t, err, tee.ErrCounterNotFound)

	id := counterID(defaultCounterBase)
	id[15] = 1
	assert.ErrorIs(t, c.Destroy(ctx, id), tee.ErrCounterNotFound)

	// in range: reaches the device
	_, err = c.Read(ctx, counterID(defaultCounterBase+1))
	assert.ErrorIs(t, err, tee.ErrServiceDown)
}

func TestMapTPMError(t *testing.T) {
	assert.ErrorIs(t, mapTPMError(tpm2.HandleError{Code: tpm2.RCHandle}), tee.ErrCounterNotFound)
	assert.ErrorIs(t, mapTPMError(tpm2.Warning{Code: tpm2.RCRetry}), tee.ErrServiceBusy)
	assert.ErrorIs(t, mapTPMError(tpm2.Error{Code: tpm2.RCNVSpace}), tee.ErrCounterExhausted)

	other := errors.New("boom")
	assert.Equal(t, other, mapTPMError(other))
	assert.NoError(t, mapTPMError(nil))
}
