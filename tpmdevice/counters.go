package tpmdevice

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	tpm2 "github.com/google/go-tpm/legacy/tpm2"
	"github.com/google/go-tpm/tpmutil"

	"github.com/quantumauth-io/quantum-go-drm/tee"
)

// TPM_NT_COUNTER in the TPMA_NV type field.
const nvTypeCounter = tpm2.NVAttr(0x10)

// index auth is empty; the owner auth gates define/undefine
const counterAttrs = nvTypeCounter |
	tpm2.AttrAuthWrite |
	tpm2.AttrAuthRead |
	tpm2.AttrNoDA

// Counters implements tee.MonotonicCounters with NV counter indices.
//
// TPM counters start at the highest value any counter on the TPM has held, so
// a counter defined on a recycled index never repeats a value a deleted
// counter had.
type Counters struct {
	dev *Device
}

var _ tee.MonotonicCounters = (*Counters)(nil)

func counterID(h tpmutil.Handle) tee.CounterID {
	var id tee.CounterID
	binary.BigEndian.PutUint32(id[:4], uint32(h))
	return id
}

func (c *Counters) handle(id tee.CounterID) (tpmutil.Handle, error) {
	h := tpmutil.Handle(binary.BigEndian.Uint32(id[:4]))
	base := c.dev.cfg.CounterBase
	if h < base || h >= base+tpmutil.Handle(c.dev.cfg.MaxCounters) {
		return 0, tee.ErrCounterNotFound
	}
	for _, b := range id[4:] {
		if b != 0 {
			return 0, tee.ErrCounterNotFound
		}
	}
	return h, nil
}

func (c *Counters) Create(ctx context.Context) (tee.CounterID, uint32, error) {
	var (
		id    tee.CounterID
		value uint32
	)
	err := c.dev.with(ctx, func(rw io.ReadWriter) error {
		auth := c.dev.cfg.OwnerAuth
		var lastErr error
		for i := 0; i < c.dev.cfg.MaxCounters; i++ {
			h := c.dev.cfg.CounterBase + tpmutil.Handle(i)
			if err := tpm2.NVDefineSpace(rw, tpm2.HandleOwner, h, auth, "", nil, counterAttrs, 8); err != nil {
				lastErr = err
				continue
			}
			// a counter is unreadable until its first increment
			if err := tpm2.NVIncrement(rw, h, ""); err != nil {
				_ = tpm2.NVUndefineSpace(rw, auth, tpm2.HandleOwner, h)
				return mapTPMError(err)
			}
			v, err := readCounter(rw, h)
			if err != nil {
				_ = tpm2.NVUndefineSpace(rw, auth, tpm2.HandleOwner, h)
				return err
			}
			id, value = counterID(h), v
			return nil
		}
		return fmt.Errorf("%w: %v", tee.ErrCounterExhausted, lastErr)
	})
	return id, value, err
}

func (c *Counters) Read(ctx context.Context, id tee.CounterID) (uint32, error) {
	h, err := c.handle(id)
	if err != nil {
		return 0, err
	}
	var value uint32
	err = c.dev.with(ctx, func(rw io.ReadWriter) error {
		v, err := readCounter(rw, h)
		value = v
		return err
	})
	return value, err
}

func (c *Counters) Increment(ctx context.Context, id tee.CounterID) (uint32, error) {
	h, err := c.handle(id)
	if err != nil {
		return 0, err
	}
	var value uint32
	err = c.dev.with(ctx, func(rw io.ReadWriter) error {
		if err := tpm2.NVIncrement(rw, h, ""); err != nil {
			return mapTPMError(err)
		}
		v, err := readCounter(rw, h)
		value = v
		return err
	})
	return value, err
}

func (c *Counters) Destroy(ctx context.Context, id tee.CounterID) error {
	h, err := c.handle(id)
	if err != nil {
		return err
	}
	return c.dev.with(ctx, func(rw io.ReadWriter) error {
		return mapTPMError(tpm2.NVUndefineSpace(rw, c.dev.cfg.OwnerAuth, tpm2.HandleOwner, h))
	})
}

// readCounter reads the 64-bit NV counter; values past 32 bits are an overflow.
func readCounter(rw io.ReadWriter, h tpmutil.Handle) (uint32, error) {
	b, err := tpm2.NVReadEx(rw, h, h, "", 8)
	if err != nil {
		return 0, mapTPMError(err)
	}
	if len(b) != 8 {
		return 0, errors.New("tpmdevice: unexpected NV counter size")
	}
	v := binary.BigEndian.Uint64(b)
	if v > 0xFFFFFFFF {
		return 0, tee.ErrCounterOverflowed
	}
	return uint32(v), nil
}
