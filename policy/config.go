package policy

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/quantumauth-io/quantum-go-drm/cryptoctx"
	"github.com/quantumauth-io/quantum-go-drm/tee"
)

// Defaults of the reference policy.
const (
	DefaultReplayBlobSize    = 620
	DefaultTimeBlobSize      = 624
	DefaultLeaseDuration     = 3 * time.Second
	DefaultMaxReleaseVersion = 5
)

// Action is the protected function. It runs inside the boundary after the
// policy has been validated and before the new state is committed; an error
// aborts the operation and leaves the blob untouched.
type Action func(ctx context.Context, op tee.Operation, secret []byte) error

type Config struct {
	ReplayBlobSize int
	TimeBlobSize   int
	// LeaseDuration is truncated to whole seconds of trusted time.
	LeaseDuration             time.Duration
	MaxReleaseVersion         uint32
	MinPlatformServiceVersion uint16
	// KeyPolicy used when sealing. Signer lets upgraded enclaves from the
	// same signer read existing blobs.
	KeyPolicy cryptoctx.KeyPolicy
	Action    Action
}

func DefaultConfig() Config {
	return Config{
		ReplayBlobSize:    DefaultReplayBlobSize,
		TimeBlobSize:      DefaultTimeBlobSize,
		LeaseDuration:     DefaultLeaseDuration,
		MaxReleaseVersion: DefaultMaxReleaseVersion,
		KeyPolicy:         cryptoctx.KeyPolicySigner,
	}
}

func (c Config) Layout() tee.BlobLayout {
	return tee.BlobLayout{ReplayProtected: c.ReplayBlobSize, TimeBased: c.TimeBlobSize}
}

func (c Config) leaseSeconds() uint64 {
	return uint64(c.LeaseDuration / time.Second)
}

// Validate checks that both payloads fit their blobs.
func (c Config) Validate() error {
	if c.ReplayBlobSize < cryptoctx.Overhead()+replayPayloadSize {
		return errors.Errorf("replay blob size %d below minimum %d", c.ReplayBlobSize, cryptoctx.Overhead()+replayPayloadSize)
	}
	if c.TimeBlobSize < cryptoctx.Overhead()+timePayloadSize {
		return errors.Errorf("time blob size %d below minimum %d", c.TimeBlobSize, cryptoctx.Overhead()+timePayloadSize)
	}
	if c.ReplayBlobSize == c.TimeBlobSize {
		return errors.New("replay and time blob sizes must differ")
	}
	if c.LeaseDuration < time.Second {
		return errors.Errorf("lease duration %s below one second", c.LeaseDuration)
	}
	if c.KeyPolicy != cryptoctx.KeyPolicyEnclave && c.KeyPolicy != cryptoctx.KeyPolicySigner {
		return errors.Errorf("unknown key policy %d", c.KeyPolicy)
	}
	return nil
}
