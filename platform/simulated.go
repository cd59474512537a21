// Package platform provides software platform services for running the DRM
// enclave without SGX or TPM hardware.
package platform

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantumauth-io/quantum-go-drm/tee"
)

const defaultMaxCounters = 256

type Option func(*Simulated)

// WithCapabilities sets the capabilities reported by QueryCapabilities.
func WithCapabilities(caps tee.CapabilitySet) Option {
	return func(s *Simulated) { s.caps = caps }
}

func WithSecurityVersion(v uint16) Option {
	return func(s *Simulated) { s.svn = v }
}

// WithClock replaces wall time as the trusted time source.
func WithClock(now func() time.Time) Option {
	return func(s *Simulated) { s.now = now }
}

// WithMaxCounters bounds the number of live counters.
func WithMaxCounters(n int) Option {
	return func(s *Simulated) { s.maxCounters = n }
}

// WithCounters replaces the in-memory counters, e.g. with RedisCounters.
func WithCounters(c tee.MonotonicCounters) Option {
	return func(s *Simulated) { s.external = c }
}

// Simulated is an in-memory implementation of the platform services. It is
// safe for concurrent use and may be shared by many enclaves.
type Simulated struct {
	mu sync.Mutex

	caps        tee.CapabilitySet
	svn         uint16
	now         func() time.Time
	nonce       tee.TimeSourceNonce
	down        bool
	maxCounters int

	counters map[tee.CounterID]uint32
	external tee.MonotonicCounters
}

var (
	_ tee.CapabilityProvider = (*Simulated)(nil)
	_ tee.PlatformServices   = (*Simulated)(nil)
)

func NewSimulated(opts ...Option) *Simulated {
	s := &Simulated{
		caps:        tee.MonotonicCounter | tee.TrustedTime,
		now:         time.Now,
		maxCounters: defaultMaxCounters,
		counters:    make(map[tee.CounterID]uint32),
	}
	s.rotateNonce()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulated) rotateNonce() {
	if _, err := rand.Read(s.nonce[:]); err != nil {
		panic(err)
	}
}

func (s *Simulated) QueryCapabilities(ctx context.Context) (tee.CapabilitySet, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps, nil
}

func (s *Simulated) SetCapabilities(caps tee.CapabilitySet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caps = caps
}

func (s *Simulated) SecurityVersion() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.svn
}

// SetSecurityVersion changes the reported version, e.g. to simulate a
// platform software rollback.
func (s *Simulated) SetSecurityVersion(v uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.svn = v
}

// ResetTimeSource gives the trusted clock a new source nonce, as after a
// platform reset.
func (s *Simulated) ResetTimeSource() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotateNonce()
}

// SetServiceDown makes every counter and clock call fail with tee.ErrServiceDown.
func (s *Simulated) SetServiceDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

func (s *Simulated) Counters() tee.MonotonicCounters {
	if s.external != nil {
		return s.external
	}
	return (*simCounters)(s)
}

func (s *Simulated) Clock() tee.TrustedClock {
	return (*simClock)(s)
}

// LiveCounters reports how many in-memory counters exist.
func (s *Simulated) LiveCounters() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

type simCounters Simulated

func (c *simCounters) lock() (*Simulated, error) {
	s := (*Simulated)(c)
	s.mu.Lock()
	if s.down {
		s.mu.Unlock()
		return nil, tee.ErrServiceDown
	}
	return s, nil
}

func (c *simCounters) Create(ctx context.Context) (tee.CounterID, uint32, error) {
	if err := ctx.Err(); err != nil {
		return tee.CounterID{}, 0, err
	}
	s, err := c.lock()
	if err != nil {
		return tee.CounterID{}, 0, err
	}
	defer s.mu.Unlock()

	if len(s.counters) >= s.maxCounters {
		return tee.CounterID{}, 0, tee.ErrCounterExhausted
	}
	id := tee.CounterID(uuid.New())
	s.counters[id] = 0
	return id, 0, nil
}

func (c *simCounters) Read(ctx context.Context, id tee.CounterID) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s, err := c.lock()
	if err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	v, ok := s.counters[id]
	if !ok {
		return 0, tee.ErrCounterNotFound
	}
	return v, nil
}

func (c *simCounters) Increment(ctx context.Context, id tee.CounterID) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s, err := c.lock()
	if err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	v, ok := s.counters[id]
	if !ok {
		return 0, tee.ErrCounterNotFound
	}
	if v == ^uint32(0) {
		return 0, tee.ErrCounterOverflowed
	}
	v++
	s.counters[id] = v
	return v, nil
}

func (c *simCounters) Destroy(ctx context.Context, id tee.CounterID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s, err := c.lock()
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	if _, ok := s.counters[id]; !ok {
		return tee.ErrCounterNotFound
	}
	delete(s.counters, id)
	return nil
}

type simClock Simulated

func (c *simClock) Now(ctx context.Context) (uint64, tee.TimeSourceNonce, error) {
	if err := ctx.Err(); err != nil {
		return 0, tee.TimeSourceNonce{}, err
	}
	s := (*Simulated)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return 0, tee.TimeSourceNonce{}, tee.ErrServiceDown
	}

	t := s.now().Unix()
	if t < 0 {
		t = 0
	}
	return uint64(t), s.nonce, nil
}
