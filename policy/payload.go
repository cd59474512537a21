package policy

import (
	"encoding/binary"
	"errors"

	"github.com/quantumauth-io/quantum-go-drm/tee"
)

var errBadPayload = errors.New("policy: bad payload")

const (
	payloadFormat = 1

	kindReplay = 1
	kindTime   = 2

	flagTombstone = 1 << 0

	secretSize = 32

	// format, kind, flags, reserved
	payloadHeaderSize = 4
)

// replayState is the sealed state of a replay-protected policy.
type replayState struct {
	tombstone         bool
	counterID         tee.CounterID
	counterValue      uint32
	releaseVersion    uint32
	maxReleaseVersion uint32
	platformSVN       uint16
	secret            [secretSize]byte
}

// header | id[16] | value u32 | release u32 | max u32 | svn u16 | secret[32]
const replayPayloadSize = payloadHeaderSize + 16 + 4 + 4 + 4 + 2 + secretSize

func (s *replayState) marshal() []byte {
	b := make([]byte, replayPayloadSize)
	b[0], b[1] = payloadFormat, kindReplay
	if s.tombstone {
		b[2] |= flagTombstone
	}
	off := payloadHeaderSize
	off += copy(b[off:], s.counterID[:])
	binary.LittleEndian.PutUint32(b[off:], s.counterValue)
	binary.LittleEndian.PutUint32(b[off+4:], s.releaseVersion)
	binary.LittleEndian.PutUint32(b[off+8:], s.maxReleaseVersion)
	binary.LittleEndian.PutUint16(b[off+12:], s.platformSVN)
	copy(b[off+14:], s.secret[:])
	return b
}

func (s *replayState) unmarshal(b []byte) error {
	if len(b) != replayPayloadSize || b[0] != payloadFormat || b[1] != kindReplay {
		return errBadPayload
	}
	s.tombstone = b[2]&flagTombstone != 0
	off := payloadHeaderSize
	off += copy(s.counterID[:], b[off:off+16])
	s.counterValue = binary.LittleEndian.Uint32(b[off:])
	s.releaseVersion = binary.LittleEndian.Uint32(b[off+4:])
	s.maxReleaseVersion = binary.LittleEndian.Uint32(b[off+8:])
	s.platformSVN = binary.LittleEndian.Uint16(b[off+12:])
	copy(s.secret[:], b[off+14:])
	return nil
}

// timeState is the sealed state of a time-based policy. Times are seconds of
// trusted time from the source identified by nonce.
type timeState struct {
	nonce       tee.TimeSourceNonce
	start       uint64
	lastSeen    uint64
	duration    uint64
	platformSVN uint16
	secret      [secretSize]byte
}

// header | nonce[32] | start u64 | lastSeen u64 | duration u64 | svn u16 | secret[32]
const timePayloadSize = payloadHeaderSize + 32 + 8 + 8 + 8 + 2 + secretSize

func (s *timeState) marshal() []byte {
	b := make([]byte, timePayloadSize)
	b[0], b[1] = payloadFormat, kindTime
	off := payloadHeaderSize
	off += copy(b[off:], s.nonce[:])
	binary.LittleEndian.PutUint64(b[off:], s.start)
	binary.LittleEndian.PutUint64(b[off+8:], s.lastSeen)
	binary.LittleEndian.PutUint64(b[off+16:], s.duration)
	binary.LittleEndian.PutUint16(b[off+24:], s.platformSVN)
	copy(b[off+26:], s.secret[:])
	return b
}

func (s *timeState) unmarshal(b []byte) error {
	if len(b) != timePayloadSize || b[0] != payloadFormat || b[1] != kindTime {
		return errBadPayload
	}
	off := payloadHeaderSize
	off += copy(s.nonce[:], b[off:off+32])
	s.start = binary.LittleEndian.Uint64(b[off:])
	s.lastSeen = binary.LittleEndian.Uint64(b[off+8:])
	s.duration = binary.LittleEndian.Uint64(b[off+16:])
	s.platformSVN = binary.LittleEndian.Uint16(b[off+24:])
	copy(s.secret[:], b[off+26:])
	return nil
}
