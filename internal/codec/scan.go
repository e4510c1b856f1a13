package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// scanner finds the end of the next msgpack value in the decode buffer.
//
// It only reads headers and keeps its position between calls, so a large
// frame arriving in many chunks is walked once instead of being re-decoded
// from its first byte after every chunk.
type scanner struct {
	pos     int
	pending []uint64 // values still expected by each open array or map
}

// scan reports the length of the first complete value in buf, or zero when
// more bytes are needed. buf must start at the same frame as the previous
// call and may only have grown since.
func (s *scanner) scan(buf []byte, maxFrameSize int) (int, error) {
	for s.pos < len(buf) {
		size, items, ok := header(buf[s.pos:])
		if !ok {
			return 0, nil
		}

		if end := uint64(s.pos) + size; end > uint64(maxFrameSize) {
			return 0, malformed("frame exceeds %d bytes", maxFrameSize)
		} else if end > uint64(len(buf)) {
			return 0, nil
		}

		s.pos += int(size)

		if items > 0 {
			s.pending = append(s.pending, items)

			continue
		}

		if s.valueDone() {
			n := s.pos
			s.reset()

			return n, nil
		}
	}

	return 0, nil
}

// valueDone accounts for one finished value and reports whether the
// top-level value is complete.
func (s *scanner) valueDone() bool {
	for len(s.pending) > 0 {
		top := len(s.pending) - 1

		s.pending[top]--
		if s.pending[top] > 0 {
			return false
		}

		s.pending = s.pending[:top]
	}

	return true
}

func (s *scanner) reset() {
	s.pos = 0
	s.pending = s.pending[:0]
}

// header returns the encoded size of the value starting at b, excluding
// nested values, and how many nested values follow it. ok is false when the
// header itself is not fully buffered. Unknown codes are sized as one byte
// and left for the decoder to reject.
func header(b []byte) (size, items uint64, ok bool) {
	c := b[0]

	switch {
	case msgpcode.IsFixedNum(c):
		return 1, 0, true
	case msgpcode.IsFixedString(c):
		return 1 + uint64(c&msgpcode.FixedStrMask), 0, true
	case msgpcode.IsFixedArray(c):
		return 1, uint64(c & msgpcode.FixedArrayMask), true
	case msgpcode.IsFixedMap(c):
		return 1, 2 * uint64(c&msgpcode.FixedMapMask), true
	}

	switch c {
	case msgpcode.Uint8, msgpcode.Int8:
		return 2, 0, true
	case msgpcode.Uint16, msgpcode.Int16:
		return 3, 0, true
	case msgpcode.Uint32, msgpcode.Int32, msgpcode.Float:
		return 5, 0, true
	case msgpcode.Uint64, msgpcode.Int64, msgpcode.Double:
		return 9, 0, true
	case msgpcode.FixExt1:
		return 3, 0, true
	case msgpcode.FixExt2:
		return 4, 0, true
	case msgpcode.FixExt4:
		return 6, 0, true
	case msgpcode.FixExt8:
		return 10, 0, true
	case msgpcode.FixExt16:
		return 18, 0, true
	case msgpcode.Str8, msgpcode.Bin8:
		return lengthPrefixed(b, 1, 0)
	case msgpcode.Str16, msgpcode.Bin16:
		return lengthPrefixed(b, 2, 0)
	case msgpcode.Str32, msgpcode.Bin32:
		return lengthPrefixed(b, 4, 0)
	case msgpcode.Ext8:
		return lengthPrefixed(b, 1, 1)
	case msgpcode.Ext16:
		return lengthPrefixed(b, 2, 1)
	case msgpcode.Ext32:
		return lengthPrefixed(b, 4, 1)
	case msgpcode.Array16:
		return container(b, 2, 1)
	case msgpcode.Array32:
		return container(b, 4, 1)
	case msgpcode.Map16:
		return container(b, 2, 2)
	case msgpcode.Map32:
		return container(b, 4, 2)
	default:
		return 1, 0, true
	}
}

// lengthPrefixed sizes a str, bin or ext value whose payload length is a
// big-endian integer of width bytes, followed by extra type bytes.
func lengthPrefixed(b []byte, width, extra int) (size, items uint64, ok bool) {
	n, ok := readLength(b, width)
	if !ok {
		return 0, 0, false
	}

	return uint64(1+width+extra) + n, 0, true
}

// container sizes an array or map header carrying a count of width bytes.
func container(b []byte, width int, perEntry uint64) (size, items uint64, ok bool) {
	n, ok := readLength(b, width)
	if !ok {
		return 0, 0, false
	}

	return uint64(1 + width), perEntry * n, true
}

func readLength(b []byte, width int) (uint64, bool) {
	if len(b) < 1+width {
		return 0, false
	}

	switch width {
	case 1:
		return uint64(b[1]), true
	case 2:
		return uint64(binary.BigEndian.Uint16(b[1:])), true
	case 4:
		return uint64(binary.BigEndian.Uint32(b[1:])), true
	default:
		panic(fmt.Sprintf("codec: unsupported length width %d", width))
	}
}
