package codec

import (
	"bytes"
	"fmt"
	"iter"
	"math"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"

	"github.com/wagiedev/nvim-bridge/internal/errors"
)

const (
	// DefaultMaxFrameSize bounds how many bytes a single partial frame may
	// occupy in the decode buffer before the stream is declared malformed.
	DefaultMaxFrameSize = 64 * 1024 * 1024 // 64MB
)

// Codec encodes messages and incrementally decodes a byte stream into messages.
//
// Encoding is stateless. Decoding keeps a buffer of bytes that did not yet form
// a complete frame, so chunks may be split at arbitrary boundaries. A Codec is
// not safe for concurrent Decode calls; the RPC session calls it from its
// dispatch goroutine only.
type Codec struct {
	maxFrameSize int

	buf  []byte
	off  int
	err  error
	rd   bytes.Reader
	scan scanner
}

// New creates a codec. A maxFrameSize of zero or less selects DefaultMaxFrameSize.
func New(maxFrameSize int) *Codec {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}

	return &Codec{maxFrameSize: maxFrameSize}
}

// Encode encodes a message into a single frame.
func (c *Codec) Encode(m Message) ([]byte, error) {
	return Encode(m)
}

// Encode encodes a message into a single frame.
//
// Nil params are encoded as an empty array.
func Encode(m Message) ([]byte, error) {
	var buf bytes.Buffer

	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)

	var err error

	switch m := m.(type) {
	case *Request:
		err = encodeAll(
			func() error { return enc.EncodeArrayLen(4) },
			func() error { return enc.EncodeUint(TypeRequest) },
			func() error { return enc.EncodeUint(m.ID) },
			func() error { return enc.EncodeString(m.Method) },
			func() error { return encodeParams(enc, m.Params) },
		)
	case *Response:
		err = encodeAll(
			func() error { return enc.EncodeArrayLen(4) },
			func() error { return enc.EncodeUint(TypeResponse) },
			func() error { return enc.EncodeUint(m.ID) },
			func() error { return enc.Encode(m.Error) },
			func() error { return enc.Encode(m.Result) },
		)
	case *Notification:
		err = encodeAll(
			func() error { return enc.EncodeArrayLen(3) },
			func() error { return enc.EncodeUint(TypeNotification) },
			func() error { return enc.EncodeString(m.Method) },
			func() error { return encodeParams(enc, m.Params) },
		)
	default:
		return nil, fmt.Errorf("encode: unsupported message type %T", m)
	}

	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	return buf.Bytes(), nil
}

func encodeAll(steps ...func() error) error {
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}

	return nil
}

func encodeParams(enc *msgpack.Encoder, params []any) error {
	if err := enc.EncodeArrayLen(len(params)); err != nil {
		return err
	}

	for _, p := range params {
		if err := enc.Encode(p); err != nil {
			return err
		}
	}

	return nil
}

// Decode appends chunk to the decode buffer and returns a sequence over every
// complete frame now available.
//
// The chunk is buffered immediately, even if the sequence is never iterated;
// frames that are not consumed by one iteration are yielded by the next one.
// When the stream turns out to be malformed the sequence yields a
// *errors.MalformedFrameError and stops. The codec stays poisoned afterwards:
// every later sequence yields the same error.
func (c *Codec) Decode(chunk []byte) iter.Seq2[Message, error] {
	if c.err == nil {
		c.buf = append(c.buf, chunk...)
	}

	return func(yield func(Message, error) bool) {
		for {
			if c.err != nil {
				yield(nil, c.err)

				return
			}

			msg, ok := c.next()
			if !ok {
				if c.err != nil {
					continue
				}

				return
			}

			if !yield(msg, nil) {
				return
			}
		}
	}
}

// Buffered returns the number of bytes held for an incomplete frame.
func (c *Codec) Buffered() int {
	return len(c.buf) - c.off
}

// Finish reports whether the stream ended cleanly. It returns a
// *errors.MalformedFrameError when a partial frame is still buffered.
func (c *Codec) Finish() error {
	if c.err != nil {
		return c.err
	}

	if n := c.Buffered(); n > 0 {
		c.err = &errors.MalformedFrameError{
			Reason: fmt.Sprintf("stream ended inside a frame (%d bytes buffered)", n),
		}

		return c.err
	}

	return nil
}

// next decodes one frame from the buffer. It returns false when the buffer
// holds no complete frame or when the stream is malformed (c.err is set).
func (c *Codec) next() (Message, bool) {
	pending := c.buf[c.off:]
	if len(pending) == 0 {
		c.buf = c.buf[:0]
		c.off = 0

		return nil, false
	}

	n, err := c.scan.scan(pending, c.maxFrameSize)
	if err != nil {
		c.err = err

		return nil, false
	}

	if n == 0 {
		c.compact()

		if c.Buffered() > c.maxFrameSize {
			c.err = &errors.MalformedFrameError{
				Reason: fmt.Sprintf("frame exceeds %d bytes", c.maxFrameSize),
			}
		}

		return nil, false
	}

	c.rd.Reset(pending[:n])

	dec := msgpack.GetDecoder()
	defer msgpack.PutDecoder(dec)

	dec.Reset(&c.rd)
	dec.UseLooseInterfaceDecoding(true)

	v, err := decodeValue(dec)
	if err != nil {
		c.err = &errors.MalformedFrameError{Reason: "invalid msgpack", Err: err}

		return nil, false
	}

	c.off += n

	msg, err := FromValue(v)
	if err != nil {
		c.err = err

		return nil, false
	}

	return msg, true
}

// decodeValue decodes the next value loosely: integers become int64 unless
// they only fit in uint64, floats float64, str and bin string.
func decodeValue(d *msgpack.Decoder) (any, error) {
	c, err := d.PeekCode()
	if err != nil {
		return nil, err
	}

	switch {
	case c == msgpcode.Uint8 || c == msgpcode.Uint16 || c == msgpcode.Uint32 || c == msgpcode.Uint64:
		n, err := d.DecodeUint64()
		if err != nil {
			return nil, err
		}

		if n <= math.MaxInt64 {
			return int64(n), nil
		}

		return n, nil

	case msgpcode.IsFixedArray(c) || c == msgpcode.Array16 || c == msgpcode.Array32:
		return decodeArray(d)

	case msgpcode.IsFixedMap(c) || c == msgpcode.Map16 || c == msgpcode.Map32:
		return decodeMap(d)

	default:
		return d.DecodeInterfaceLoose()
	}
}

func decodeArray(d *msgpack.Decoder) (any, error) {
	n, err := d.DecodeArrayLen()
	if err != nil {
		return nil, err
	}

	arr := make([]any, 0, min(n, 1024))

	for range n {
		v, err := decodeValue(d)
		if err != nil {
			return nil, err
		}

		arr = append(arr, v)
	}

	return arr, nil
}

// decodeMap decodes a map with keys of any type. Keys that are not strings
// are formatted with fmt.Sprint so the result stays JSON encodable; Lua
// tables with integer keys arrive this way.
func decodeMap(d *msgpack.Decoder) (any, error) {
	n, err := d.DecodeMapLen()
	if err != nil {
		return nil, err
	}

	m := make(map[string]any, min(n, 1024))

	for range n {
		k, err := decodeValue(d)
		if err != nil {
			return nil, err
		}

		v, err := decodeValue(d)
		if err != nil {
			return nil, err
		}

		m[mapKey(k)] = v
	}

	return m, nil
}

func mapKey(k any) string {
	switch k := k.(type) {
	case string:
		return k
	case []byte:
		return string(k)
	default:
		return fmt.Sprint(k)
	}
}

// compact moves the unconsumed tail of the buffer to its start.
func (c *Codec) compact() {
	if c.off == 0 {
		return
	}

	n := copy(c.buf, c.buf[c.off:])
	c.buf = c.buf[:n]
	c.off = 0
}

// FromValue validates a decoded msgpack value against the RPC frame shapes and
// converts it to a Message. Violations are reported as *errors.MalformedFrameError.
func FromValue(v any) (Message, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, malformed("frame is %T, want array", v)
	}

	if len(arr) == 0 {
		return nil, malformed("empty frame")
	}

	tag, ok := toUint(arr[0])
	if !ok {
		return nil, malformed("message type is %T, want integer", arr[0])
	}

	switch tag {
	case TypeRequest:
		if len(arr) != 4 {
			return nil, malformed("request has %d elements, want 4", len(arr))
		}

		id, ok := toUint(arr[1])
		if !ok {
			return nil, malformed("request id is %v, want unsigned integer", arr[1])
		}

		method, ok := toString(arr[2])
		if !ok {
			return nil, malformed("request method is %T, want string", arr[2])
		}

		params, ok := toParams(arr[3])
		if !ok {
			return nil, malformed("request params is %T, want array", arr[3])
		}

		return &Request{ID: id, Method: method, Params: params}, nil

	case TypeResponse:
		if len(arr) != 4 {
			return nil, malformed("response has %d elements, want 4", len(arr))
		}

		id, ok := toUint(arr[1])
		if !ok {
			return nil, malformed("response id is %v, want unsigned integer", arr[1])
		}

		if arr[2] != nil && arr[3] != nil {
			return nil, malformed("response %d carries both error and result", id)
		}

		return &Response{ID: id, Error: arr[2], Result: arr[3]}, nil

	case TypeNotification:
		if len(arr) != 3 {
			return nil, malformed("notification has %d elements, want 3", len(arr))
		}

		method, ok := toString(arr[1])
		if !ok {
			return nil, malformed("notification method is %T, want string", arr[1])
		}

		params, ok := toParams(arr[2])
		if !ok {
			return nil, malformed("notification params is %T, want array", arr[2])
		}

		return &Notification{Method: method, Params: params}, nil

	default:
		return nil, malformed("unknown message type %d", tag)
	}
}

func malformed(format string, args ...any) error {
	return &errors.MalformedFrameError{Reason: fmt.Sprintf(format, args...)}
}

func toUint(v any) (uint64, bool) {
	switch n := v.(type) {
	case int64:
		if n < 0 {
			return 0, false
		}

		return uint64(n), true
	case uint64:
		return n, true
	default:
		return 0, false
	}
}

// toString accepts both str and bin, older Neovim versions send method names as bin.
func toString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	default:
		return "", false
	}
}

func toParams(v any) ([]any, bool) {
	params, ok := v.([]any)
	if !ok {
		return nil, false
	}

	if params == nil {
		params = []any{}
	}

	return params, true
}
