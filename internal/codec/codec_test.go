package codec

import (
	stderrors "errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/wagiedev/nvim-bridge/internal/errors"
)

// collect drains one Decode sequence.
func collect(t *testing.T, c *Codec, chunk []byte) ([]Message, error) {
	t.Helper()

	var (
		msgs []Message
		err  error
	)

	for msg, decErr := range c.Decode(chunk) {
		if decErr != nil {
			err = decErr

			break
		}

		msgs = append(msgs, msg)
	}

	return msgs, err
}

func mustEncode(t *testing.T, m Message) []byte {
	t.Helper()

	data, err := Encode(m)
	require.NoError(t, err)

	return data
}

// Integers decode as int64 whatever their msgpack width.
func sampleMessages() []Message {
	return []Message{
		&Request{
			ID:     1,
			Method: "nvim_ui_attach",
			Params: []any{int64(80), int64(24), map[string]any{"rgb": true}},
		},
		&Request{
			ID:     4_000_000_000,
			Method: "nvim_eval",
			Params: []any{"&columns", nil, 1.5, int64(-3), int64(300), "\x01\x02"},
		},
		&Response{ID: 3, Result: []any{int64(1), "a"}},
		&Response{ID: 4, Error: []any{int64(0), "bad size"}},
		&Response{ID: 5},
		&Notification{
			Method: "redraw",
			Params: []any{[]any{"grid_line", []any{int64(1), int64(0), int64(0)}}},
		},
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	for _, m := range sampleMessages() {
		c := New(0)

		msgs, err := collect(t, c, mustEncode(t, m))
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		require.Equal(t, m, msgs[0])
		require.Zero(t, c.Buffered())
		require.NoError(t, c.Finish())
	}
}

func TestEncode_NilParamsBecomeEmptyArray(t *testing.T) {
	c := New(0)

	msgs, err := collect(t, c, mustEncode(t, &Notification{Method: "ping"}))
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	n, ok := msgs[0].(*Notification)
	require.True(t, ok)
	require.Equal(t, "ping", n.Method)
	require.NotNil(t, n.Params)
	require.Empty(t, n.Params)
}

func TestEncode_UnsupportedMessage(t *testing.T) {
	_, err := Encode(nil)
	require.Error(t, err)
}

func TestDecode_ByteAtATime(t *testing.T) {
	var stream []byte

	want := sampleMessages()
	for _, m := range want {
		stream = append(stream, mustEncode(t, m)...)
	}

	c := New(0)

	var got []Message

	for i := range stream {
		msgs, err := collect(t, c, stream[i:i+1])
		require.NoError(t, err)

		got = append(got, msgs...)
	}

	require.Equal(t, want, got)
	require.NoError(t, c.Finish())
}

func TestDecode_ArbitrarySplits(t *testing.T) {
	var stream []byte

	want := sampleMessages()
	for _, m := range want {
		stream = append(stream, mustEncode(t, m)...)
	}

	for _, size := range []int{2, 3, 7, 16, 64} {
		c := New(0)

		var got []Message

		for start := 0; start < len(stream); start += size {
			end := min(start+size, len(stream))

			msgs, err := collect(t, c, stream[start:end])
			require.NoError(t, err)

			got = append(got, msgs...)
		}

		require.Equal(t, want, got, "chunk size %d", size)
	}
}

func TestDecode_StoppedIterationResumes(t *testing.T) {
	stream := append(
		mustEncode(t, &Notification{Method: "a", Params: []any{}}),
		mustEncode(t, &Notification{Method: "b", Params: []any{}})...,
	)

	c := New(0)

	for msg := range c.Decode(stream) {
		require.Equal(t, "a", msg.(*Notification).Method)

		break
	}

	msgs, err := collect(t, c, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "b", msgs[0].(*Notification).Method)
}

func TestDecode_MalformedFrames(t *testing.T) {
	encodeRaw := func(v any) []byte {
		data, err := msgpack.Marshal(v)
		require.NoError(t, err)

		return data
	}

	tests := []struct {
		name string
		data []byte
	}{
		{name: "invalid code", data: []byte{0xc1}},
		{name: "not an array", data: encodeRaw("hello")},
		{name: "empty array", data: encodeRaw([]any{})},
		{name: "wrong tag", data: encodeRaw([]any{7, "x", []any{}})},
		{name: "string tag", data: encodeRaw([]any{"0", 1, "m", []any{}})},
		{name: "short request", data: encodeRaw([]any{0, 1, "m"})},
		{name: "negative id", data: encodeRaw([]any{0, -1, "m", []any{}})},
		{name: "method not string", data: encodeRaw([]any{0, 1, 5, []any{}})},
		{name: "params not array", data: encodeRaw([]any{2, "m", "p"})},
		{name: "error and result", data: encodeRaw([]any{1, 1, "err", "res"})},
		{name: "long notification", data: encodeRaw([]any{2, "m", []any{}, 1})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(0)

			msgs, err := collect(t, c, tt.data)
			require.Empty(t, msgs)

			_, ok := stderrors.AsType[*errors.MalformedFrameError](err)
			require.True(t, ok, "got %v", err)

			// The codec stays poisoned.
			_, again := collect(t, c, mustEncode(t, &Notification{Method: "ok"}))
			require.Equal(t, err, again)
		})
	}
}

func TestDecode_ValidFrameBeforeMalformed(t *testing.T) {
	stream := append(mustEncode(t, &Notification{Method: "first", Params: []any{}}), 0xc1)

	c := New(0)

	msgs, err := collect(t, c, stream)
	require.Len(t, msgs, 1)
	require.Equal(t, "first", msgs[0].(*Notification).Method)
	require.Error(t, err)
}

func TestFinish_TruncatedFrame(t *testing.T) {
	frame := mustEncode(t, &Request{ID: 1, Method: "nvim_command", Params: []any{"echo 1"}})

	c := New(0)

	msgs, err := collect(t, c, frame[:len(frame)-2])
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.Equal(t, len(frame)-2, c.Buffered())

	err = c.Finish()

	_, ok := stderrors.AsType[*errors.MalformedFrameError](err)
	require.True(t, ok)
}

func TestFinish_UnterminatedString(t *testing.T) {
	// fixarray(3), 2, str8 of length 10 with only 3 bytes present.
	data := []byte{0x93, 0x02, 0xd9, 0x0a, 'a', 'b', 'c'}

	c := New(0)

	msgs, err := collect(t, c, data)
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.Error(t, c.Finish())
}

func TestDecode_FrameTooLarge(t *testing.T) {
	frame := mustEncode(t, &Notification{
		Method: "redraw",
		Params: []any{string(make([]byte, 256))},
	})

	c := New(64)

	_, err := collect(t, c, frame[:100])

	malformedErr, ok := stderrors.AsType[*errors.MalformedFrameError](err)
	require.True(t, ok)
	require.Contains(t, malformedErr.Reason, "exceeds 64 bytes")
}

func TestResponse_IsError(t *testing.T) {
	require.True(t, (&Response{Error: "x"}).IsError())
	require.False(t, (&Response{Result: "x"}).IsError())
}

func TestDecode_BufferHandle(t *testing.T) {
	b := Buffer(3)

	data, err := msgpack.Marshal([]any{1, 9, nil, &b})
	require.NoError(t, err)

	c := New(0)

	msgs, err := collect(t, c, data)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	resp := msgs[0].(*Response)
	require.Equal(t, uint64(9), resp.ID)

	switch h := resp.Result.(type) {
	case *Buffer:
		require.Equal(t, Buffer(3), *h)
	case Buffer:
		require.Equal(t, Buffer(3), h)
	default:
		t.Fatalf("unexpected handle type %T", resp.Result)
	}
}

func TestDecode_NonStringMapKeys(t *testing.T) {
	frame := mustEncode(t, &Notification{
		Method: "nvim_buf_lines_event",
		Params: []any{
			map[int64]any{1: "a", 3: "b"},
			map[any]any{true: int64(1), "name": []any{map[int64]any{-2: nil}}},
		},
	})

	c := New(0)

	msgs, err := collect(t, c, frame)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.Equal(t, []any{
		map[string]any{"1": "a", "3": "b"},
		map[string]any{"true": int64(1), "name": []any{map[string]any{"-2": nil}}},
	}, msgs[0].(*Notification).Params)
}

// wideMessage exercises the 16 and 32 bit length headers.
func wideMessage() Message {
	list := make([]any, 20)
	dict := make(map[string]any, 20)

	for i := range list {
		list[i] = int64(i * 1000)
		dict[fmt.Sprintf("k%02d", i)] = int64(-i * 70000)
	}

	return &Request{
		ID:     7,
		Method: "nvim_buf_set_lines",
		Params: []any{
			strings.Repeat("x", 300),
			strings.Repeat("y", 70_000),
			list,
			dict,
			int64(-100),
			int64(1 << 40),
			uint64(math.MaxUint64),
			2.25,
		},
	}
}

func TestDecode_WideHeadersInSmallChunks(t *testing.T) {
	want := wideMessage()
	stream := mustEncode(t, want)

	for _, size := range []int{1, 5, 4096} {
		c := New(0)

		var got []Message

		for start := 0; start < len(stream); start += size {
			end := min(start+size, len(stream))

			msgs, err := collect(t, c, stream[start:end])
			require.NoError(t, err)

			got = append(got, msgs...)
		}

		require.Equal(t, []Message{want}, got, "chunk size %d", size)
		require.NoError(t, c.Finish())
	}
}

func TestDecode_BinaryBecomesString(t *testing.T) {
	payload := strings.Repeat("z", 300)

	frame := mustEncode(t, &Notification{Method: "bin", Params: []any{[]byte(payload), []byte{}}})

	c := New(0)

	var got []Message

	for i := range frame {
		msgs, err := collect(t, c, frame[i:i+1])
		require.NoError(t, err)

		got = append(got, msgs...)
	}

	require.Len(t, got, 1)
	require.Equal(t, []any{payload, ""}, got[0].(*Notification).Params)
}

func TestDecode_PartialFrameScannedOnce(t *testing.T) {
	frame := mustEncode(t, wideMessage())

	c := New(0)

	msgs, err := collect(t, c, frame[:40_000])
	require.NoError(t, err)
	require.Empty(t, msgs)

	// The scan stopped at the 70000 byte string header and resumes there.
	resumeAt := c.scan.pos
	require.Positive(t, resumeAt)
	require.Less(t, resumeAt, 40_000)

	msgs, err = collect(t, c, frame[40_000:40_100])
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.Equal(t, resumeAt, c.scan.pos)

	msgs, err = collect(t, c, frame[40_100:])
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Zero(t, c.scan.pos)
}

func TestDecode_DeclaredLengthTooLarge(t *testing.T) {
	// fixarray(3), 2, str32 declaring 1 MiB, no payload yet.
	data := []byte{0x93, 0x02, 0xdb, 0x00, 0x10, 0x00, 0x00}

	c := New(1024)

	_, err := collect(t, c, data)

	malformedErr, ok := stderrors.AsType[*errors.MalformedFrameError](err)
	require.True(t, ok)
	require.Contains(t, malformedErr.Reason, "exceeds 1024 bytes")
}
