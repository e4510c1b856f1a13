package uiport

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagiedev/nvim-bridge/internal/config"
	"github.com/wagiedev/nvim-bridge/internal/event"
)

func readAll(t *testing.T, port *Port) ([]string, error) {
	t.Helper()

	var (
		got     []string
		lastErr error
	)

	for msg, err := range port.Commands(context.Background()) {
		if err != nil {
			lastErr = err

			break
		}

		got = append(got, string(msg))
	}

	return got, lastErr
}

func frame(payload string) []byte {
	var buf bytes.Buffer

	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(payload)))
	buf.WriteString(payload)

	return buf.Bytes()
}

func TestNew_UnknownFraming(t *testing.T) {
	_, err := New(slog.Default(), strings.NewReader(""), io.Discard, "xml")
	require.Error(t, err)
}

func TestCommands_Lines(t *testing.T) {
	input := `{"command":"input","data":"i"}` + "\n\n  \n" + `{"command":"bell"}` + "\n" + `{"command":"detach"}`

	port, err := New(slog.Default(), strings.NewReader(input), io.Discard, config.FramingLines)
	require.NoError(t, err)

	got, err := readAll(t, port)
	require.NoError(t, err)
	require.Equal(t, []string{
		`{"command":"input","data":"i"}`,
		`{"command":"bell"}`,
		`{"command":"detach"}`,
	}, got)
}

func TestCommands_Frames(t *testing.T) {
	var input bytes.Buffer

	input.Write(frame(`{"command":"attach","data":{"columns":80,"lines":24}}`))
	input.Write(frame(`{"command":"bell"}`))

	port, err := New(slog.Default(), &input, io.Discard, config.FramingFrames)
	require.NoError(t, err)

	got, err := readAll(t, port)
	require.NoError(t, err)
	require.Equal(t, []string{
		`{"command":"attach","data":{"columns":80,"lines":24}}`,
		`{"command":"bell"}`,
	}, got)
}

func TestCommands_TruncatedFrame(t *testing.T) {
	data := frame(`{"command":"bell"}`)

	port, err := New(slog.Default(), bytes.NewReader(data[:len(data)-3]), io.Discard, config.FramingFrames)
	require.NoError(t, err)

	got, err := readAll(t, port)
	require.Empty(t, got)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestCommands_OversizedFrame(t *testing.T) {
	var buf bytes.Buffer

	_ = binary.Write(&buf, binary.LittleEndian, uint32(MaxMessageSize+1))

	port, err := New(slog.Default(), &buf, io.Discard, config.FramingFrames)
	require.NoError(t, err)

	_, err = readAll(t, port)
	require.ErrorContains(t, err, "exceeds")
}

func TestCommands_CancelledContext(t *testing.T) {
	port, err := New(slog.Default(), strings.NewReader(`{"command":"bell"}`+"\n"), io.Discard, config.FramingLines)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, err := range port.Commands(ctx) {
		require.ErrorIs(t, err, context.Canceled)
	}
}

func TestEmit_Lines(t *testing.T) {
	var out bytes.Buffer

	port, err := New(slog.Default(), strings.NewReader(""), &out, config.FramingLines)
	require.NoError(t, err)

	port.Emit(event.Event{Scope: "redraw", Name: "grid_line", Payload: []any{1, 2}})
	port.SetTitle("init.lua - NVIM")
	port.Bell()

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Equal(t, []string{
		`{"scope":"redraw","name":"grid_line","payload":[1,2]}`,
		`{"scope":"window","name":"title","payload":"init.lua - NVIM"}`,
		`{"scope":"window","name":"bell","payload":null}`,
	}, lines)
}

func TestEmit_FramesRoundTrip(t *testing.T) {
	var out bytes.Buffer

	writer, err := New(slog.Default(), strings.NewReader(""), &out, config.FramingFrames)
	require.NoError(t, err)

	require.NoError(t, writer.Send(event.Event{Scope: event.ScopeSystem, Name: event.NameReady, Payload: "ok"}))

	reader, err := New(slog.Default(), &out, io.Discard, config.FramingFrames)
	require.NoError(t, err)

	got, err := readAll(t, reader)
	require.NoError(t, err)
	require.Len(t, got, 1)

	var ev event.Event
	require.NoError(t, json.Unmarshal([]byte(got[0]), &ev))
	require.Equal(t, event.Event{Scope: "system", Name: "ready", Payload: "ok"}, ev)
}

func TestSend_UnencodablePayload(t *testing.T) {
	port, err := New(slog.Default(), strings.NewReader(""), io.Discard, config.FramingLines)
	require.NoError(t, err)

	err = port.Send(event.Event{Scope: "x", Name: "y", Payload: make(chan int)})
	require.ErrorContains(t, err, "marshal x/y event")
}

func TestSend_ConcurrentEventsDoNotInterleave(t *testing.T) {
	reader, writer := io.Pipe()

	port, err := New(slog.Default(), strings.NewReader(""), writer, config.FramingLines)
	require.NoError(t, err)

	const numEmitters = 20

	payload := strings.Repeat("x", 8192)

	var wg sync.WaitGroup

	for range numEmitters {
		wg.Go(func() {
			assert.NoError(t, port.Send(event.Event{Scope: "redraw", Name: "grid_line", Payload: payload}))
		})
	}

	go func() {
		wg.Wait()
		_ = writer.Close()
	}()

	decoded := 0

	dec := json.NewDecoder(reader)
	for dec.More() {
		var ev event.Event
		require.NoError(t, dec.Decode(&ev))
		require.Equal(t, payload, ev.Payload)

		decoded++
	}

	require.Equal(t, numEmitters, decoded)
}
