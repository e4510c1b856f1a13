package subprocess

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagiedev/nvim-bridge/internal/config"
	"github.com/wagiedev/nvim-bridge/internal/errors"
)

const helperModeEnv = "NVIM_BRIDGE_TEST_HELPER"

// TestMain lets the test binary stand in for nvim. When helperModeEnv is set
// the binary runs a tiny fake editor instead of the tests.
func TestMain(m *testing.M) {
	if mode := os.Getenv(helperModeEnv); mode != "" {
		os.Exit(runHelper(mode))
	}

	os.Exit(m.Run())
}

func runHelper(mode string) int {
	switch mode {
	case "echo":
		if len(os.Args) < 2 || os.Args[1] != "--embed" {
			fmt.Fprintln(os.Stderr, "missing --embed")

			return 2
		}

		_, _ = io.Copy(os.Stdout, os.Stdin)

		return 0
	case "crash":
		fmt.Fprintln(os.Stderr, "E5113: Error while calling lua chunk")
		fmt.Fprintln(os.Stderr, "stack traceback")

		return 3
	case "hang":
		// Ignores stdin EOF so Close has to kill it.
		time.Sleep(time.Hour)

		return 0
	default:
		return 1
	}
}

func helperOptions(mode string, stderr func(string)) *config.Options {
	return &config.Options{
		NvimPath:         os.Args[0],
		SkipVersionCheck: true,
		Env:              map[string]string{helperModeEnv: mode},
		Stderr:           stderr,
	}
}

func collect(t *testing.T, chunks <-chan []byte, errs <-chan error) ([]byte, error) {
	t.Helper()

	var (
		out      bytes.Buffer
		firstErr error
	)

	timeout := time.After(5 * time.Second)

	for chunks != nil || errs != nil {
		select {
		case c, ok := <-chunks:
			if !ok {
				chunks = nil

				continue
			}

			out.Write(c)
		case err, ok := <-errs:
			if !ok {
				errs = nil

				continue
			}

			if firstErr == nil {
				firstErr = err
			}
		case <-timeout:
			t.Fatal("transport did not finish")
		}
	}

	return out.Bytes(), firstErr
}

// TestProcessTransport_EchoRoundTrip tests that written frames come back on stdout.
func TestProcessTransport_EchoRoundTrip(t *testing.T) {
	transport := NewProcessTransport(slog.Default(), helperOptions("echo", nil))

	ctx := context.Background()
	require.NoError(t, transport.Start(ctx))
	require.True(t, transport.IsReady())

	chunks, errs := transport.ReadChunks(ctx)

	require.NoError(t, transport.Write(ctx, []byte("hello ")))
	require.NoError(t, transport.Write(ctx, []byte("nvim")))
	require.NoError(t, transport.EndInput())
	require.False(t, transport.IsReady())

	out, err := collect(t, chunks, errs)
	require.NoError(t, err)
	require.Equal(t, "hello nvim", string(out))

	require.ErrorIs(t, transport.Write(ctx, []byte("late")), errors.ErrStdinClosed)
	require.NoError(t, transport.Close())
}

// TestProcessTransport_AbnormalExit tests that a crash yields ProcessError with stderr.
func TestProcessTransport_AbnormalExit(t *testing.T) {
	var (
		mu    sync.Mutex
		lines []string
	)

	transport := NewProcessTransport(slog.Default(), helperOptions("crash", func(line string) {
		mu.Lock()
		defer mu.Unlock()

		lines = append(lines, line)
	}))

	ctx := context.Background()
	require.NoError(t, transport.Start(ctx))

	chunks, errs := transport.ReadChunks(ctx)

	_, err := collect(t, chunks, errs)
	require.Error(t, err)

	procErr, ok := stderrors.AsType[*errors.ProcessError](err)
	require.True(t, ok, "expected ProcessError, got %T", err)
	require.Equal(t, 3, procErr.ExitCode)
	require.Contains(t, procErr.Stderr, "E5113")

	mu.Lock()
	defer mu.Unlock()

	require.Equal(t, []string{"E5113: Error while calling lua chunk", "stack traceback"}, lines)
}

// TestProcessTransport_CloseKillsHungProcess tests that Close kills a process
// that ignores end of input, without reporting an error.
func TestProcessTransport_CloseKillsHungProcess(t *testing.T) {
	transport := NewProcessTransport(slog.Default(), helperOptions("hang", nil))

	ctx := context.Background()
	require.NoError(t, transport.Start(ctx))

	chunks, errs := transport.ReadChunks(ctx)

	closeErr := make(chan error, 1)

	go func() { closeErr <- transport.Close() }()

	_, err := collect(t, chunks, errs)
	require.NoError(t, err)
	require.NoError(t, <-closeErr)

	// Idempotent
	require.NoError(t, transport.Close())
}

// TestProcessTransport_NotFound tests that a missing binary surfaces NvimNotFoundError.
func TestProcessTransport_NotFound(t *testing.T) {
	transport := NewProcessTransport(slog.Default(), &config.Options{
		NvimPath: "/nonexistent/nvim",
	})

	err := transport.Start(context.Background())
	require.Error(t, err)

	_, ok := stderrors.AsType[*errors.NvimNotFoundError](err)
	require.True(t, ok)
}

// TestProcessTransport_SpawnFailure tests that an unexecutable binary yields SpawnError.
func TestProcessTransport_SpawnFailure(t *testing.T) {
	options := helperOptions("echo", nil)
	options.Cwd = "/nonexistent/path/that/does/not/exist"

	transport := NewProcessTransport(slog.Default(), options)

	err := transport.Start(context.Background())
	require.Error(t, err)

	spawnErr, ok := stderrors.AsType[*errors.SpawnError](err)
	require.True(t, ok, "expected SpawnError, got %T", err)
	require.Equal(t, os.Args[0], spawnErr.Path)
}

// TestTransport_BeforeStart tests the error paths of an unstarted transport.
func TestTransport_BeforeStart(t *testing.T) {
	transport := NewProcessTransport(slog.Default(), nil)

	require.False(t, transport.IsReady())
	require.NoError(t, transport.Close())
	require.NoError(t, transport.EndInput())

	chunks, errs := transport.ReadChunks(context.Background())

	_, err := collect(t, chunks, errs)
	require.ErrorIs(t, err, errors.ErrTransportNotConnected)
}

// TestWrite_NotConnected tests that writes before Start fail.
func TestWrite_NotConnected(t *testing.T) {
	transport := &ProcessTransport{log: slog.Default()}

	err := transport.Write(context.Background(), []byte{0x93})
	require.ErrorIs(t, err, errors.ErrTransportNotConnected)
}

// TestWrite_ConcurrentFramesDoNotInterleave tests that concurrent writes are serialized.
func TestWrite_ConcurrentFramesDoNotInterleave(t *testing.T) {
	reader, writer := io.Pipe()
	defer reader.Close()

	transport := &ProcessTransport{
		log:   slog.Default(),
		stdin: writer,
	}

	const (
		numWriters = 10
		frameSize  = 4096
	)

	received := make(chan []byte, 1)

	go func() {
		data, _ := io.ReadAll(reader)
		received <- data
	}()

	var wg sync.WaitGroup

	for i := range numWriters {
		wg.Go(func() {
			frame := bytes.Repeat([]byte(strconv.Itoa(i)), frameSize)
			assert.NoError(t, transport.Write(context.Background(), frame))
		})
	}

	wg.Wait()
	require.NoError(t, writer.Close())

	data := <-received
	require.Len(t, data, numWriters*frameSize)

	for off := 0; off < len(data); off += frameSize {
		frame := data[off : off+frameSize]
		require.Equal(t, bytes.Repeat(frame[:1], frameSize), frame, "frame at %d interleaved", off)
	}
}

// TestWrite_ContextCancelDuringBlockedWrite tests that a blocked write honours
// cancellation and poisons stdin.
func TestWrite_ContextCancelDuringBlockedWrite(t *testing.T) {
	reader, writer := io.Pipe()
	defer reader.Close()

	transport := &ProcessTransport{
		log:   slog.Default(),
		stdin: writer,
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	go func() {
		errCh <- transport.Write(ctx, make([]byte, 128*1024))
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Write did not respect context cancellation")
	}

	err := transport.Write(context.Background(), []byte{0x90})
	require.ErrorIs(t, err, errors.ErrStdinClosed)
}

// TestWrite_CancelledContext tests that an already cancelled context fails fast.
func TestWrite_CancelledContext(t *testing.T) {
	reader, writer := io.Pipe()
	defer reader.Close()
	defer writer.Close()

	transport := &ProcessTransport{
		log:   slog.Default(),
		stdin: writer,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, transport.Write(ctx, []byte{0x90}), context.Canceled)
}
