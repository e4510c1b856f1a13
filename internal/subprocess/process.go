package subprocess

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/wagiedev/nvim-bridge/internal/cli"
	"github.com/wagiedev/nvim-bridge/internal/config"
	"github.com/wagiedev/nvim-bridge/internal/errors"
)

const (
	// readBufferSize is the size of a single stdout read.
	readBufferSize = 64 * 1024
	// maxStderrBufferSize is the maximum size for the stderr buffer.
	// Stderr reading continues indefinitely (callback receives all lines),
	// but the buffer stops growing after this limit to prevent unbounded memory usage.
	maxStderrBufferSize = 1024 * 1024 // 1MB
	// closeGracePeriod is how long Close waits for nvim to exit after stdin
	// is closed before killing it.
	closeGracePeriod = 2 * time.Second
)

// ProcessTransport implements Transport by spawning nvim --embed.
type ProcessTransport struct {
	log            *slog.Logger
	options        *config.Options
	nvimPath       string
	args           []string
	cmd            *exec.Cmd
	stdin          io.WriteCloser
	stdout         io.ReadCloser
	stderr         io.ReadCloser
	stderrCallback func(string)

	writeMu sync.Mutex // Serializes frames on stdin

	mu          sync.Mutex // Protects the fields below
	closing     bool       // Whether Close() has been called (intentional shutdown)
	stdinClosed bool       // Whether stdin was closed
	reading     bool       // Whether ReadChunks owns cmd.Wait
	exited      chan struct{}
}

// Compile-time verification that ProcessTransport implements the Transport interface.
var _ config.Transport = (*ProcessTransport)(nil)

// NewProcessTransport creates a transport for the given options.
//
// Discovery is deferred to Start(), which returns NvimNotFoundError if the
// binary cannot be located and SpawnError if it cannot be started.
func NewProcessTransport(log *slog.Logger, options *config.Options) *ProcessTransport {
	if options == nil {
		options = &config.Options{}
	}

	return &ProcessTransport{
		log:            log.With("component", "process_transport"),
		options:        options,
		stderrCallback: options.Stderr,
		exited:         make(chan struct{}),
	}
}

// Start discovers nvim and spawns it with --embed.
//
// The process lives until Close is called or ctx is cancelled.
func (t *ProcessTransport) Start(ctx context.Context) error {
	t.log.Info("Starting nvim subprocess")

	discoverer := cli.NewDiscoverer(&cli.Config{
		NvimPath:         t.options.NvimPath,
		SkipVersionCheck: t.options.SkipVersionCheck,
		Logger:           t.log,
	})

	nvimPath, err := discoverer.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discover nvim: %w", err)
	}

	t.nvimPath = nvimPath
	t.args = cli.BuildArgs(t.options)
	t.log.Debug("Built command arguments", "args", t.args)

	cwd := t.options.Cwd
	if cwd == "" {
		cwd, err = os.Getwd()
		if err != nil {
			return &errors.SpawnError{Path: nvimPath, Err: fmt.Errorf("get working directory: %w", err)}
		}
	}

	//nolint:gosec // G204: Subprocess launching with dynamic args is expected
	cmd := exec.CommandContext(ctx, nvimPath, t.args...)
	cmd.Dir = cwd
	cmd.Env = cli.BuildEnvironment(t.options)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &errors.SpawnError{Path: nvimPath, Err: fmt.Errorf("stdin pipe: %w", err)}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &errors.SpawnError{Path: nvimPath, Err: fmt.Errorf("stdout pipe: %w", err)}
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &errors.SpawnError{Path: nvimPath, Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		t.log.Error("Failed to start nvim process", "error", err)

		return &errors.SpawnError{Path: nvimPath, Err: err}
	}

	t.mu.Lock()
	t.cmd = cmd
	t.stdin = stdin
	t.stdout = stdout
	t.stderr = stderr
	t.mu.Unlock()

	t.log.Info("nvim subprocess started", "pid", cmd.Process.Pid, "path", nvimPath, "cwd", cwd)

	return nil
}

// ReadChunks streams raw stdout bytes from nvim.
//
// Chunks carry no frame alignment. When stdout ends the process is reaped;
// an abnormal exit that was not caused by Close yields a ProcessError
// carrying the captured stderr.
func (t *ProcessTransport) ReadChunks(ctx context.Context) (<-chan []byte, <-chan error) {
	chunks := make(chan []byte)
	errs := make(chan error, 1)

	t.mu.Lock()
	cmd, stdout, stderr := t.cmd, t.stdout, t.stderr
	startReading := !t.reading && cmd != nil
	t.reading = t.reading || startReading
	t.mu.Unlock()

	if !startReading {
		errs <- errors.ErrTransportNotConnected

		close(chunks)
		close(errs)

		return chunks, errs
	}

	var (
		stderrWg     sync.WaitGroup
		stderrBuffer strings.Builder
		stderrMu     sync.Mutex
	)

	// Stderr reads must complete before cmd.Wait.
	stderrWg.Go(func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := scanner.Text()

			stderrMu.Lock()

			if stderrBuffer.Len() < maxStderrBufferSize {
				if stderrBuffer.Len() > 0 {
					stderrBuffer.WriteString("\n")
				}

				stderrBuffer.WriteString(line)
			}

			stderrMu.Unlock()

			if t.stderrCallback != nil {
				t.stderrCallback(line)
			}
		}

		if err := scanner.Err(); err != nil {
			t.log.Debug("Stderr scanner error", "error", err)
		}
	})

	go func() {
		defer close(chunks)
		defer close(errs)
		defer close(t.exited)
		defer t.log.Debug("ReadChunks goroutine stopped")

		readErr := t.pump(ctx, stdout, chunks)

		stderrWg.Wait()

		t.log.Debug("Waiting for nvim process to exit")

		waitErr := cmd.Wait()

		t.mu.Lock()
		isClosing := t.closing
		t.mu.Unlock()

		switch {
		case isClosing:
			t.log.Debug("nvim process terminated during shutdown")
		case waitErr != nil:
			stderrMu.Lock()
			stderrOutput := strings.TrimSpace(stderrBuffer.String())
			stderrMu.Unlock()

			exitCode := -1
			if exitErr, ok := stderrors.AsType[*exec.ExitError](waitErr); ok {
				exitCode = exitErr.ExitCode()
			}

			t.log.Error("nvim process exited with error", "exit_code", exitCode, "stderr", stderrOutput)

			errs <- &errors.ProcessError{
				ExitCode: exitCode,
				Stderr:   stderrOutput,
				Err:      waitErr,
			}
		case readErr != nil:
			errs <- readErr
		default:
			t.log.Info("nvim process exited")
		}
	}()

	return chunks, errs
}

// pump copies stdout into chunks until EOF, a read error or cancellation.
func (t *ProcessTransport) pump(ctx context.Context, stdout io.Reader, chunks chan<- []byte) error {
	buf := make([]byte, readBufferSize)

	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			select {
			case chunks <- chunk:
			case <-ctx.Done():
				t.log.Debug("Context cancelled during chunk send", "error", ctx.Err())

				// Drain so the process does not block on a full stdout pipe.
				_, _ = io.Copy(io.Discard, stdout)

				return ctx.Err()
			}
		}

		if err != nil {
			if err == io.EOF || stderrors.Is(err, os.ErrClosed) {
				return nil
			}

			t.log.Debug("stdout read error", "error", err)

			return fmt.Errorf("read stdout: %w", err)
		}
	}
}

// Write sends one encoded frame to nvim's stdin.
//
// Frames from concurrent callers never interleave. The call blocks while the
// pipe is full. If ctx is cancelled during a blocked write, stdin is closed
// since the peer may have received a partial frame; later writes return
// ErrStdinClosed.
func (t *ProcessTransport) Write(ctx context.Context, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.Lock()
	stdin, stdinClosed := t.stdin, t.stdinClosed
	t.mu.Unlock()

	if stdinClosed {
		return errors.ErrStdinClosed
	}

	if stdin == nil {
		return errors.ErrTransportNotConnected
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)

	go func() {
		_, err := stdin.Write(data)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.log.Debug("Failed to write frame", "error", err)

			return fmt.Errorf("write to stdin: %w", err)
		}

		return nil

	case <-ctx.Done():
		t.log.Debug("Context cancelled during write, closing stdin")

		t.mu.Lock()
		_ = stdin.Close()
		t.stdinClosed = true
		t.mu.Unlock()

		select {
		case <-done:
		case <-time.After(1 * time.Second):
			t.log.Warn("Write goroutine did not exit after stdin close, potential leak")
		}

		return ctx.Err()
	}
}

// IsReady returns true if the process is running and stdin is open.
func (t *ProcessTransport) IsReady() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.cmd != nil && t.cmd.Process != nil && t.stdin != nil && !t.stdinClosed && !t.closing
}

// EndInput closes nvim's stdin. An embedded nvim exits when its input ends.
func (t *ProcessTransport) EndInput() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.closeStdinLocked()
}

func (t *ProcessTransport) closeStdinLocked() error {
	if t.stdin == nil || t.stdinClosed {
		return nil
	}

	t.log.Debug("Closing stdin pipe")

	t.stdinClosed = true

	return t.stdin.Close()
}

// Close ends nvim's input and waits briefly for it to exit, then kills it.
// It does not wait for blocked writers. It's safe to call Close multiple times.
func (t *ProcessTransport) Close() error {
	t.mu.Lock()

	if t.closing {
		t.mu.Unlock()

		return nil
	}

	t.closing = true
	_ = t.closeStdinLocked()

	cmd, reading := t.cmd, t.reading

	t.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if reading {
		select {
		case <-t.exited:
			return nil
		case <-time.After(closeGracePeriod):
		}
	}

	t.log.Debug("Killing nvim process", "pid", cmd.Process.Pid)

	if err := cmd.Process.Kill(); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill nvim process (pid %d): %w", cmd.Process.Pid, err)
	}

	if !reading {
		_ = cmd.Wait()
	}

	return nil
}
