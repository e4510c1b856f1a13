package errors

import (
	"errors"
	"fmt"
	"strings"
)

// BridgeError is the base interface for all bridge errors.
type BridgeError interface {
	error
	IsBridgeError() bool
}

// Compile-time verification that all error types implement BridgeError.
var (
	_ BridgeError = (*NvimNotFoundError)(nil)
	_ BridgeError = (*SpawnError)(nil)
	_ BridgeError = (*ProcessError)(nil)
	_ BridgeError = (*MalformedFrameError)(nil)
	_ BridgeError = (*ConnectionLostError)(nil)
	_ BridgeError = (*RemoteError)(nil)
	_ BridgeError = (*ProtocolWarning)(nil)
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrSessionClosed indicates an operation was attempted after the RPC session closed.
	ErrSessionClosed = errors.New("rpc session closed")

	// ErrConnectionLost indicates the transport closed or failed while calls were outstanding.
	ErrConnectionLost = errors.New("connection lost")

	// ErrBridgeClosed indicates the bridge has been closed and cannot be reused.
	ErrBridgeClosed = errors.New("bridge closed: bridges are single-use, create a new one with New()")

	// ErrBridgeAlreadyStarted indicates Start was called twice.
	ErrBridgeAlreadyStarted = errors.New("bridge already started")

	// ErrBridgeNotStarted indicates the bridge has not been started.
	ErrBridgeNotStarted = errors.New("bridge not started")

	// ErrTransportNotConnected indicates the transport is not connected.
	ErrTransportNotConnected = errors.New("transport not connected")

	// ErrRequestTimeout indicates a call did not complete within its timeout.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrStdinClosed indicates stdin was closed due to context cancellation.
	ErrStdinClosed = errors.New("stdin closed")

	// ErrMethodNotFound indicates no handler is registered for an inbound request.
	ErrMethodNotFound = errors.New("method not found")
)

// NvimNotFoundError indicates the nvim binary was not found.
type NvimNotFoundError struct {
	SearchedPaths []string
}

func (e *NvimNotFoundError) Error() string {
	return fmt.Sprintf("nvim not found in: %v", e.SearchedPaths)
}

// IsBridgeError implements BridgeError.
func (e *NvimNotFoundError) IsBridgeError() bool { return true }

// SpawnError indicates the editor subprocess could not be started.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("failed to spawn %s: %v", e.Path, e.Err)
	}

	return fmt.Sprintf("failed to spawn editor process: %v", e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// IsBridgeError implements BridgeError.
func (e *SpawnError) IsBridgeError() bool { return true }

// ProcessError indicates the editor process exited abnormally.
type ProcessError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("nvim process failed (exit %d): %v", e.ExitCode, e.Err)
	}

	return fmt.Sprintf("nvim process failed (exit %d): %s", e.ExitCode, e.Stderr)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// IsBridgeError implements BridgeError.
func (e *ProcessError) IsBridgeError() bool { return true }

// MalformedFrameError indicates the byte stream did not contain a valid RPC frame.
type MalformedFrameError struct {
	Reason string
	Err    error
}

func (e *MalformedFrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed frame: %s: %v", e.Reason, e.Err)
	}

	return "malformed frame: " + e.Reason
}

func (e *MalformedFrameError) Unwrap() error {
	return e.Err
}

// IsBridgeError implements BridgeError.
func (e *MalformedFrameError) IsBridgeError() bool { return true }

// ConnectionLostError is the failure every outstanding call resolves with
// when the session terminates. Err holds the termination cause.
type ConnectionLostError struct {
	Err error
}

func (e *ConnectionLostError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection lost: %v", e.Err)
	}

	return "connection lost"
}

func (e *ConnectionLostError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrConnectionLost.
func (e *ConnectionLostError) Is(target error) bool {
	return target == ErrConnectionLost
}

// IsBridgeError implements BridgeError.
func (e *ConnectionLostError) IsBridgeError() bool { return true }

// RemoteError is the failure of a single call whose response carried an error value.
type RemoteError struct {
	Method string
	Value  any
}

func (e *RemoteError) Error() string {
	if e.Method == "" {
		return e.Message()
	}

	return fmt.Sprintf("%s: %s", e.Method, e.Message())
}

// Message extracts a human readable message from the error value.
//
// Neovim reports API errors as a two element array of [type, message].
func (e *RemoteError) Message() string {
	switch v := e.Value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case []any:
		if len(v) == 2 {
			switch msg := v[1].(type) {
			case string:
				return msg
			case []byte:
				return string(msg)
			}
		}

		parts := make([]string, 0, len(v))
		for _, p := range v {
			parts = append(parts, fmt.Sprint(p))
		}

		return strings.Join(parts, " ")
	case map[string]any:
		if msg, ok := v["message"].(string); ok {
			return msg
		}
	}

	return fmt.Sprint(e.Value)
}

// IsBridgeError implements BridgeError.
func (e *RemoteError) IsBridgeError() bool { return true }

// ProtocolWarning describes an unexpected but non-fatal message.
// The session reports it and keeps running.
type ProtocolWarning struct {
	Reason string
	ID     uint64
	Method string
}

func (w *ProtocolWarning) Error() string {
	switch {
	case w.Method != "":
		return fmt.Sprintf("protocol warning: %s (method %s)", w.Reason, w.Method)
	case w.ID != 0:
		return fmt.Sprintf("protocol warning: %s (id %d)", w.Reason, w.ID)
	default:
		return "protocol warning: " + w.Reason
	}
}

// IsBridgeError implements BridgeError.
func (w *ProtocolWarning) IsBridgeError() bool { return true }
