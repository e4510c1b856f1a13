package nvimbridge

import "github.com/wagiedev/nvim-bridge/internal/errors"

// Re-export error types from internal package

// NvimNotFoundError indicates the nvim binary was not found.
type NvimNotFoundError = errors.NvimNotFoundError

// SpawnError indicates the nvim process could not be started.
type SpawnError = errors.SpawnError

// ProcessError indicates the nvim process exited abnormally.
type ProcessError = errors.ProcessError

// MalformedFrameError indicates nvim sent bytes that are not a valid RPC frame.
type MalformedFrameError = errors.MalformedFrameError

// ConnectionLostError is how outstanding calls fail when the session ends.
type ConnectionLostError = errors.ConnectionLostError

// RemoteError indicates nvim answered a call with an error.
type RemoteError = errors.RemoteError

// ProtocolWarning describes an unexpected but non-fatal message.
type ProtocolWarning = errors.ProtocolWarning

// BridgeError is the base interface for all bridge errors.
type BridgeError = errors.BridgeError

// Re-export sentinel errors from internal package.
var (
	// ErrSessionClosed indicates the RPC session has closed.
	ErrSessionClosed = errors.ErrSessionClosed

	// ErrConnectionLost matches every ConnectionLostError.
	ErrConnectionLost = errors.ErrConnectionLost

	// ErrBridgeClosed indicates the bridge has been closed and cannot be reused.
	ErrBridgeClosed = errors.ErrBridgeClosed

	// ErrBridgeAlreadyStarted indicates Start was called twice.
	ErrBridgeAlreadyStarted = errors.ErrBridgeAlreadyStarted

	// ErrBridgeNotStarted indicates the bridge has not been started.
	ErrBridgeNotStarted = errors.ErrBridgeNotStarted

	// ErrTransportNotConnected indicates the transport is not connected.
	ErrTransportNotConnected = errors.ErrTransportNotConnected

	// ErrRequestTimeout indicates a call timed out.
	ErrRequestTimeout = errors.ErrRequestTimeout

	// ErrStdinClosed indicates nvim's stdin was closed after a cancelled write.
	ErrStdinClosed = errors.ErrStdinClosed

	// ErrMethodNotFound is returned to nvim for requests without a handler.
	ErrMethodNotFound = errors.ErrMethodNotFound
)
