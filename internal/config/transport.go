// Package config provides configuration types for the Neovim bridge.
package config

import "context"

// Transport defines the interface for the byte stream to the editor process.
// Implement this to provide custom transports for testing, mocking,
// or alternative connections (e.g., a socket to a running nvim --listen).
//
// The default implementation is ProcessTransport which spawns a subprocess.
// Custom transports can be injected via Options.Transport.
type Transport interface {
	// Start initializes the transport and prepares it for communication.
	// This is called before any bytes are sent or received.
	Start(ctx context.Context) error

	// ReadChunks returns channels for receiving raw bytes and errors.
	// Chunks arrive in stream order with arbitrary boundaries.
	// The error channel yields at most one terminal error.
	// Both channels are closed when the stream ends.
	ReadChunks(ctx context.Context) (<-chan []byte, <-chan error)

	// Write sends one complete frame. It blocks while the peer applies
	// backpressure and must be safe for concurrent use; frames from
	// concurrent writers must not interleave.
	Write(ctx context.Context, data []byte) error

	// Close terminates the transport and releases resources.
	// It's safe to call Close multiple times.
	Close() error

	// IsReady reports whether Write can reach nvim. The bridge refuses
	// requests, notifications and nvim-bound UI commands while it is false.
	IsReady() bool

	// EndInput signals that no more input will be sent. The bridge calls it
	// first when closing; for a process this closes stdin, which makes an
	// embedded nvim exit.
	EndInput() error
}
