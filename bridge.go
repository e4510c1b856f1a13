package nvimbridge

import (
	"context"

	"github.com/wagiedev/nvim-bridge/internal/bridge"
)

// Bridge connects an embedded nvim to a UI surface.
//
// Lifecycle: Bridges are single-use. After Close(), create a new one with New().
//
// Example usage:
//
//	b := New(WithSurface(surface))
//	defer b.Close()
//
//	if err := b.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	for raw, err := range port.Commands(ctx) {
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    _ = b.HandleMessage(ctx, raw)
//	}
type Bridge interface {
	// Start spawns nvim and performs the API handshake.
	// Emits system/ready on success and system/error on failure.
	// Returns NvimNotFoundError if nvim is not installed.
	Start(ctx context.Context) error

	// HandleMessage decodes a JSON command from the UI and dispatches it.
	HandleMessage(ctx context.Context, raw []byte) error

	// Dispatch executes one UI command. Invalid command data is reported
	// as a system/error event and returned.
	Dispatch(ctx context.Context, cmd Command) error

	// Request calls an nvim API method and waits for its result.
	Request(ctx context.Context, method string, params ...any) (any, error)

	// Notify sends an nvim API notification.
	Notify(ctx context.Context, method string, params ...any) error

	// OnRequest registers a handler for requests nvim sends to the bridge.
	// Returns true if an existing handler was replaced.
	OnRequest(method string, handler RequestHandler) bool

	// Info returns the handshake result, or nil before the bridge is ready.
	Info() *APIInfo

	// SessionID returns the unique id of the RPC session.
	SessionID() string

	// Done is closed when the connection to nvim ends.
	Done() <-chan struct{}

	// Err returns why the connection ended, or nil while it is open.
	Err() error

	// Close terminates nvim and cleans up resources.
	// After Close(), the bridge cannot be reused. Safe to call multiple times.
	Close() error
}

// Compile-time check that the internal bridge implements the Bridge interface.
var _ Bridge = (*bridge.Bridge)(nil)

// New creates a bridge. Nothing is spawned until Start.
//
//	b := New(
//	    WithLogger(slog.Default()),
//	    WithSurface(surface),
//	)
func New(opts ...Option) Bridge {
	return bridge.New(applyOptions(opts))
}
