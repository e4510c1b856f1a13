package nvimbridge

import (
	"context"
	"fmt"
)

// WithBridge manages bridge lifecycle with automatic cleanup.
//
// This helper creates a bridge, starts it, executes the callback function,
// and ensures proper cleanup via Close() when done.
//
// The callback receives a Bridge whose handshake has completed.
// If the callback returns an error, it is returned to the caller.
// If Close() fails, a warning is logged but does not override the callback's error.
//
// Example usage:
//
//	err := nvimbridge.WithBridge(ctx, func(b nvimbridge.Bridge) error {
//	    return b.Notify(ctx, "nvim_input", "ihello<Esc>")
//	},
//	    nvimbridge.WithLogger(log),
//	    nvimbridge.WithArgs("--clean"),
//	)
func WithBridge(ctx context.Context, fn func(Bridge) error, opts ...Option) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	options := applyOptions(opts)

	log := options.Logger
	if log == nil {
		log = NopLogger()
	}

	b := New(opts...)

	defer func() {
		if closeErr := b.Close(); closeErr != nil {
			log.Warn("failed to close bridge", "error", closeErr)
		}
	}()

	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("failed to start bridge: %w", err)
	}

	return fn(b)
}
