package config

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/wagiedev/nvim-bridge/internal/event"
)

const (
	// DefaultHandshakeTimeout bounds the initial nvim_get_api_info call.
	DefaultHandshakeTimeout = 10 * time.Second
)

// Options configures the behavior of the bridge.
type Options struct {
	// Logger is the slog logger for debug output.
	// If nil, logging is disabled (silent operation).
	Logger *slog.Logger

	// NvimPath is the explicit path to the nvim binary.
	// If empty, nvim is searched in PATH and common install locations.
	NvimPath string

	// Args are extra arguments appended after --embed.
	Args []string

	// Cwd sets the working directory for the nvim process.
	Cwd string

	// Env provides additional environment variables for the nvim process.
	Env map[string]string

	// Stderr is a callback function for handling stderr output.
	Stderr func(string)

	// SkipVersionCheck skips the nvim --version check during discovery.
	SkipVersionCheck bool

	// Transport allows injecting a custom transport implementation.
	// If nil, the default ProcessTransport is used.
	Transport Transport

	// Surface receives UI events and cosmetic effects.
	// If nil, events are discarded.
	Surface event.Surface

	// HandshakeTimeout bounds the initial API info request.
	// Zero selects DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// CallTimeout bounds every call issued on behalf of UI commands.
	// Zero means no per-call timeout.
	CallTimeout time.Duration

	// MaxFrameSize bounds a single inbound frame in bytes.
	// Zero selects the codec default.
	MaxFrameSize int

	// MeterProvider supplies the meter for RPC metrics.
	// If nil, metrics are not recorded.
	MeterProvider metric.MeterProvider
}

// GetHandshakeTimeout returns the configured handshake timeout or the default.
func (o *Options) GetHandshakeTimeout() time.Duration {
	if o == nil || o.HandshakeTimeout <= 0 {
		return DefaultHandshakeTimeout
	}

	return o.HandshakeTimeout
}
