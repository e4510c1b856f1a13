package nvimbridge

import (
	"log/slog"
	"maps"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/wagiedev/nvim-bridge/internal/config"
)

// Options configures a bridge. Most callers use the With* functions instead.
type Options = config.Options

// Option configures Options using the functional options pattern.
type Option func(*Options)

// applyOptions applies functional options to an Options struct.
func applyOptions(opts []Option) *Options {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	return options
}

// ===== Basic Configuration =====

// WithLogger sets the logger for debug output.
// If not set, logging is disabled (silent operation).
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithSurface sets the UI surface that receives events.
// If not set, events are discarded.
func WithSurface(surface Surface) Option {
	return func(o *Options) {
		o.Surface = surface
	}
}

// ===== Process =====

// WithNvimPath sets the explicit path to the nvim binary.
// If not set, nvim is searched in PATH and common install locations.
func WithNvimPath(path string) Option {
	return func(o *Options) {
		o.NvimPath = path
	}
}

// WithArgs appends arguments after --embed, e.g. "-u", "NONE" or files to open.
func WithArgs(args ...string) Option {
	return func(o *Options) {
		o.Args = append(o.Args, args...)
	}
}

// WithCwd sets the working directory for the nvim process.
func WithCwd(cwd string) Option {
	return func(o *Options) {
		o.Cwd = cwd
	}
}

// WithEnv adds environment variables for the nvim process.
// Repeated calls merge; later values win.
func WithEnv(env map[string]string) Option {
	return func(o *Options) {
		if o.Env == nil {
			o.Env = make(map[string]string, len(env))
		}

		maps.Copy(o.Env, env)
	}
}

// WithStderr sets a callback invoked with each line nvim writes to stderr.
func WithStderr(handler func(string)) Option {
	return func(o *Options) {
		o.Stderr = handler
	}
}

// WithSkipVersionCheck disables the nvim --version check during discovery.
func WithSkipVersionCheck(skip bool) Option {
	return func(o *Options) {
		o.SkipVersionCheck = skip
	}
}

// WithTransport injects a custom transport instead of spawning nvim.
func WithTransport(transport Transport) Option {
	return func(o *Options) {
		o.Transport = transport
	}
}

// ===== RPC =====

// WithHandshakeTimeout bounds the initial nvim_get_api_info call.
// Defaults to 10 seconds.
func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.HandshakeTimeout = timeout
	}
}

// WithCallTimeout bounds every call issued by the bridge.
// Zero, the default, waits until nvim answers or the session ends.
func WithCallTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.CallTimeout = timeout
	}
}

// WithMaxFrameSize bounds a single inbound frame in bytes.
func WithMaxFrameSize(size int) Option {
	return func(o *Options) {
		o.MaxFrameSize = size
	}
}

// WithMeterProvider records RPC metrics with the given provider.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(o *Options) {
		o.MeterProvider = provider
	}
}
