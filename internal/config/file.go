package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Framing modes for the UI stream.
const (
	FramingLines  = "lines"
	FramingFrames = "frames"
)

// Duration is a time.Duration read from a TOML string such as "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}

	d.Duration = v

	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// NvimConfig defines how the editor process is spawned.
type NvimConfig struct {
	Path             string            `toml:"path"`
	Args             []string          `toml:"args"`
	Cwd              string            `toml:"cwd"`
	Env              map[string]string `toml:"env"`
	SkipVersionCheck bool              `toml:"skipVersionCheck"`
}

// RPCConfig defines session tuning knobs.
type RPCConfig struct {
	HandshakeTimeout Duration `toml:"handshakeTimeout"`
	CallTimeout      Duration `toml:"callTimeout"`
	MaxFrameSize     int      `toml:"maxFrameSize"`
}

// UIConfig defines the UI stream settings.
type UIConfig struct {
	Framing string `toml:"framing"`
}

// LogConfig defines basic logging knobs.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig defines the stdout metrics exporter.
type MetricsConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval Duration `toml:"interval"`
}

// FileConfig is the on-disk configuration of the nvim-bridge command.
type FileConfig struct {
	Nvim    NvimConfig    `toml:"nvim"`
	RPC     RPCConfig     `toml:"rpc"`
	UI      UIConfig      `toml:"ui"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
}

// DefaultFileConfig returns a FileConfig with every default filled in.
func DefaultFileConfig() *FileConfig {
	cfg := &FileConfig{}
	_ = cfg.Validate()

	return cfg
}

// LoadFile reads a TOML config from path. Unknown keys are rejected.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return ParseFile(data)
}

// ParseFile decodes and validates TOML config data.
func ParseFile(data []byte) (*FileConfig, error) {
	var cfg FileConfig

	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}

		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate fills defaults and rejects invalid values.
func (cfg *FileConfig) Validate() error {
	switch cfg.UI.Framing {
	case "":
		cfg.UI.Framing = FramingLines
	case FramingLines, FramingFrames:
	default:
		return fmt.Errorf("ui.framing must be %q or %q, got %q", FramingLines, FramingFrames, cfg.UI.Framing)
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "":
		cfg.Log.Level = "info"
	case "debug", "info", "warn", "error":
		cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", cfg.Log.Level)
	}

	switch cfg.Log.Format {
	case "":
		cfg.Log.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", cfg.Log.Format)
	}

	if cfg.RPC.HandshakeTimeout.Duration <= 0 {
		cfg.RPC.HandshakeTimeout.Duration = DefaultHandshakeTimeout
	}

	if cfg.RPC.CallTimeout.Duration < 0 {
		return fmt.Errorf("rpc.callTimeout must not be negative")
	}

	if cfg.RPC.MaxFrameSize < 0 {
		return fmt.Errorf("rpc.maxFrameSize must not be negative")
	}

	if cfg.Metrics.Interval.Duration <= 0 {
		cfg.Metrics.Interval.Duration = 30 * time.Second
	}

	return nil
}

// ApplyTo copies the process and session settings into options.
// Fields already set on options are left untouched.
func (cfg *FileConfig) ApplyTo(o *Options) {
	if o.NvimPath == "" {
		o.NvimPath = cfg.Nvim.Path
	}

	if len(o.Args) == 0 {
		o.Args = cfg.Nvim.Args
	}

	if o.Cwd == "" {
		o.Cwd = cfg.Nvim.Cwd
	}

	if len(cfg.Nvim.Env) > 0 {
		env := make(map[string]string, len(cfg.Nvim.Env)+len(o.Env))
		for k, v := range cfg.Nvim.Env {
			env[k] = v
		}

		for k, v := range o.Env {
			env[k] = v
		}

		o.Env = env
	}

	o.SkipVersionCheck = o.SkipVersionCheck || cfg.Nvim.SkipVersionCheck

	if o.HandshakeTimeout == 0 {
		o.HandshakeTimeout = cfg.RPC.HandshakeTimeout.Duration
	}

	if o.CallTimeout == 0 {
		o.CallTimeout = cfg.RPC.CallTimeout.Duration
	}

	if o.MaxFrameSize == 0 {
		o.MaxFrameSize = cfg.RPC.MaxFrameSize
	}
}
