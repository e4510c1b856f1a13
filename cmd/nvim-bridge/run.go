package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	nvimbridge "github.com/wagiedev/nvim-bridge"
	nvimcli "github.com/wagiedev/nvim-bridge/internal/cli"
	"github.com/wagiedev/nvim-bridge/internal/config"
	"github.com/wagiedev/nvim-bridge/internal/telemetry"
	"github.com/wagiedev/nvim-bridge/internal/uiport"
)

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(c *cli.Context) (*config.FileConfig, error) {
	cfg := config.DefaultFileConfig()

	if path := c.String("config"); path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}

		cfg = loaded
	}

	if v := c.String("nvim"); v != "" {
		cfg.Nvim.Path = v
	}

	if v := c.String("cwd"); v != "" {
		cfg.Nvim.Cwd = v
	}

	if v := c.String("framing"); v != "" {
		cfg.UI.Framing = v
	}

	if v := c.String("log-level"); v != "" {
		cfg.Log.Level = v
	}

	if v := c.String("log-format"); v != "" {
		cfg.Log.Format = v
	}

	if c.IsSet("metrics") {
		cfg.Metrics.Enabled = c.Bool("metrics")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newLogger builds the stderr logger described by cfg.
func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level

	_ = level.UnmarshalText([]byte(cfg.Level))

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// run serves the UI on stdin/stdout until the UI hangs up, nvim exits or
// ctx is cancelled.
func run(ctx context.Context, cfg *config.FileConfig, args []string) error {
	log := newLogger(os.Stderr, cfg.Log)

	port, err := uiport.New(log, os.Stdin, os.Stdout, cfg.UI.Framing)
	if err != nil {
		return err
	}

	opts := []nvimbridge.Option{
		nvimbridge.WithLogger(log),
		nvimbridge.WithSurface(port),
		nvimbridge.WithStderr(func(line string) {
			log.Debug("nvim stderr", "line", line)
		}),
	}

	if len(args) > 0 {
		opts = append(opts, nvimbridge.WithArgs(args...))
	}

	if cfg.Metrics.Enabled {
		provider, err := telemetry.NewWriterMeterProvider(os.Stderr, cfg.Metrics.Interval.Duration)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}

		defer func() {
			if err := provider.Shutdown(context.WithoutCancel(ctx)); err != nil {
				log.Warn("Failed to flush metrics", "error", err)
			}
		}()

		opts = append(opts, nvimbridge.WithMeterProvider(provider))
	}

	// File settings fill whatever the options above left unset.
	opts = append(opts, func(o *nvimbridge.Options) { cfg.ApplyTo(o) })

	b := nvimbridge.New(opts...)
	defer b.Close()

	if err := b.Start(ctx); err != nil {
		return err
	}

	served := make(chan error, 1)

	go func() { served <- serve(ctx, b, port.Commands(ctx)) }()

	select {
	case err := <-served:
		return err
	case <-b.Done():
		return exitError(b.Err())
	case <-ctx.Done():
		log.Info("Interrupted")

		return nil
	}
}

// serve dispatches UI commands until the stream ends.
func serve(ctx context.Context, b nvimbridge.Bridge, commands iter.Seq2[[]byte, error]) error {
	for raw, err := range commands {
		if err != nil {
			return fmt.Errorf("read UI command: %w", err)
		}

		// Failures were already reported to the UI as system/error events.
		_ = b.HandleMessage(ctx, raw)
	}

	return nil
}

// exitError maps the reason nvim went away to the command's result.
// A clean exit, such as :qa, is not an error.
func exitError(cause error) error {
	if cause == nil || stderrors.Is(cause, io.EOF) || stderrors.Is(cause, nvimbridge.ErrSessionClosed) {
		return nil
	}

	if procErr, ok := stderrors.AsType[*nvimbridge.ProcessError](cause); ok {
		return cli.Exit(procErr, max(procErr.ExitCode, 1))
	}

	return cause
}

// check locates nvim the way the bridge would and prints its path.
// An outdated version is logged as a warning.
func check(ctx context.Context, w io.Writer, nvimPath string) error {
	discoverer := nvimcli.NewDiscoverer(&nvimcli.Config{
		NvimPath: nvimPath,
		Logger:   slog.New(slog.NewTextHandler(os.Stderr, nil)),
	})

	path, err := discoverer.Discover(ctx)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(w, path)

	return err
}
