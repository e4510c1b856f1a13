// Command nvim-bridge runs an embedded Neovim and exposes it to a UI over
// stdio: JSON commands are read from stdin, JSON events are written to stdout
// and logs go to stderr.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "nvim-bridge:", err)
		stop()
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "nvim-bridge",
		Usage:     "bridge a UI on stdio to an embedded neovim",
		ArgsUsage: "[-- nvim args...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a TOML config file.",
				EnvVars: []string{"NVIM_BRIDGE_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "nvim",
				Usage: "Path to the nvim binary. Searched in PATH if empty.",
			},
			&cli.StringFlag{
				Name:  "cwd",
				Usage: "Working directory for nvim.",
			},
			&cli.StringFlag{
				Name:  "framing",
				Usage: "UI stream framing. One of [lines,frames].",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "One of [debug,info,warn,error].",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "One of [text,json].",
			},
			&cli.BoolFlag{
				Name:  "metrics",
				Usage: "Periodically write RPC metrics to stderr.",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return cli.Exit(err, 2)
			}

			return run(c.Context, cfg, c.Args().Slice())
		},
		Commands: []*cli.Command{
			{
				Name:  "check",
				Usage: "locate nvim and warn if it is too old",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "nvim", Usage: "Path to the nvim binary."},
				},
				Action: func(c *cli.Context) error {
					return check(c.Context, c.App.Writer, c.String("nvim"))
				},
			},
		},
	}
}
