// Package cli provides nvim discovery, version validation, and command building.
//
// # Discovery
//
// The Discoverer interface locates the nvim binary:
//
//	discoverer := cli.NewDiscoverer(&cli.Config{
//	    NvimPath: "",           // Optional explicit path
//	    Logger:   slog.Default(),
//	})
//	nvimPath, err := discoverer.Discover(ctx)
//
// A configured Config.NvimPath is used alone. Otherwise PATH is searched,
// then the install locations of the current platform (Homebrew and MacPorts,
// snap and flatpak, ~/.local/bin and bob's nvim-bin). A UI started from a
// desktop session often has a PATH without any of them.
//
// The release reported by `nvim --version` is compared against MinimumVersion;
// older releases only log a warning.
//
// # Command Building
//
//	args := cli.BuildArgs(options) // --embed plus options.Args
//	env := cli.BuildEnvironment(options)
package cli
