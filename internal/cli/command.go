package cli

import (
	"fmt"
	"os"
	"slices"
	"sort"

	"github.com/wagiedev/nvim-bridge/internal/config"
)

// BuildArgs constructs the nvim command arguments.
//
// --embed makes nvim speak msgpack-rpc on stdin/stdout and wait for a UI to
// attach before drawing. Extra arguments from options follow it unchanged.
func BuildArgs(options *config.Options) []string {
	args := []string{"--embed"}

	if options == nil {
		return args
	}

	for _, arg := range options.Args {
		// A second --embed or --headless would change the process mode.
		if arg == "--embed" || arg == "--headless" {
			continue
		}

		args = append(args, arg)
	}

	return args
}

// BuildEnvironment constructs the environment variables for the nvim process.
func BuildEnvironment(options *config.Options) []string {
	env := os.Environ()

	env = append(env, "NVIM_BRIDGE=1")

	if options == nil {
		return env
	}

	keys := make([]string, 0, len(options.Env))
	for key := range options.Env {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	// Later entries win for duplicate keys in os/exec.
	for _, key := range keys {
		env = append(env, fmt.Sprintf("%s=%s", key, options.Env[key]))
	}

	return slices.Clip(env)
}
