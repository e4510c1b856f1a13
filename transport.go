package nvimbridge

import "github.com/wagiedev/nvim-bridge/internal/config"

// Transport defines the byte stream between the bridge and nvim.
// Implement this to provide custom transports for testing, mocking,
// or alternative connections (e.g., a remote nvim listening on a socket).
//
// The default implementation spawns `nvim --embed` as a subprocess.
// Custom transports can be injected via WithTransport.
type Transport = config.Transport
