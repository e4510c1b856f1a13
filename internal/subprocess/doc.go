// Package subprocess provides the process transport for an embedded nvim.
//
// ProcessTransport spawns `nvim --embed`, streams raw stdout chunks to the
// RPC session, serializes frame writes on stdin, captures stderr for error
// reporting and turns an abnormal exit into a ProcessError.
package subprocess
