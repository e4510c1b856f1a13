// Package bridge connects an embedded nvim to a UI surface.
//
// The Bridge owns the process transport and the RPC session. It forwards
// every notification argument from nvim as a {scope, name, payload} event,
// turns UI commands into API calls and reports lifecycle changes as
// system/ready, system/error and system/disconnect events.
//
// Supported UI commands:
//
//	attach     {"columns": 80, "lines": 24, "options": {...}}
//	resize     {"columns": 100, "lines": 40}
//	input      "keys"
//	command    "ex command"
//	detach
//	notify     {"method": "nvim_...", "params": [...]}
//	set-title  "title"
//	bell
package bridge
