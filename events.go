package nvimbridge

import (
	"github.com/wagiedev/nvim-bridge/internal/bridge"
	"github.com/wagiedev/nvim-bridge/internal/event"
	"github.com/wagiedev/nvim-bridge/internal/rpc"
)

// Event is a notification for the UI: {scope, name, payload}.
type Event = event.Event

// Command is an instruction from the UI: {command, data}.
type Command = event.Command

// Surface receives events and cosmetic effects from the bridge.
type Surface = event.Surface

// APIInfo is what nvim reported during the handshake.
type APIInfo = bridge.APIInfo

// RequestHandler answers a request nvim sends to the bridge.
type RequestHandler = rpc.RequestHandler

// Event scopes and names originated by the bridge.
const (
	ScopeSystem = event.ScopeSystem
	ScopeWindow = event.ScopeWindow

	NameReady      = event.NameReady
	NameError      = event.NameError
	NameDisconnect = event.NameDisconnect
)

// UI command names.
const (
	CommandAttach   = bridge.CommandAttach
	CommandResize   = bridge.CommandResize
	CommandInput    = bridge.CommandInput
	CommandCommand  = bridge.CommandCommand
	CommandDetach   = bridge.CommandDetach
	CommandNotify   = bridge.CommandNotify
	CommandSetTitle = bridge.CommandSetTitle
	CommandBell     = bridge.CommandBell
)
