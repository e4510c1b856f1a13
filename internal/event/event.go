// Package event defines the values exchanged between the bridge and a UI surface.
package event

import "encoding/json"

// Scopes used for events the bridge itself originates.
const (
	ScopeSystem = "system"
	ScopeWindow = "window"
)

// Names of system scope events.
const (
	NameReady      = "ready"
	NameError      = "error"
	NameDisconnect = "disconnect"
)

// Event is a UI-facing notification.
//
// Wire format:
//
//	{"scope": "redraw", "name": "grid_line", "payload": [...]}
type Event struct {
	Scope   string `json:"scope"`
	Name    string `json:"name"`
	Payload any    `json:"payload"`
}

// Command is a UI-originated instruction.
//
// Wire format:
//
//	{"command": "attach", "data": {"columns": 80, "lines": 24}}
type Command struct {
	Command string          `json:"command"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Surface is the UI collaborator the bridge reports to.
//
// Emit may block to apply backpressure; it must not drop events.
// SetTitle and Bell are cosmetic effects requested by UI commands.
type Surface interface {
	Emit(ev Event)
	SetTitle(title string)
	Bell()
}

// Discard is a Surface that ignores everything.
type Discard struct{}

// Emit implements Surface.
func (Discard) Emit(Event) {}

// SetTitle implements Surface.
func (Discard) SetTitle(string) {}

// Bell implements Surface.
func (Discard) Bell() {}

// Compile-time verification that Discard implements Surface.
var _ Surface = Discard{}
