package codec

// Message type tags as they appear in the first element of every frame.
const (
	TypeRequest      = 0
	TypeResponse     = 1
	TypeNotification = 2
)

// Message is a decoded MessagePack-RPC frame.
// Use a type switch to determine the concrete type.
type Message interface {
	MessageType() int
}

// Compile-time verification that all message types implement Message.
var (
	_ Message = (*Request)(nil)
	_ Message = (*Response)(nil)
	_ Message = (*Notification)(nil)
)

// Request is a call that expects a Response carrying the same ID.
//
// Wire format:
//
//	[0, msgid, method, params]
type Request struct {
	ID     uint64
	Method string
	Params []any
}

// MessageType implements Message.
func (*Request) MessageType() int { return TypeRequest }

// Response answers a Request. Error and Result are mutually exclusive.
//
// Wire format:
//
//	[1, msgid, error, result]
type Response struct {
	ID     uint64
	Error  any
	Result any
}

// MessageType implements Message.
func (*Response) MessageType() int { return TypeResponse }

// IsError reports whether the response carries an error value.
func (r *Response) IsError() bool {
	return r.Error != nil
}

// Notification is a one-way message with no response.
//
// Wire format:
//
//	[2, method, params]
type Notification struct {
	Method string
	Params []any
}

// MessageType implements Message.
func (*Notification) MessageType() int { return TypeNotification }
