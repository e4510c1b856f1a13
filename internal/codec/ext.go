package codec

import "github.com/vmihailenco/msgpack/v5"

// Neovim sends buffer, window and tabpage handles as msgpack ext types whose
// payload is a msgpack encoded integer. Registering them lets API results that
// carry handles decode instead of failing as unknown ext types.
const (
	extBuffer  = 0
	extWindow  = 1
	extTabpage = 2
)

func init() {
	msgpack.RegisterExt(extBuffer, (*Buffer)(nil))
	msgpack.RegisterExt(extWindow, (*Window)(nil))
	msgpack.RegisterExt(extTabpage, (*Tabpage)(nil))
}

// Buffer is a Neovim buffer handle.
type Buffer int64

// MarshalMsgpack implements msgpack.Marshaler.
func (b *Buffer) MarshalMsgpack() ([]byte, error) { return msgpack.Marshal(int64(*b)) }

// UnmarshalMsgpack implements msgpack.Unmarshaler.
func (b *Buffer) UnmarshalMsgpack(p []byte) error { return unmarshalHandle(p, (*int64)(b)) }

// Window is a Neovim window handle.
type Window int64

// MarshalMsgpack implements msgpack.Marshaler.
func (w *Window) MarshalMsgpack() ([]byte, error) { return msgpack.Marshal(int64(*w)) }

// UnmarshalMsgpack implements msgpack.Unmarshaler.
func (w *Window) UnmarshalMsgpack(p []byte) error { return unmarshalHandle(p, (*int64)(w)) }

// Tabpage is a Neovim tabpage handle.
type Tabpage int64

// MarshalMsgpack implements msgpack.Marshaler.
func (t *Tabpage) MarshalMsgpack() ([]byte, error) { return msgpack.Marshal(int64(*t)) }

// UnmarshalMsgpack implements msgpack.Unmarshaler.
func (t *Tabpage) UnmarshalMsgpack(p []byte) error { return unmarshalHandle(p, (*int64)(t)) }

func unmarshalHandle(p []byte, dst *int64) error {
	return msgpack.Unmarshal(p, dst)
}
