// Package codec implements MessagePack-RPC framing for the bridge.
//
// A frame is one msgpack array whose first element tags the message type:
//
//	[0, msgid, method, params]  request
//	[1, msgid, error, result]   response
//	[2, method, params]         notification
//
// Decoding is incremental. Bytes are buffered until a frame is complete, so
// transport read boundaries may fall anywhere inside a frame. Every decoded
// value is checked against the shapes above; anything else is reported as a
// malformed frame rather than trusted.
package codec
