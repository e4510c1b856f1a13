// Package rpc implements a bidirectional MessagePack-RPC session.
//
// A Session correlates outgoing requests with responses, dispatches inbound
// requests and notifications to registered handlers and resolves every
// outstanding call when the connection is lost.
//
// Example usage:
//
//	transport := subprocess.NewProcessTransport(log, options)
//	transport.Start(ctx)
//
//	session := rpc.NewSession(log, transport, &rpc.Config{CallTimeout: 5 * time.Second})
//	session.OnNotification("redraw", func(method string, params []any) { ... })
//	session.Start(ctx)
//
//	info, err := session.Request(ctx, "nvim_get_api_info")
package rpc
