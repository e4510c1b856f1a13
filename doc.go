// Package nvimbridge connects a UI to an embedded Neovim over MessagePack-RPC.
//
// A Bridge spawns `nvim --embed`, speaks MessagePack-RPC over the process's
// stdio and translates between the editor and a UI surface. Notifications
// from nvim (most importantly redraw batches) reach the surface as
// {scope, name, payload} events; commands from the surface become API calls.
//
// # Basic Usage
//
//	b := nvimbridge.New(
//	    nvimbridge.WithLogger(slog.Default()),
//	    nvimbridge.WithSurface(surface),
//	)
//	defer b.Close()
//
//	if err := b.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	err := b.Dispatch(ctx, nvimbridge.Command{
//	    Command: "attach",
//	    Data:    json.RawMessage(`{"columns": 80, "lines": 24}`),
//	})
//
// Or with automatic lifecycle management:
//
//	err := nvimbridge.WithBridge(ctx, func(b nvimbridge.Bridge) error {
//	    mode, err := b.Request(ctx, "nvim_get_mode")
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(mode)
//	    return nil
//	}, nvimbridge.WithNvimPath("/usr/local/bin/nvim"))
//
// # Events
//
// The bridge reports its own lifecycle on the "system" scope:
//
//	{"scope": "system", "name": "ready",      "payload": "RPC connection to neovim is ready"}
//	{"scope": "system", "name": "error",      "payload": "Failed to attach to neovim UI: ..."}
//	{"scope": "system", "name": "disconnect", "payload": "RPC connection to neovim was lost"}
//
// # Error Handling
//
// Failures are typed:
//
//	if err := b.Start(ctx); err != nil {
//	    if nf, ok := errors.AsType[*nvimbridge.NvimNotFoundError](err); ok {
//	        log.Fatalf("nvim not installed, searched: %v", nf.SearchedPaths)
//	    }
//	    if procErr, ok := errors.AsType[*nvimbridge.ProcessError](err); ok {
//	        log.Fatalf("nvim exited with code %d: %s", procErr.ExitCode, procErr.Stderr)
//	    }
//	    log.Fatal(err)
//	}
//
// Calls resolve with *RemoteError when nvim answers with an error and with
// an error matching ErrConnectionLost when the session ends first.
//
// # Requirements
//
// Neovim 0.5.0 or newer must be installed. It is searched in PATH and common
// install locations unless WithNvimPath is given.
package nvimbridge
