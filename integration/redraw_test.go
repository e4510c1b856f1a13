//go:build integration

package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	nvimbridge "github.com/wagiedev/nvim-bridge"
)

// TestBridge_AttachStreamsRedraw tests that attaching a UI produces redraw
// events named after their batch headers.
func TestBridge_AttachStreamsRedraw(t *testing.T) {
	ctx := context.Background()
	events := &eventLog{}
	b := startBridge(t, events)

	require.NoError(t, b.HandleMessage(ctx, []byte(
		`{"command":"attach","data":{"columns":80,"lines":24,"options":{"ext_linegrid":true}}}`)))

	events.waitFor(t, "redraw", "grid_resize")
	events.waitFor(t, "redraw", "flush")

	require.NoError(t, b.HandleMessage(ctx, []byte(`{"command":"input","data":"ihello<Esc>"}`)))
	events.waitFor(t, "redraw", "grid_line")

	line, err := b.Request(ctx, "nvim_get_current_line")
	require.NoError(t, err)
	require.Equal(t, "hello", line)

	require.NoError(t, b.HandleMessage(ctx, []byte(`{"command":"resize","data":{"columns":100,"lines":30}}`)))
	require.NoError(t, b.HandleMessage(ctx, []byte(`{"command":"detach"}`)))

	require.Zero(t, events.count(nvimbridge.ScopeSystem, nvimbridge.NameError))
}

// TestBridge_InvalidAttach tests that bad attach data is reported to the UI.
func TestBridge_InvalidAttach(t *testing.T) {
	ctx := context.Background()
	events := &eventLog{}
	b := startBridge(t, events)

	require.Error(t, b.HandleMessage(ctx, []byte(`{"command":"attach","data":{"columns":80}}`)))
	require.Equal(t, 1, events.count(nvimbridge.ScopeSystem, nvimbridge.NameError))
}
