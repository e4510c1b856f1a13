//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	nvimbridge "github.com/wagiedev/nvim-bridge"
)

// TestBridge_CloseWhileRedrawing tests that closing the bridge while nvim
// streams redraw batches terminates cleanly without hanging processes.
func TestBridge_CloseWhileRedrawing(t *testing.T) {
	ctx := context.Background()
	events := &eventLog{}
	b := startBridge(t, events)

	require.NoError(t, b.HandleMessage(ctx, []byte(`{"command":"attach","data":{"columns":120,"lines":40}}`)))
	events.waitFor(t, "redraw", "flush")

	// Keep nvim busy repainting.
	require.NoError(t, b.Notify(ctx, "nvim_input", "100o<C-r>=repeat('x', 100)<CR><Esc>"))

	closeStart := time.Now()
	require.NoError(t, b.Close())
	closeDuration := time.Since(closeStart)

	t.Logf("Close completed in %v", closeDuration)
	require.Less(t, closeDuration, 5*time.Second, "Close should not wait for nvim to finish")

	require.Equal(t, 1, events.count(nvimbridge.ScopeSystem, nvimbridge.NameDisconnect))
}

// TestBridge_QuitReportsDisconnect tests that :qall ends the session and
// emits exactly one disconnect event and no error for the unanswered call.
func TestBridge_QuitReportsDisconnect(t *testing.T) {
	ctx := context.Background()
	events := &eventLog{}
	b := startBridge(t, events)

	require.NoError(t, b.HandleMessage(ctx, []byte(`{"command":"command","data":"qall!"}`)))

	select {
	case <-b.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("nvim did not exit")
	}

	events.waitFor(t, nvimbridge.ScopeSystem, nvimbridge.NameDisconnect)

	_, err := b.Request(ctx, "nvim_get_mode")
	require.Error(t, err)

	require.NoError(t, b.Close())
	require.Equal(t, 1, events.count(nvimbridge.ScopeSystem, nvimbridge.NameDisconnect))
	require.Zero(t, events.count(nvimbridge.ScopeSystem, nvimbridge.NameError))
}

// TestBridge_AbnormalExit tests that a non-zero exit surfaces as ProcessError.
func TestBridge_AbnormalExit(t *testing.T) {
	events := &eventLog{}
	b := startBridge(t, events)

	_ = b.Notify(context.Background(), "nvim_command", "cquit 4")

	select {
	case <-b.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("nvim did not exit")
	}

	var procErr *nvimbridge.ProcessError
	require.ErrorAs(t, b.Err(), &procErr)
	require.Equal(t, 4, procErr.ExitCode)
}
