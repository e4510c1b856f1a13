//go:build integration

package integration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	nvimbridge "github.com/wagiedev/nvim-bridge"
)

// skipIfNvimNotInstalled skips the test if the error indicates nvim is not found.
func skipIfNvimNotInstalled(t *testing.T, err error) {
	t.Helper()

	if _, ok := errors.AsType[*nvimbridge.NvimNotFoundError](err); ok {
		t.Skip("nvim not installed")
	}
}

// startBridge starts a bridge on a clean nvim and closes it with the test.
func startBridge(t *testing.T, surface nvimbridge.Surface, opts ...nvimbridge.Option) nvimbridge.Bridge {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	opts = append([]nvimbridge.Option{
		nvimbridge.WithArgs("--clean", "-n"),
		nvimbridge.WithSurface(surface),
	}, opts...)

	b := nvimbridge.New(opts...)
	t.Cleanup(func() { _ = b.Close() })

	if err := b.Start(ctx); err != nil {
		skipIfNvimNotInstalled(t, err)
		t.Fatalf("Start failed: %v", err)
	}

	return b
}

// eventLog is a Surface that records everything it receives.
type eventLog struct {
	mu     sync.Mutex
	events []nvimbridge.Event
	titles []string
}

func (l *eventLog) Emit(ev nvimbridge.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, ev)
}

func (l *eventLog) SetTitle(title string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.titles = append(l.titles, title)
}

func (l *eventLog) Bell() {}

func (l *eventLog) count(scope, name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0

	for _, ev := range l.events {
		if ev.Scope == scope && ev.Name == name {
			n++
		}
	}

	return n
}

func (l *eventLog) waitFor(t *testing.T, scope, name string) {
	t.Helper()

	require.Eventually(t, func() bool {
		return l.count(scope, name) > 0
	}, 10*time.Second, 10*time.Millisecond, "waiting for %s/%s", scope, name)
}
