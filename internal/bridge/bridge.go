package bridge

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wagiedev/nvim-bridge/internal/config"
	"github.com/wagiedev/nvim-bridge/internal/errors"
	"github.com/wagiedev/nvim-bridge/internal/event"
	"github.com/wagiedev/nvim-bridge/internal/rpc"
	"github.com/wagiedev/nvim-bridge/internal/subprocess"
	"github.com/wagiedev/nvim-bridge/internal/telemetry"
)

// System event messages.
const (
	MessageReady      = "RPC connection to neovim is ready"
	MessageDisconnect = "RPC connection to neovim was lost"

	spawnFailedPrefix     = "Failed to spawn neovim process: "
	handshakeFailedPrefix = "Failed to establish RPC connection to neovim: "
)

// handshakeMethod is the first call made on a new session.
const handshakeMethod = "nvim_get_api_info"

// APIInfo is what nvim reported during the handshake.
type APIInfo struct {
	ChannelID  int64
	Major      int64
	Minor      int64
	Patch      int64
	APILevel   int64
	Prerelease bool
}

// Version formats the nvim version as X.Y.Z.
func (i *APIInfo) Version() string {
	return fmt.Sprintf("%d.%d.%d", i.Major, i.Minor, i.Patch)
}

// Bridge connects an embedded nvim to a UI surface.
//
// Notifications from nvim become events on the surface; commands from the
// surface become calls and notifications to nvim. Lifecycle changes are
// reported as system scope events.
type Bridge struct {
	log       *slog.Logger
	options   *config.Options
	surface   event.Surface
	transport config.Transport
	session   *rpc.Session
	validator *validator

	info *APIInfo

	// Goroutines waiting on call results, and the transport close
	eg errgroup.Group

	// Lifecycle management
	ctx            context.Context
	cancel         context.CancelFunc
	mu             sync.Mutex
	started        bool
	connected      bool // Ready was emitted; a later close is a disconnect
	closed         bool
	disconnectOnce sync.Once
}

// New creates a bridge. Nothing is spawned until Start.
func New(options *config.Options) *Bridge {
	if options == nil {
		options = &config.Options{}
	}

	log := options.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	log = log.With("component", "bridge")

	surface := options.Surface
	if surface == nil {
		surface = event.Discard{}
	}

	transport := options.Transport
	if transport == nil {
		transport = subprocess.NewProcessTransport(log, options)
	} else {
		log.Debug("Using injected custom transport")
	}

	var observer rpc.Observer
	if options.MeterProvider != nil {
		o, err := telemetry.NewObserver(options.MeterProvider)
		if err != nil {
			log.Warn("Metrics disabled", "error", err)
		} else {
			observer = o
		}
	}

	v, err := newValidator()
	if err != nil {
		// The schemas are static; this only fails on a programming error.
		panic(err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &Bridge{
		log:       log,
		options:   options,
		surface:   surface,
		transport: transport,
		validator: v,
		ctx:       ctx,
		cancel:    cancel,
	}

	b.session = rpc.NewSession(log, transport, &rpc.Config{
		MaxFrameSize: options.MaxFrameSize,
		CallTimeout:  options.CallTimeout,
		Observer:     observer,
	})
	b.session.OnUnhandledNotification(b.forwardNotification)
	b.session.OnClose(b.onSessionClose)

	return b
}

// Start spawns nvim, starts the RPC session and performs the handshake.
//
// Failures are reported both as a system/error event and as the returned
// error. On success a system/ready event is emitted.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()

		return errors.ErrBridgeClosed
	}

	if b.started {
		b.mu.Unlock()

		return errors.ErrBridgeAlreadyStarted
	}

	b.started = true
	b.mu.Unlock()

	b.log.Info("Starting bridge")

	// The process outlives ctx; it is bound to the bridge instead.
	if err := b.transport.Start(b.ctx); err != nil {
		b.emitError(spawnFailedPrefix + err.Error())
		b.shutdown()

		return fmt.Errorf("start transport: %w", err)
	}

	if err := b.session.Start(b.ctx); err != nil {
		b.emitError(handshakeFailedPrefix + err.Error())
		b.shutdown()

		return fmt.Errorf("start rpc session: %w", err)
	}

	info, err := b.handshake(ctx)
	if err != nil {
		b.emitError(handshakeFailedPrefix + errMessage(err))
		b.shutdown()

		return fmt.Errorf("handshake: %w", err)
	}

	b.mu.Lock()
	b.info = info
	b.mu.Unlock()

	b.session.MarkReady()

	b.log.Info("Bridge ready",
		"session_id", b.session.ID(),
		"channel_id", info.ChannelID,
		"nvim_version", info.Version(),
		"api_level", info.APILevel,
	)

	b.surface.Emit(event.Event{Scope: event.ScopeSystem, Name: event.NameReady, Payload: MessageReady})

	// Until now a lost connection was reported by Start itself. A session
	// that ended after the handshake still owes the UI its disconnect.
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()

	select {
	case <-b.session.Done():
		b.reportDisconnect()
	default:
	}

	return nil
}

// handshake asks nvim for its channel id and API metadata.
func (b *Bridge) handshake(ctx context.Context) (*APIInfo, error) {
	timeout := b.options.GetHandshakeTimeout()

	ctx, cancel := context.WithTimeoutCause(ctx, timeout,
		fmt.Errorf("%w: %s after %s", errors.ErrRequestTimeout, handshakeMethod, timeout))
	defer cancel()

	call, err := b.session.Call(ctx, handshakeMethod)
	if err != nil {
		return nil, err
	}

	result, err := call.Wait(ctx)
	if err != nil {
		return nil, err
	}

	return parseAPIInfo(result)
}

// parseAPIInfo reads the [channel_id, metadata] pair returned by nvim_get_api_info.
func parseAPIInfo(result any) (*APIInfo, error) {
	pair, ok := result.([]any)
	if !ok || len(pair) != 2 {
		return nil, fmt.Errorf("unexpected %s result: %T", handshakeMethod, result)
	}

	channelID, ok := toInt(pair[0])
	if !ok {
		return nil, fmt.Errorf("unexpected channel id: %T", pair[0])
	}

	info := &APIInfo{ChannelID: channelID}

	metadata, _ := pair[1].(map[string]any)
	version, _ := metadata["version"].(map[string]any)

	info.Major, _ = toInt(version["major"])
	info.Minor, _ = toInt(version["minor"])
	info.Patch, _ = toInt(version["patch"])
	info.APILevel, _ = toInt(version["api_level"])
	info.Prerelease, _ = version["prerelease"].(bool)

	return info, nil
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true //nolint:gosec // handles and versions fit in int64
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

// Info returns the handshake result, or nil before the bridge is ready.
func (b *Bridge) Info() *APIInfo {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.info
}

// Request calls an nvim API method and waits for the result.
func (b *Bridge) Request(ctx context.Context, method string, params ...any) (any, error) {
	if err := b.checkConnected(); err != nil {
		return nil, err
	}

	return b.session.Request(ctx, method, params...)
}

// Notify sends a notification to nvim.
func (b *Bridge) Notify(ctx context.Context, method string, params ...any) error {
	if err := b.checkConnected(); err != nil {
		return err
	}

	return b.session.Notify(ctx, method, params...)
}

// OnRequest registers a handler for requests nvim sends to the bridge,
// such as rpcrequest() calls on the bridge's channel.
func (b *Bridge) OnRequest(method string, handler rpc.RequestHandler) bool {
	return b.session.OnRequest(method, handler)
}

// SessionID returns the RPC session id.
func (b *Bridge) SessionID() string {
	return b.session.ID()
}

// Done returns a channel that is closed when the RPC session ends.
func (b *Bridge) Done() <-chan struct{} {
	return b.session.Done()
}

// Err returns why the RPC session ended, or nil while it is running.
func (b *Bridge) Err() error {
	return b.session.Err()
}

func (b *Bridge) checkStarted() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.ErrBridgeClosed
	}

	if !b.started {
		return errors.ErrBridgeNotStarted
	}

	return nil
}

// checkConnected also requires the transport to accept writes.
func (b *Bridge) checkConnected() error {
	if err := b.checkStarted(); err != nil {
		return err
	}

	if !b.transport.IsReady() {
		return errors.ErrTransportNotConnected
	}

	return nil
}

// forwardNotification turns every argument of a notification into an event.
//
// An argument that is an array headed by a string becomes
// {scope: method, name: head, payload: rest}; anything else is forwarded
// whole with an empty name.
func (b *Bridge) forwardNotification(method string, params []any) {
	for _, param := range params {
		if batch, ok := param.([]any); ok && len(batch) > 0 {
			if name, ok := batch[0].(string); ok {
				b.surface.Emit(event.Event{Scope: method, Name: name, Payload: batch[1:]})

				continue
			}
		}

		b.surface.Emit(event.Event{Scope: method, Payload: param})
	}
}

// onSessionClose reports the disconnect once and releases the process.
func (b *Bridge) onSessionClose(cause error) {
	if stderrors.Is(cause, errors.ErrSessionClosed) {
		b.log.Info("RPC session closed")
	} else {
		b.log.Warn("RPC connection to nvim lost", "cause", cause)
	}

	b.mu.Lock()
	connected := b.connected
	b.mu.Unlock()

	if connected {
		b.reportDisconnect()
	}

	b.goTracked(func() error {
		if err := b.transport.Close(); err != nil {
			return fmt.Errorf("close transport: %w", err)
		}

		return nil
	})
}

func (b *Bridge) reportDisconnect() {
	b.disconnectOnce.Do(func() {
		b.surface.Emit(event.Event{Scope: event.ScopeSystem, Name: event.NameDisconnect, Payload: MessageDisconnect})
	})
}

// goTracked runs fn on a goroutine Close waits for.
func (b *Bridge) goTracked(fn func() error) {
	b.eg.Go(fn)
}

func (b *Bridge) emitError(msg string) {
	b.log.Warn("Reporting error to UI", "message", msg)
	b.surface.Emit(event.Event{Scope: event.ScopeSystem, Name: event.NameError, Payload: msg})
}

// reportCallError emits a system/error for a failed call. A call that failed
// because the connection ended is not reported: the disconnect event, or the
// error Start returned, already told the UI.
func (b *Bridge) reportCallError(prefix string, err error) {
	if stderrors.Is(err, errors.ErrConnectionLost) || stderrors.Is(err, errors.ErrSessionClosed) {
		b.log.Debug("Call ended with the connection", "error", err)

		return
	}

	b.emitError(prefix + errMessage(err))
}

// errMessage extracts the human readable part of a call failure.
func errMessage(err error) string {
	if remote, ok := stderrors.AsType[*errors.RemoteError](err); ok {
		return remote.Message()
	}

	return err.Error()
}

// shutdown closes the session and cancels the process context.
func (b *Bridge) shutdown() {
	_ = b.session.Close()
	b.cancel()
}

// Close terminates nvim and waits for background work.
//
// After Close(), the bridge cannot be reused - create a new one with New().
// This method is safe to call multiple times.
func (b *Bridge) Close() error {
	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()

		return nil
	}

	b.closed = true
	b.mu.Unlock()

	b.log.Info("Closing bridge")

	// An embedded nvim exits on its own once its input ends.
	if err := b.transport.EndInput(); err != nil {
		b.log.Debug("Failed to end nvim input", "error", err)
	}

	b.shutdown()

	// The session may never have started; close the transport directly too.
	err := b.transport.Close()

	if egErr := b.eg.Wait(); egErr != nil && err == nil {
		err = egErr
	}

	b.log.Info("Bridge closed")

	return err
}
