package rpc

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wagiedev/nvim-bridge/internal/codec"
	"github.com/wagiedev/nvim-bridge/internal/errors"
)

// State is the lifecycle state of a Session.
type State int

const (
	// StateConnecting is the state before the handshake completes.
	StateConnecting State = iota
	// StateReady is the state after MarkReady.
	StateReady
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// errStreamEnded is the termination cause when the transport ends cleanly.
var errStreamEnded = fmt.Errorf("transport closed: %w", io.EOF)

// Transport is the byte stream a Session runs over.
//
// This interface is satisfied by the ProcessTransport but allows for testing
// with mock transports.
type Transport interface {
	ReadChunks(ctx context.Context) (<-chan []byte, <-chan error)
	Write(ctx context.Context, data []byte) error
}

// Config tunes a Session. The zero value is usable.
type Config struct {
	// MaxFrameSize bounds a single inbound frame. Zero selects the codec default.
	MaxFrameSize int

	// CallTimeout bounds Request. Zero means no timeout.
	CallTimeout time.Duration

	// Observer receives metrics events. Nil discards them.
	Observer Observer
}

// Session is a bidirectional MessagePack-RPC session over a Transport.
//
// The Session handles:
//   - Allocating request ids and correlating responses to outstanding calls
//   - Dispatching inbound requests and notifications to registered handlers
//   - Resolving every outstanding call when the connection is lost
//   - Reporting protocol warnings and the termination cause to subscribers
//
// One mutex guards the id counter, the outstanding table and the state.
// Inbound messages are processed by a single dispatch goroutine in arrival
// order.
type Session struct {
	log       *slog.Logger
	transport Transport
	codec     *codec.Codec
	observer  Observer
	timeout   time.Duration
	id        ulid.ULID

	mu        sync.Mutex
	nextID    uint64
	pending   map[uint64]*Call
	abandoned *abandonedSet
	state     State
	cause     error
	started   bool

	handlersMu           sync.RWMutex
	requestHandlers      map[string]RequestHandler
	notificationHandlers map[string]NotificationHandler
	fallback             NotificationHandler

	subsMu    sync.Mutex
	closeSubs []func(error)
	warnSubs  []func(*errors.ProtocolWarning)

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewSession creates a session over transport. Start must be called before
// inbound messages are processed.
func NewSession(log *slog.Logger, transport Transport, cfg *Config) *Session {
	if cfg == nil {
		cfg = &Config{}
	}

	observer := cfg.Observer
	if observer == nil {
		observer = NopObserver{}
	}

	id := ulid.Make()
	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		log:                  log.With("component", "rpc", "session_id", id.String()),
		transport:            transport,
		codec:                codec.New(cfg.MaxFrameSize),
		observer:             observer,
		timeout:              cfg.CallTimeout,
		id:                   id,
		pending:              make(map[uint64]*Call, 16),
		abandoned:            newAbandonedSet(),
		requestHandlers:      make(map[string]RequestHandler, 4),
		notificationHandlers: make(map[string]NotificationHandler, 4),
		ctx:                  ctx,
		cancel:               cancel,
		done:                 make(chan struct{}),
	}
}

// ID returns the unique session id.
func (s *Session) ID() string {
	return s.id.String()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Done returns a channel that is closed when the session terminates.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the termination cause, or nil while the session is open.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cause
}

// Start begins reading from the transport and dispatching messages.
//
// The session terminates when ctx is cancelled, the transport ends or fails,
// a malformed frame arrives, or Close is called.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()

	if s.state == StateClosed {
		s.mu.Unlock()

		return errors.ErrSessionClosed
	}

	if s.started {
		s.mu.Unlock()

		return fmt.Errorf("rpc session already started")
	}

	s.started = true
	s.mu.Unlock()

	s.log.Debug("Starting rpc session")

	chunks, errs := s.transport.ReadChunks(s.ctx)

	stop := context.AfterFunc(ctx, func() {
		s.shutdown(context.Cause(ctx))
	})

	s.wg.Go(func() {
		defer stop()

		s.readLoop(chunks, errs)
	})

	return nil
}

// MarkReady moves the session from Connecting to Ready.
func (s *Session) MarkReady() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateConnecting {
		s.state = StateReady
		s.log.Info("rpc session ready")
	}
}

// Call sends a request and returns its future without waiting.
//
// The call is registered before the request is written, so a response can
// never arrive for an unknown id. Calling after the session closed fails
// with ErrSessionClosed.
func (s *Session) Call(ctx context.Context, method string, params ...any) (*Call, error) {
	s.mu.Lock()

	if s.state == StateClosed {
		s.mu.Unlock()

		return nil, errors.ErrSessionClosed
	}

	id := s.nextID
	s.nextID++

	call := newCall(s, id, method)
	s.pending[id] = call

	s.mu.Unlock()

	s.observer.CallStarted(method)
	s.log.Debug("Sending request", "id", id, "method", method)

	data, err := s.codec.Encode(&codec.Request{ID: id, Method: method, Params: params})
	if err != nil {
		err = fmt.Errorf("encode %s request: %w", method, err)
		s.fail(call, err)

		return nil, err
	}

	if err := s.write(ctx, data); err != nil {
		err = fmt.Errorf("send %s request: %w", method, err)
		s.fail(call, err)

		return nil, err
	}

	return call, nil
}

// Request sends a request and waits for its result.
//
// A response carrying an error value yields a RemoteError. When the session
// has a call timeout, expiry yields ErrRequestTimeout.
func (s *Session) Request(ctx context.Context, method string, params ...any) (any, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeoutCause(ctx, s.timeout,
			fmt.Errorf("%w: %s after %s", errors.ErrRequestTimeout, method, s.timeout))
		defer cancel()
	}

	call, err := s.Call(ctx, method, params...)
	if err != nil {
		return nil, err
	}

	return call.Wait(ctx)
}

// Notify sends a notification. It only fails when the session is closed or
// the write fails.
func (s *Session) Notify(ctx context.Context, method string, params ...any) error {
	if s.State() == StateClosed {
		return errors.ErrSessionClosed
	}

	data, err := s.codec.Encode(&codec.Notification{Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("encode %s notification: %w", method, err)
	}

	if err := s.write(ctx, data); err != nil {
		return fmt.Errorf("send %s notification: %w", method, err)
	}

	s.observer.NotificationSent(method)
	s.log.Debug("Sent notification", "method", method)

	return nil
}

// OnClose subscribes to termination. fn is called exactly once with the
// termination cause; if the session is already closed it is called
// immediately. fn must not call Close.
func (s *Session) OnClose(fn func(cause error)) {
	s.subsMu.Lock()

	s.mu.Lock()
	closed, cause := s.state == StateClosed, s.cause
	s.mu.Unlock()

	if !closed {
		s.closeSubs = append(s.closeSubs, fn)
		s.subsMu.Unlock()

		return
	}

	s.subsMu.Unlock()

	fn(cause)
}

// OnWarning subscribes to protocol warnings.
func (s *Session) OnWarning(fn func(*errors.ProtocolWarning)) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	s.warnSubs = append(s.warnSubs, fn)
}

// Close terminates the session and waits for its goroutines.
// Outstanding calls resolve with ConnectionLostError wrapping
// ErrSessionClosed. It's safe to call Close multiple times.
func (s *Session) Close() error {
	s.shutdown(errors.ErrSessionClosed)
	s.wg.Wait()

	return nil
}

// write sends a frame unless the session is closed. A failed write that was
// not caused by the caller's context leaves the stream unusable and
// terminates the session.
func (s *Session) write(ctx context.Context, data []byte) error {
	if err := s.transport.Write(ctx, data); err != nil {
		if ctx.Err() == nil {
			s.shutdown(fmt.Errorf("write: %w", err))
		}

		return err
	}

	return nil
}

// fail removes an unsent call from the table and resolves it with err.
func (s *Session) fail(call *Call, err error) {
	s.mu.Lock()

	owned := s.pending[call.ID] == call
	if owned {
		delete(s.pending, call.ID)
	}

	s.mu.Unlock()

	if owned {
		call.resolve(nil, err)
	}
}

// abandon removes a call whose caller stopped waiting.
func (s *Session) abandon(call *Call, cause error) {
	s.mu.Lock()

	owned := s.pending[call.ID] == call
	if owned {
		delete(s.pending, call.ID)
		s.abandoned.add(call.ID)
	}

	s.mu.Unlock()

	if owned {
		s.log.Debug("Call abandoned", "id", call.ID, "method", call.Method, "cause", cause)
		call.resolve(nil, cause)
	}
}

// readLoop feeds transport chunks through the codec and dispatches messages.
func (s *Session) readLoop(chunks <-chan []byte, errs <-chan error) {
	defer s.log.Debug("rpc read loop stopped")

	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil

				continue
			}

			for msg, err := range s.codec.Decode(chunk) {
				if err != nil {
					s.log.Error("Malformed frame from peer", "error", err)
					s.shutdown(err)

					return
				}

				s.dispatch(msg)
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil

				continue
			}

			if err != nil {
				s.log.Debug("Transport error in rpc session", "error", err)
				s.shutdown(err)

				return
			}

		case <-s.done:
			return
		}
	}

	if err := s.codec.Finish(); err != nil {
		s.shutdown(err)

		return
	}

	s.shutdown(errStreamEnded)
}

// dispatch routes one inbound message.
func (s *Session) dispatch(msg codec.Message) {
	switch m := msg.(type) {
	case *codec.Response:
		s.handleResponse(m)
	case *codec.Request:
		s.handleRequest(m)
	case *codec.Notification:
		s.handleNotification(m)
	}
}

func (s *Session) handleResponse(resp *codec.Response) {
	s.mu.Lock()

	call, exists := s.pending[resp.ID]
	if exists {
		delete(s.pending, resp.ID)
	}

	wasAbandoned := s.abandoned.remove(resp.ID)

	s.mu.Unlock()

	if !exists {
		if wasAbandoned {
			s.log.Debug("Dropped response for abandoned call", "id", resp.ID)

			return
		}

		s.warn(&errors.ProtocolWarning{Reason: "response for unknown request", ID: resp.ID})

		return
	}

	s.log.Debug("Received response", "id", resp.ID, "method", call.Method, "error", resp.IsError())

	if resp.IsError() {
		call.resolve(nil, &errors.RemoteError{Method: call.Method, Value: resp.Error})

		return
	}

	call.resolve(resp.Result, nil)
}

func (s *Session) handleRequest(req *codec.Request) {
	s.log.Debug("Received request", "id", req.ID, "method", req.Method)

	handler, ok := s.requestHandler(req.Method)
	if !ok {
		err := fmt.Errorf("%w: %s", errors.ErrMethodNotFound, req.Method)

		s.log.Warn("No handler registered for request", "method", req.Method)
		s.observer.RequestHandled(req.Method, err)
		s.respond(req.ID, nil, err)

		return
	}

	s.wg.Go(func() {
		result, err := s.runRequestHandler(handler, req)

		s.observer.RequestHandled(req.Method, err)
		s.respond(req.ID, result, err)
	})
}

func (s *Session) runRequestHandler(handler RequestHandler, req *codec.Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Request handler panicked", "method", req.Method, "panic", r)

			result, err = nil, fmt.Errorf("handler for %s panicked: %v", req.Method, r)
		}
	}()

	return handler(s.ctx, req.Params)
}

// respond sends the response to an inbound request.
func (s *Session) respond(id uint64, result any, err error) {
	resp := &codec.Response{ID: id, Result: result}
	if err != nil {
		resp.Error = err.Error()
		resp.Result = nil
	}

	data, encErr := s.codec.Encode(resp)
	if encErr != nil {
		s.log.Error("Failed to encode response", "id", id, "error", encErr)

		data, encErr = s.codec.Encode(&codec.Response{ID: id, Error: encErr.Error()})
		if encErr != nil {
			return
		}
	}

	if s.State() == StateClosed {
		s.log.Debug("Session closed before response was sent", "id", id)

		return
	}

	if err := s.write(s.ctx, data); err != nil {
		if s.ctx.Err() != nil {
			s.log.Debug("Could not send response during shutdown", "id", id, "error", err)

			return
		}

		s.log.Error("Failed to send response", "id", id, "error", err)
	}
}

func (s *Session) handleNotification(n *codec.Notification) {
	s.observer.NotificationReceived(n.Method)

	handler := s.notificationHandler(n.Method)
	if handler == nil {
		s.log.Debug("Ignoring notification without handler", "method", n.Method)

		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Notification handler panicked", "method", n.Method, "panic", r)
		}
	}()

	handler(n.Method, n.Params)
}

// warn reports a non-fatal protocol warning.
func (s *Session) warn(w *errors.ProtocolWarning) {
	s.log.Warn("Protocol warning", "reason", w.Reason, "id", w.ID, "method", w.Method)
	s.observer.ProtocolWarning(w)

	s.subsMu.Lock()
	subs := append([]func(*errors.ProtocolWarning){}, s.warnSubs...)
	s.subsMu.Unlock()

	for _, fn := range subs {
		fn(w)
	}
}

// shutdown moves the session to Closed exactly once: every outstanding call
// resolves with ConnectionLostError, handler contexts are cancelled and close
// subscribers are notified.
func (s *Session) shutdown(cause error) {
	if cause == nil {
		cause = errors.ErrSessionClosed
	}

	s.subsMu.Lock()
	s.mu.Lock()

	if s.state == StateClosed {
		s.mu.Unlock()
		s.subsMu.Unlock()

		return
	}

	s.state = StateClosed
	s.cause = cause

	pending := s.pending
	s.pending = make(map[uint64]*Call)
	s.abandoned.reset()

	s.mu.Unlock()

	subs := s.closeSubs
	s.closeSubs = nil

	s.subsMu.Unlock()

	if stderrors.Is(cause, errors.ErrSessionClosed) {
		s.log.Info("rpc session closed", "pending", len(pending))
	} else {
		s.log.Warn("rpc session terminated", "cause", cause, "pending", len(pending))
	}

	s.cancel()
	close(s.done)

	lost := &errors.ConnectionLostError{Err: cause}
	for _, call := range pending {
		call.resolve(nil, lost)
	}

	s.observer.SessionClosed(cause)

	for _, fn := range subs {
		fn(cause)
	}
}
