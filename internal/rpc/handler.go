package rpc

import "context"

// RequestHandler answers a request initiated by the peer.
//
// It runs on its own goroutine, so it may issue calls on the same session.
// The context is cancelled when the session closes. The returned value is
// sent as the result; a non-nil error is sent as the error value.
type RequestHandler func(ctx context.Context, params []any) (any, error)

// NotificationHandler handles a notification from the peer.
//
// Handlers run on the dispatch goroutine in arrival order. They must not
// block on the peer: waiting for a Call from a notification handler
// deadlocks the session.
type NotificationHandler func(method string, params []any)

// OnRequest registers the handler for inbound requests to method.
// Last writer wins; the result reports whether a handler was replaced.
func (s *Session) OnRequest(method string, handler RequestHandler) bool {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()

	_, replaced := s.requestHandlers[method]
	s.requestHandlers[method] = handler

	if replaced {
		s.log.Debug("Replaced request handler", "method", method)
	}

	return replaced
}

// OnNotification registers the handler for inbound notifications of method.
// Last writer wins; the result reports whether a handler was replaced.
func (s *Session) OnNotification(method string, handler NotificationHandler) bool {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()

	_, replaced := s.notificationHandlers[method]
	s.notificationHandlers[method] = handler

	if replaced {
		s.log.Debug("Replaced notification handler", "method", method)
	}

	return replaced
}

// OnUnhandledNotification registers the fallback for notifications that
// have no specific handler.
func (s *Session) OnUnhandledNotification(handler NotificationHandler) bool {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()

	replaced := s.fallback != nil
	s.fallback = handler

	return replaced
}

func (s *Session) requestHandler(method string) (RequestHandler, bool) {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()

	h, ok := s.requestHandlers[method]

	return h, ok
}

func (s *Session) notificationHandler(method string) NotificationHandler {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()

	if h, ok := s.notificationHandlers[method]; ok {
		return h
	}

	return s.fallback
}
