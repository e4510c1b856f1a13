package rpc

import (
	"time"

	"github.com/wagiedev/nvim-bridge/internal/errors"
)

// Observer receives session events for metrics.
// Methods are called synchronously and must not block.
type Observer interface {
	CallStarted(method string)
	CallFinished(method string, elapsed time.Duration, err error)
	NotificationSent(method string)
	NotificationReceived(method string)
	RequestHandled(method string, err error)
	ProtocolWarning(w *errors.ProtocolWarning)
	SessionClosed(cause error)
}

// NopObserver discards every event.
type NopObserver struct{}

// Compile-time verification that NopObserver implements Observer.
var _ Observer = NopObserver{}

func (NopObserver) CallStarted(string)                       {}
func (NopObserver) CallFinished(string, time.Duration, error) {}
func (NopObserver) NotificationSent(string)                  {}
func (NopObserver) NotificationReceived(string)              {}
func (NopObserver) RequestHandled(string, error)             {}
func (NopObserver) ProtocolWarning(*errors.ProtocolWarning)  {}
func (NopObserver) SessionClosed(error)                      {}
