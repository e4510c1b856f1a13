// Package telemetry records RPC session metrics with OpenTelemetry.
package telemetry

import (
	"context"
	stderrors "errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wagiedev/nvim-bridge/internal/errors"
	"github.com/wagiedev/nvim-bridge/internal/rpc"
)

const instrumentationName = "github.com/wagiedev/nvim-bridge"

// Metric names.
const (
	MetricCalls         = "nvim_bridge.rpc.calls"
	MetricCallDuration  = "nvim_bridge.rpc.call.duration"
	MetricCallsPending  = "nvim_bridge.rpc.calls.pending"
	MetricNotifications = "nvim_bridge.rpc.notifications"
	MetricRequests      = "nvim_bridge.rpc.requests"
	MetricWarnings      = "nvim_bridge.rpc.warnings"
	MetricSessionsEnded = "nvim_bridge.rpc.sessions.closed"
)

// Observer implements rpc.Observer by recording OpenTelemetry metrics.
type Observer struct {
	calls         metric.Int64Counter
	callDuration  metric.Float64Histogram
	callsPending  metric.Int64UpDownCounter
	notifications metric.Int64Counter
	requests      metric.Int64Counter
	warnings      metric.Int64Counter
	sessionsEnded metric.Int64Counter
}

// Compile-time verification that Observer implements rpc.Observer.
var _ rpc.Observer = (*Observer)(nil)

// NewObserver creates an observer using mp. A nil mp selects the global
// meter provider.
func NewObserver(mp metric.MeterProvider) (*Observer, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	meter := mp.Meter(instrumentationName)

	var (
		o    Observer
		errs []error
		err  error
	)

	o.calls, err = meter.Int64Counter(MetricCalls,
		metric.WithUnit("{call}"),
		metric.WithDescription("Number of completed calls to nvim"),
	)
	errs = append(errs, err)

	o.callDuration, err = meter.Float64Histogram(MetricCallDuration,
		metric.WithUnit("s"),
		metric.WithDescription("Duration of calls to nvim"),
	)
	errs = append(errs, err)

	o.callsPending, err = meter.Int64UpDownCounter(MetricCallsPending,
		metric.WithUnit("{call}"),
		metric.WithDescription("Calls awaiting a response"),
	)
	errs = append(errs, err)

	o.notifications, err = meter.Int64Counter(MetricNotifications,
		metric.WithUnit("{notification}"),
		metric.WithDescription("Notifications exchanged with nvim"),
	)
	errs = append(errs, err)

	o.requests, err = meter.Int64Counter(MetricRequests,
		metric.WithUnit("{request}"),
		metric.WithDescription("Requests from nvim answered by the bridge"),
	)
	errs = append(errs, err)

	o.warnings, err = meter.Int64Counter(MetricWarnings,
		metric.WithUnit("{warning}"),
		metric.WithDescription("Protocol warnings"),
	)
	errs = append(errs, err)

	o.sessionsEnded, err = meter.Int64Counter(MetricSessionsEnded,
		metric.WithUnit("{session}"),
		metric.WithDescription("Terminated RPC sessions"),
	)
	errs = append(errs, err)

	if err := stderrors.Join(errs...); err != nil {
		return nil, err
	}

	return &o, nil
}

// CallStarted implements rpc.Observer.
func (o *Observer) CallStarted(method string) {
	o.callsPending.Add(context.Background(), 1, metric.WithAttributes(attribute.String("rpc.method", method)))
}

// CallFinished implements rpc.Observer.
func (o *Observer) CallFinished(method string, elapsed time.Duration, err error) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("rpc.method", method),
		attribute.String("status", callStatus(err)),
	)

	o.callsPending.Add(ctx, -1, metric.WithAttributes(attribute.String("rpc.method", method)))
	o.calls.Add(ctx, 1, attrs)
	o.callDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// NotificationSent implements rpc.Observer.
func (o *Observer) NotificationSent(method string) {
	o.notifications.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("rpc.method", method),
		attribute.String("direction", "out"),
	))
}

// NotificationReceived implements rpc.Observer.
func (o *Observer) NotificationReceived(method string) {
	o.notifications.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("rpc.method", method),
		attribute.String("direction", "in"),
	))
}

// RequestHandled implements rpc.Observer.
func (o *Observer) RequestHandled(method string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}

	o.requests.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("rpc.method", method),
		attribute.String("status", status),
	))
}

// ProtocolWarning implements rpc.Observer.
func (o *Observer) ProtocolWarning(w *errors.ProtocolWarning) {
	o.warnings.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", w.Reason)))
}

// SessionClosed implements rpc.Observer.
func (o *Observer) SessionClosed(cause error) {
	reason := "lost"
	if stderrors.Is(cause, errors.ErrSessionClosed) {
		reason = "closed"
	}

	o.sessionsEnded.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// callStatus classifies a call outcome for the status attribute.
func callStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case stderrors.Is(err, errors.ErrConnectionLost):
		return "lost"
	case stderrors.Is(err, context.Canceled),
		stderrors.Is(err, context.DeadlineExceeded),
		stderrors.Is(err, errors.ErrRequestTimeout):
		return "abandoned"
	default:
		if _, ok := stderrors.AsType[*errors.RemoteError](err); ok {
			return "remote_error"
		}

		return "error"
	}
}
