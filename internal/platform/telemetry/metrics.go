// Package telemetry wires OpenTelemetry instruments for the scheduler and
// HTTP instrumentation for both the API server and the remote client.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/phrazzld/rhqueue"

// Metrics holds the scheduler's metric instruments. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	submitted    metric.Int64Counter
	finished     metric.Int64Counter
	requeued     metric.Int64Counter
	pollErrors   metric.Int64Counter
	taskDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.submitted, err = meter.Int64Counter("rhqueue.tasks.submitted",
		metric.WithDescription("Tasks accepted by the remote service"))
	if err != nil {
		return nil, err
	}

	m.finished, err = meter.Int64Counter("rhqueue.tasks.finished",
		metric.WithDescription("Tasks that reached a terminal status"))
	if err != nil {
		return nil, err
	}

	m.requeued, err = meter.Int64Counter("rhqueue.tasks.requeued",
		metric.WithDescription("Running tasks sent back to the queue by remote backpressure"))
	if err != nil {
		return nil, err
	}

	m.pollErrors, err = meter.Int64Counter("rhqueue.poll.errors",
		metric.WithDescription("Transient status poll failures"))
	if err != nil {
		return nil, err
	}

	m.taskDuration, err = meter.Float64Histogram("rhqueue.task.duration_seconds",
		metric.WithDescription("Time from first start to terminal status"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// TaskSubmitted records a successful remote submission.
func (m *Metrics) TaskSubmitted(ctx context.Context, appID string) {
	if m == nil {
		return
	}
	m.submitted.Add(ctx, 1, metric.WithAttributes(attribute.String("app_id", appID)))
}

// TaskFinished records a terminal transition and how long the task ran.
func (m *Metrics) TaskFinished(ctx context.Context, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.finished.Add(ctx, 1, attrs)
	m.taskDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// TaskRequeued records a remote backpressure demotion.
func (m *Metrics) TaskRequeued(ctx context.Context) {
	if m == nil {
		return
	}
	m.requeued.Add(ctx, 1)
}

// PollError records a swallowed poll failure.
func (m *Metrics) PollError(ctx context.Context) {
	if m == nil {
		return
	}
	m.pollErrors.Add(ctx, 1)
}

// HTTPMiddleware returns a chi-compatible middleware that creates spans for HTTP requests.
func HTTPMiddleware(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName)
	}
}

// Transport wraps base so outbound requests carry spans and metrics.
func Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return otelhttp.NewTransport(base)
}
