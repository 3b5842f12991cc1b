package multiplex

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rsockets2/rsockets2/internal/frame"
)

const instrumentationName = "github.com/rsockets2/rsockets2"

type metrics struct {
	framesSent     metric.Int64Counter
	framesReceived metric.Int64Counter
	bytesSent      metric.Int64Counter
	bytesReceived  metric.Int64Counter
	resumes        metric.Int64Counter
	streams        metric.Int64Counter
	role           attribute.KeyValue
}

// newMetrics never fails. An instrument the provider refuses stays nil and is
// skipped.
func newMetrics(mp metric.MeterProvider, role Role) *metrics {
	meter := mp.Meter(instrumentationName)
	m := &metrics{role: attribute.String("rsocket.role", role.String())}
	m.framesSent, _ = meter.Int64Counter("rsocket.frames.sent",
		metric.WithUnit("{frame}"),
		metric.WithDescription("Number of frames written to the transport"),
	)
	m.framesReceived, _ = meter.Int64Counter("rsocket.frames.received",
		metric.WithUnit("{frame}"),
		metric.WithDescription("Number of frames read from the transport"),
	)
	m.bytesSent, _ = meter.Int64Counter("rsocket.bytes.sent",
		metric.WithUnit("By"),
		metric.WithDescription("Frame bytes written to the transport"),
	)
	m.bytesReceived, _ = meter.Int64Counter("rsocket.bytes.received",
		metric.WithUnit("By"),
		metric.WithDescription("Frame bytes read from the transport"),
	)
	m.resumes, _ = meter.Int64Counter("rsocket.resume.attempts",
		metric.WithUnit("{attempt}"),
		metric.WithDescription("Number of resume handshakes started"),
	)
	m.streams, _ = meter.Int64Counter("rsocket.streams.opened",
		metric.WithUnit("{stream}"),
		metric.WithDescription("Number of request streams opened by either side"),
	)
	return m
}

func (m *metrics) frameAttrs(t frame.Type) metric.MeasurementOption {
	return metric.WithAttributes(m.role, attribute.String("rsocket.frame.type", t.String()))
}

func (m *metrics) sent(t frame.Type, n int) {
	ctx := context.Background()
	if m.framesSent != nil {
		m.framesSent.Add(ctx, 1, m.frameAttrs(t))
	}
	if m.bytesSent != nil {
		m.bytesSent.Add(ctx, int64(n), metric.WithAttributes(m.role))
	}
}

func (m *metrics) received(t frame.Type, n int) {
	ctx := context.Background()
	if m.framesReceived != nil {
		m.framesReceived.Add(ctx, 1, m.frameAttrs(t))
	}
	if m.bytesReceived != nil {
		m.bytesReceived.Add(ctx, int64(n), metric.WithAttributes(m.role))
	}
}

func (m *metrics) resumeAttempt(outcome string) {
	if m.resumes != nil {
		m.resumes.Add(context.Background(), 1, metric.WithAttributes(m.role, attribute.String("outcome", outcome)))
	}
}

// streamOpened counts a request; origin is "local" or "remote"
func (m *metrics) streamOpened(origin string) {
	if m.streams != nil {
		m.streams.Add(context.Background(), 1, metric.WithAttributes(m.role, attribute.String("origin", origin)))
	}
}
