package app

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "ktk-realtime"

// Metrics holds the counters shared by fan-out, push and calls. Without a
// meter provider installed by the process they are no-ops.
type Metrics struct {
	deliveries metric.Int64Counter
	push       metric.Int64Counter
	calls      metric.Int64Counter
}

func NewMetrics() *Metrics {
	meter := otel.Meter(meterName)
	deliveries, _ := meter.Int64Counter("fanout_deliveries_total",
		metric.WithDescription("Events delivered to live connections"))
	push, _ := meter.Int64Counter("push_candidates_total",
		metric.WithDescription("Events handed to the push bridge"))
	calls, _ := meter.Int64Counter("call_sessions_total",
		metric.WithDescription("Call sessions torn down, by outcome"))
	return &Metrics{deliveries: deliveries, push: push, calls: calls}
}

func (m *Metrics) Delivered(event string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.deliveries.Add(context.Background(), int64(n), metric.WithAttributes(attribute.String("event", event)))
}

func (m *Metrics) PushCandidate(kind string) {
	if m == nil {
		return
	}
	m.push.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) CallEnded(outcome string) {
	if m == nil {
		return
	}
	m.calls.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
