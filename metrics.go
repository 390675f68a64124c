package broadcast

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	published     metric.Int64Counter
	delivered     metric.Int64Counter
	streamErrors  metric.Int64Counter
	subscriptions metric.Int64UpDownCounter
	upstreams     metric.Int64UpDownCounter
}

func defaultMetrics() *metrics {
	return newMetrics(otel.Meter("broadcast"))
}

func newMetrics(meter metric.Meter) *metrics {
	m := &metrics{}
	m.published, _ = meter.Int64Counter("broadcast.events.published",
		metric.WithDescription("Number of events published through the broker"),
		metric.WithUnit("{event}"))
	m.delivered, _ = meter.Int64Counter("broadcast.events.delivered",
		metric.WithDescription("Number of events delivered to local observers"),
		metric.WithUnit("{event}"))
	m.streamErrors, _ = meter.Int64Counter("broadcast.stream.errors",
		metric.WithDescription("Number of stream errors delivered to local observers"),
		metric.WithUnit("{error}"))
	m.subscriptions, _ = meter.Int64UpDownCounter("broadcast.subscriptions",
		metric.WithDescription("Number of open local subscriptions"),
		metric.WithUnit("{subscription}"))
	m.upstreams, _ = meter.Int64UpDownCounter("broadcast.upstream.connections",
		metric.WithDescription("Number of open transport subscriptions"),
		metric.WithUnit("{subscription}"))
	return m
}

func channelAttr(name string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("channel", name))
}

func (m *metrics) addPublished(ctx context.Context, name string) {
	if m.published != nil {
		m.published.Add(ctx, 1, channelAttr(name))
	}
}

func (m *metrics) addDelivered(ctx context.Context, name string) {
	if m.delivered != nil {
		m.delivered.Add(ctx, 1, channelAttr(name))
	}
}

func (m *metrics) addStreamError(ctx context.Context, name string) {
	if m.streamErrors != nil {
		m.streamErrors.Add(ctx, 1, channelAttr(name))
	}
}

func (m *metrics) addSubscriptions(ctx context.Context, name string, n int64) {
	if m.subscriptions != nil {
		m.subscriptions.Add(ctx, n, channelAttr(name))
	}
}

func (m *metrics) addUpstreams(ctx context.Context, name string, n int64) {
	if m.upstreams != nil {
		m.upstreams.Add(ctx, n, channelAttr(name))
	}
}
