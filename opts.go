package broadcast

import (
	"log/slog"

	"github.com/fogfish/opts"
	"go.opentelemetry.io/otel/metric"
)

// WithLogger sets the logger the broker reports lifecycle events and
// observer failures on. It defaults to the slog default logger.
var WithLogger = opts.ForName[Broker, *slog.Logger]("logger")

// WithMeter sets the meter the broker records its instruments on. It
// defaults to the global "broadcast" meter.
func WithMeter(meter metric.Meter) opts.Option[Broker] {
	return opts.Type[Broker](func(b *Broker) error {
		b.metrics = newMetrics(meter)
		return nil
	})
}
