package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/casualjim/broadcast/pkg/slogx"
	"github.com/casualjim/broadcast/stream"
	"github.com/fogfish/opts"
	"github.com/nats-io/nats.go"
)

// WithNATSCodec sets the payload codec of the NATS transport.
var WithNATSCodec = opts.ForName[NATSBus, Codec]("codec")

// NATSBus publishes on NATS subjects named after the channel.
type NATSBus struct {
	client *nats.Conn
	codec  Codec
}

// NATS creates a transport over an established NATS connection. The
// connection is drained by Stop.
func NATS(client *nats.Conn, options ...opts.Option[NATSBus]) *NATSBus {
	b := &NATSBus{
		client: client,
		codec:  JSON(),
	}
	if err := opts.Apply(b, options); err != nil {
		panic(err)
	}
	return b
}

func (b *NATSBus) log() *slog.Logger {
	return logger().With(slog.String("transport", "nats"))
}

// Start verifies the connection with a round trip to the server.
func (b *NATSBus) Start(ctx context.Context) error {
	if b.client.IsClosed() {
		return ErrConnectionClosed
	}
	if err := b.client.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}

// Stop drains the connection: pending messages are delivered, then the
// connection closes.
func (b *NATSBus) Stop(context.Context) error {
	if err := b.client.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}

// Publish encodes data with the bus codec and publishes it on subject name.
func (b *NATSBus) Publish(_ context.Context, name string, data any) error {
	payload, err := b.codec.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode event for %q: %w", name, err)
	}
	if err := b.client.Publish(name, payload); err != nil {
		return fmt.Errorf("nats publish %q: %w", name, err)
	}
	return nil
}

// Observe opens one NATS subscription per stream subscription.
func (b *NATSBus) Observe(_ context.Context, name string) stream.Stream[any] {
	return stream.Create(func(ctx context.Context, out stream.Observer[any]) (func(), error) {
		lg := b.log().With(slogx.Channel(name))
		nsub, err := b.client.Subscribe(name, func(msg *nats.Msg) {
			data, err := b.codec.Unmarshal(msg.Data)
			if err != nil {
				lg.Error("failed to decode event", slogx.Error(err))
				return
			}
			out.OnNext(ctx, data)
		})
		if err != nil {
			return nil, fmt.Errorf("nats subscribe %q: %w", name, err)
		}

		var released atomic.Bool
		nsub.SetClosedHandler(func(string) {
			if !released.Load() {
				out.OnError(ctx, ErrConnectionClosed)
			}
		})
		return func() {
			released.Store(true)
			if err := nsub.Unsubscribe(); err != nil &&
				!errors.Is(err, nats.ErrConnectionClosed) &&
				!errors.Is(err, nats.ErrBadSubscription) {
				lg.Error("failed to unsubscribe", slogx.Error(err))
			}
		}, nil
	})
}
