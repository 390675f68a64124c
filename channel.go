package broadcast

import (
	"context"
	"iter"
	"sync"

	"github.com/casualjim/broadcast/stream"
)

// Channel is a named endpoint bound to one Broker. Resolving the same name
// on a broker returns the same *Channel for as long as it is referenced.
// All operations forward to the broker.
type Channel struct {
	name   string
	broker *Broker

	once   sync.Once
	shared *stream.Shared[any]
}

func (c *Channel) channelName() (string, error) {
	if c == nil || c.name == "" {
		return "", ErrInvalidIdentity
	}
	return c.name, nil
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// String returns the channel name, so a *Channel prints as its name.
func (c *Channel) String() string { return c.name }

// multicast returns the memoized shared observation of this channel.
func (c *Channel) multicast() *stream.Shared[any] {
	c.once.Do(func() { c.shared = c.broker.share(c.name) })
	return c.shared
}

// Publish sends data to every observer of the channel.
func (c *Channel) Publish(ctx context.Context, data any) error {
	return c.broker.Publish(ctx, c, data)
}

// Observe returns the cold multicast stream of the channel. See
// Broker.Observe.
func (c *Channel) Observe(ctx context.Context) stream.Stream[any] {
	return c.broker.observe(c)
}

// Subscribe calls onEvent for every event of the channel until the
// subscription is released or ctx ends.
func (c *Channel) Subscribe(ctx context.Context, onEvent func(context.Context, any)) (stream.Subscription, error) {
	return c.broker.Subscribe(ctx, c, onEvent)
}

// SubscribeObserver observes the channel with obs.
func (c *Channel) SubscribeObserver(ctx context.Context, obs stream.Observer[any]) (stream.Subscription, error) {
	return c.broker.SubscribeObserver(ctx, c, obs)
}

// Wait returns the next event of the channel. See Broker.Wait.
func (c *Channel) Wait(ctx context.Context) (any, error) {
	return c.broker.Wait(ctx, c)
}

// Iterate returns a pull iterator over the channel; the caller must Close it.
func (c *Channel) Iterate(ctx context.Context) (*stream.Iterator[any], error) {
	return c.broker.Iterate(ctx, c)
}

// All ranges over the events of the channel.
func (c *Channel) All(ctx context.Context) iter.Seq2[any, error] {
	return c.broker.All(ctx, c)
}
