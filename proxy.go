package broadcast

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/casualjim/broadcast/stream"
)

// ErrNoBroker is returned by a Proxy that has no delegate to resolve with.
var ErrNoBroker = errors.New("proxy has no broker")

// Resolver resolves identities to channels. It is implemented by *Broker
// and *Proxy.
type Resolver interface {
	Channel(ctx context.Context, id Identity) (*Channel, error)
}

var (
	_ Resolver = (*Broker)(nil)
	_ Resolver = (*Proxy)(nil)
)

type delegate struct{ Resolver }

type scopeKey struct{ proxy *Proxy }

// Proxy forwards to a delegate resolver that can be swapped at runtime,
// either for every caller with Use or for the dynamic extent of a context
// with RunUsing. Call sites that hold the proxy do not change.
type Proxy struct {
	current atomic.Pointer[delegate]
}

// NewProxy creates a proxy that forwards to r.
func NewProxy(r Resolver) *Proxy {
	p := &Proxy{}
	p.Use(r)
	return p
}

// Use makes r the delegate for every caller without a scoped override and
// returns the previous delegate.
func (p *Proxy) Use(r Resolver) Resolver {
	prev := p.current.Swap(&delegate{Resolver: r})
	if prev == nil {
		return nil
	}
	return prev.Resolver
}

// With returns a context in which p resolves through r. The override
// follows the context into every call and goroutine it is handed to.
func (p *Proxy) With(ctx context.Context, r Resolver) context.Context {
	return context.WithValue(ctx, scopeKey{proxy: p}, delegate{Resolver: r})
}

// RunUsing runs fn with a context in which p resolves through r. The
// override ends when fn returns; an enclosing override applies again.
func (p *Proxy) RunUsing(ctx context.Context, r Resolver, fn func(ctx context.Context) error) error {
	return fn(p.With(ctx, r))
}

// Current returns the delegate that resolves for ctx.
func (p *Proxy) Current(ctx context.Context) Resolver {
	if d, ok := ctx.Value(scopeKey{proxy: p}).(delegate); ok {
		return d.Resolver
	}
	if d := p.current.Load(); d != nil {
		return d.Resolver
	}
	return nil
}

// Channel resolves id through the scoped override in ctx, or the current
// delegate when there is none.
func (p *Proxy) Channel(ctx context.Context, id Identity) (*Channel, error) {
	r := p.Current(ctx)
	if r == nil {
		return nil, ErrNoBroker
	}
	return r.Channel(ctx, id)
}

// Publish resolves id and publishes data to the resulting channel.
//
// Parameters:
//   - ctx: the context, also consulted for a scoped delegate
//   - id: the channel identity
//   - data: the event
//
// Returns ErrNoBroker when no delegate resolves for ctx, the resolution
// error of the delegate, or the publish error of the channel.
func (p *Proxy) Publish(ctx context.Context, id Identity, data any) error {
	ch, err := p.Channel(ctx, id)
	if err != nil {
		return err
	}
	return ch.Publish(ctx, data)
}

// Observe resolves id and returns the multicast stream of the channel.
func (p *Proxy) Observe(ctx context.Context, id Identity) (stream.Stream[any], error) {
	ch, err := p.Channel(ctx, id)
	if err != nil {
		return nil, err
	}
	return ch.Observe(ctx), nil
}

// Subscribe resolves id and calls onEvent for every event of the channel.
func (p *Proxy) Subscribe(ctx context.Context, id Identity, onEvent func(context.Context, any)) (stream.Subscription, error) {
	ch, err := p.Channel(ctx, id)
	if err != nil {
		return nil, err
	}
	return ch.Subscribe(ctx, onEvent)
}

// Wait resolves id and returns the next event of the channel.
func (p *Proxy) Wait(ctx context.Context, id Identity) (any, error) {
	ch, err := p.Channel(ctx, id)
	if err != nil {
		return nil, err
	}
	return ch.Wait(ctx)
}
