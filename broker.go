package broadcast

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/broadcast/pkg/slogx"
	"github.com/casualjim/broadcast/stream"
	"github.com/casualjim/broadcast/transport"
	"github.com/fogfish/opts"
	"github.com/sourcegraph/conc/pool"
)

// Broker resolves identities to channels and multicasts the transport's
// stream of every channel to its local observers.
type Broker struct {
	transport transport.Transport
	logger    *slog.Logger
	metrics   *metrics

	// ctx is the context upstream transport subscriptions are opened with;
	// it is cancelled on shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	// mu serialises channel creation, reclamation and shutdown. Lookups of
	// live channels are lock free.
	mu         sync.Mutex
	live       *haxmap.Map[string, weak.Pointer[Channel]]
	subscribed *haxmap.Map[string, *Channel]
	upstreams  atomic.Int64

	closed   atomic.Bool
	shutdown sync.Once
}

// New creates a broker on top of t. Call Start before use when t needs a
// connection, and Shutdown once when done.
func New(t transport.Transport, options ...opts.Option[Broker]) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		transport:  t,
		ctx:        ctx,
		cancel:     cancel,
		live:       haxmap.New[string, weak.Pointer[Channel]](),
		subscribed: haxmap.New[string, *Channel](),
	}
	if err := opts.Apply(b, options); err != nil {
		panic(err)
	}
	if b.logger == nil {
		b.logger = slogx.Named("broadcast")
	}
	if b.metrics == nil {
		b.metrics = defaultMetrics()
	}
	return b
}

// Start starts the transport when it has a lifecycle.
func (b *Broker) Start(ctx context.Context) error {
	if err := transport.Start(ctx, b.transport); err != nil {
		return err
	}
	b.logger.Debug("broker started")
	return nil
}

// Channel returns the live channel for id, creating it when there is none.
// A *Channel of this broker is returned unchanged.
func (b *Broker) Channel(_ context.Context, id Identity) (*Channel, error) {
	if ch, ok := id.(*Channel); ok && ch != nil && ch.broker == b {
		return ch, nil
	}
	name, err := resolveName(id)
	if err != nil {
		return nil, err
	}
	if ch := b.lookup(name); ch != nil {
		return ch, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if ch := b.lookup(name); ch != nil {
		return ch, nil
	}
	ch := &Channel{name: name, broker: b}
	ref := weak.Make(ch)
	b.live.Set(name, ref)
	runtime.AddCleanup(ch, b.reclaim, reclaimed{name: name, ref: ref})
	return ch, nil
}

func (b *Broker) lookup(name string) *Channel {
	if ref, ok := b.live.Get(name); ok {
		return ref.Value()
	}
	return nil
}

type reclaimed struct {
	name string
	ref  weak.Pointer[Channel]
}

// reclaim drops the table entry of a collected channel, unless the name was
// rebuilt in the meantime.
func (b *Broker) reclaim(r reclaimed) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.live.Get(r.name); ok && cur == r.ref {
		b.live.Del(r.name)
	}
}

// Publish sends data to the channel of id. After Shutdown it does nothing.
func (b *Broker) Publish(ctx context.Context, id Identity, data any) error {
	name, err := resolveName(id)
	if err != nil {
		return err
	}
	if b.closed.Load() {
		return nil
	}
	if err := b.transport.Publish(ctx, name, data); err != nil {
		return err
	}
	b.metrics.addPublished(ctx, name)
	return nil
}

// Observe returns a cold multicast stream of the channel of id. All
// subscriptions of a channel share one transport subscription.
func (b *Broker) Observe(ctx context.Context, id Identity) (stream.Stream[any], error) {
	ch, err := b.Channel(ctx, id)
	if err != nil {
		return nil, err
	}
	return b.observe(ch), nil
}

func (b *Broker) observe(ch *Channel) stream.Stream[any] {
	return stream.Create(func(ctx context.Context, out stream.Observer[any]) (func(), error) {
		if b.closed.Load() {
			out.OnComplete(ctx)
			return nil, nil
		}
		sub, err := ch.multicast().Subscribe(ctx, stream.Preserve(ctx, b.instrument(ch.name, out)))
		if err != nil {
			return nil, err
		}

		key := sub.ID()
		b.subscribed.Set(key, ch)
		b.metrics.addSubscriptions(ctx, ch.name, 1)
		return func() {
			sub.Unsubscribe()
			b.subscribed.Del(key)
			b.metrics.addSubscriptions(ctx, ch.name, -1)
		}, nil
	})
}

// share builds the multicast observation of name.
func (b *Broker) share(name string) *stream.Shared[any] {
	src := stream.Defer(func(ctx context.Context) stream.Stream[any] {
		return b.transport.Observe(ctx, name)
	})
	return stream.Share(b.ctx, src,
		stream.OnConnect[any](func() {
			b.upstreams.Add(1)
			b.metrics.addUpstreams(b.ctx, name, 1)
			b.logger.Debug("channel active", slogx.Channel(name))
		}),
		stream.OnDisconnect[any](func() {
			b.upstreams.Add(-1)
			b.metrics.addUpstreams(b.ctx, name, -1)
			b.logger.Debug("channel idle", slogx.Channel(name))
		}),
	)
}

func (b *Broker) instrument(name string, out stream.Observer[any]) stream.Observer[any] {
	return stream.Funcs[any]{
		Next: func(ctx context.Context, v any) {
			b.metrics.addDelivered(ctx, name)
			out.OnNext(ctx, v)
		},
		Error: func(ctx context.Context, err error) {
			b.metrics.addStreamError(ctx, name)
			b.logger.Warn("channel failed", slogx.Channel(name), slogx.Error(err))
			out.OnError(ctx, err)
		},
		Complete: out.OnComplete,
	}
}

// Subscribe observes the channel of id and calls onEvent for every event.
func (b *Broker) Subscribe(ctx context.Context, id Identity, onEvent func(context.Context, any)) (stream.Subscription, error) {
	if onEvent == nil {
		return nil, stream.ErrObserverRequired
	}
	return b.SubscribeObserver(ctx, id, stream.Funcs[any]{Next: onEvent})
}

// SubscribeObserver observes the channel of id with obs.
func (b *Broker) SubscribeObserver(ctx context.Context, id Identity, obs stream.Observer[any]) (stream.Subscription, error) {
	if obs == nil {
		return nil, stream.ErrObserverRequired
	}
	src, err := b.Observe(ctx, id)
	if err != nil {
		return nil, err
	}
	return src.Subscribe(ctx, obs)
}

type waited struct {
	value any
	err   error
}

// Wait returns the next event of the channel of id and stops observing.
// It returns stream.ErrCompleted when the channel completes first, the
// stream error when it fails first, and the context error when ctx ends.
func (b *Broker) Wait(ctx context.Context, id Identity) (any, error) {
	src, err := b.Observe(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	result := make(chan waited, 1)
	deliver := func(w waited) {
		select {
		case result <- w:
		default:
		}
	}
	sub, err := src.Subscribe(ctx, stream.Funcs[any]{
		Next:     func(_ context.Context, v any) { deliver(waited{value: v}) },
		Error:    func(_ context.Context, err error) { deliver(waited{err: err}) },
		Complete: func(context.Context) { deliver(waited{err: stream.ErrCompleted}) },
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	select {
	case w := <-result:
		return w.value, w.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Iterate returns a pull iterator over the channel of id. The sequence only
// ends on Close or Shutdown, so the caller must Close it.
func (b *Broker) Iterate(ctx context.Context, id Identity) (*stream.Iterator[any], error) {
	src, err := b.Observe(ctx, id)
	if err != nil {
		return nil, err
	}
	return stream.Iterate(ctx, src)
}

// All ranges over the events of the channel of id until the loop breaks,
// ctx ends or the broker shuts down. An invalid identity is yielded as the
// only element.
func (b *Broker) All(ctx context.Context, id Identity) iter.Seq2[any, error] {
	src, err := b.Observe(ctx, id)
	if err != nil {
		return func(yield func(any, error) bool) { yield(nil, err) }
	}
	return stream.All(ctx, src)
}

// Shutdown completes every subscription on every channel, makes later
// observations complete immediately and stops the transport. It waits for
// subscribers to take their completion until ctx ends; a subscriber still
// stuck in a callback by then makes Shutdown return the error of ctx. Only
// the first call has an effect.
func (b *Broker) Shutdown(ctx context.Context) error {
	var err error
	b.shutdown.Do(func() {
		b.mu.Lock()
		b.closed.Store(true)
		var channels []*Channel
		b.live.ForEach(func(_ string, ref weak.Pointer[Channel]) bool {
			if ch := ref.Value(); ch != nil {
				channels = append(channels, ch)
			}
			return true
		})
		b.mu.Unlock()

		drain := pool.New().WithErrors().WithFirstError()
		for _, ch := range channels {
			drain.Go(func() error { return ch.multicast().Complete(ctx) })
		}
		drainErr := drain.Wait()
		if drainErr != nil {
			b.logger.Warn("shutdown gave up on busy subscribers", slogx.Error(drainErr))
		}
		b.cancel()

		err = errors.Join(drainErr, transport.Stop(ctx, b.transport))
		b.logger.Info("broker shut down", slog.Int("channels", len(channels)))
	})
	return err
}

// Stats is a point in time view of the broker.
type Stats struct {
	// Channels is the number of live channels.
	Channels int
	// Subscriptions is the number of open local subscriptions.
	Subscriptions int
	// Upstreams is the number of open transport subscriptions.
	Upstreams int
}

// Stats counts the live channels, open subscriptions and open transport
// subscriptions. The counts are read without a common lock, so they may be
// momentarily inconsistent with each other while subscriptions change.
func (b *Broker) Stats() Stats {
	var channels int
	b.live.ForEach(func(_ string, ref weak.Pointer[Channel]) bool {
		if ref.Value() != nil {
			channels++
		}
		return true
	})
	return Stats{
		Channels:      channels,
		Subscriptions: int(b.subscribed.Len()),
		Upstreams:     int(b.upstreams.Load()),
	}
}

// LogValue implements slog.LogValuer with the current Stats.
func (b *Broker) LogValue() slog.Value {
	s := b.Stats()
	return slog.GroupValue(
		slog.Int("channels", s.Channels),
		slog.Int("subscriptions", s.Subscriptions),
		slog.Int("upstreams", s.Upstreams),
	)
}
