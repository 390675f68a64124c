package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/casualjim/broadcast/pkg/slogx"
	"github.com/casualjim/broadcast/stream"
	"github.com/cenkalti/backoff/v5"
	"github.com/fogfish/opts"
	"github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc"
)

const (
	redisMaxReconnectInterval = 5 * time.Second
	redisSubscribeTimeout     = 5 * time.Second
	redisStartTimeout         = 30 * time.Second
)

var (
	// WithRedisCodec sets the payload codec of the Redis transport.
	WithRedisCodec = opts.ForName[RedisBus, Codec]("codec")
	// WithRedisStartTimeout bounds how long Start keeps pinging the server.
	WithRedisStartTimeout = opts.ForName[RedisBus, time.Duration]("startTimeout")
	// WithRedisLocal sets the local bus that fans received messages out.
	WithRedisLocal = opts.ForName[RedisBus, *LocalBus]("local")
)

// RedisBus publishes with Redis PUBLISH and receives through a single
// pubsub connection. Received messages are fanned out to observers through a
// wrapped local bus, so a channel observed many times in this process is
// subscribed to only once on the server.
type RedisBus struct {
	client       *redis.Client
	local        *LocalBus
	codec        Codec
	startTimeout time.Duration

	// mu guards the pubsub handle and the channel reference counts, and
	// orders SUBSCRIBE/UNSUBSCRIBE commands for the same channel.
	mu      sync.Mutex
	pubsub  *redis.PubSub
	refs    map[string]*channelRef
	cancel  context.CancelFunc
	stopped bool
	wg      conc.WaitGroup
	stop    sync.Once
}

type channelRef struct {
	count int
	ready chan struct{}
	once  sync.Once
}

func (r *channelRef) confirm() { r.once.Do(func() { close(r.ready) }) }

// Redis creates a transport over client. Start must be called before
// anything can be observed; Stop closes the client.
func Redis(client *redis.Client, options ...opts.Option[RedisBus]) *RedisBus {
	b := &RedisBus{
		client:       client,
		codec:        JSON(),
		startTimeout: redisStartTimeout,
		refs:         make(map[string]*channelRef),
	}
	if err := opts.Apply(b, options); err != nil {
		panic(err)
	}
	if b.local == nil {
		b.local = Local()
	}
	return b
}

func (b *RedisBus) log() *slog.Logger {
	return logger().With(slog.String("transport", "redis"))
}

// Start pings the server with exponential backoff until it answers or the
// start timeout expires, then starts receiving.
func (b *RedisBus) Start(ctx context.Context) error {
	b.mu.Lock()
	started, stopped := b.pubsub != nil, b.stopped
	b.mu.Unlock()
	if stopped {
		return ErrConnectionClosed
	}
	if started {
		return nil
	}

	if err := b.ping(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return ErrConnectionClosed
	}
	if b.pubsub != nil {
		return nil
	}
	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.cancel = cancel
	b.pubsub = b.client.Subscribe(rctx)
	ps := b.pubsub
	b.wg.Go(func() { b.receive(rctx, ps) })
	return nil
}

func (b *RedisBus) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.startTimeout)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = redisMaxReconnectInterval
	for {
		err := b.client.Ping(ctx).Err()
		if err == nil {
			return nil
		}
		b.log().Warn("redis not reachable yet", slogx.Error(err))

		sleep := bo.NextBackOff()
		if sleep == backoff.Stop {
			sleep = redisMaxReconnectInterval
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("redis ping %s: %w", b.client.Options().Addr, errors.Join(err, ctx.Err()))
		case <-time.After(sleep):
		}
	}
}

// Stop unsubscribes every channel, closes the pubsub connection, waits for
// the receive loop and closes the client.
func (b *RedisBus) Stop(ctx context.Context) error {
	var err error
	b.stop.Do(func() {
		b.mu.Lock()
		ps, cancel := b.pubsub, b.cancel
		b.pubsub, b.cancel, b.stopped = nil, nil, true
		b.refs = make(map[string]*channelRef)
		b.mu.Unlock()

		if ps != nil {
			cancel()
			if uerr := ps.Unsubscribe(ctx); uerr != nil && !errors.Is(uerr, redis.ErrClosed) {
				err = errors.Join(err, fmt.Errorf("redis unsubscribe: %w", uerr))
			}
			if cerr := ps.Close(); cerr != nil && !errors.Is(cerr, redis.ErrClosed) {
				err = errors.Join(err, fmt.Errorf("redis pubsub close: %w", cerr))
			}
			b.wg.Wait()
		}
		b.local.Fail(ErrConnectionClosed)
		if cerr := b.client.Close(); cerr != nil && !errors.Is(cerr, redis.ErrClosed) {
			err = errors.Join(err, fmt.Errorf("redis close: %w", cerr))
		}
	})
	return err
}

// Publish encodes data with the bus codec and publishes it on the Redis
// channel name.
func (b *RedisBus) Publish(ctx context.Context, name string, data any) error {
	payload, err := b.codec.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode event for %q: %w", name, err)
	}
	if err := b.client.Publish(ctx, name, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %q: %w", name, err)
	}
	return nil
}

// Observe subscribes to name on the server for the first local observer and
// unsubscribes after the last one left.
func (b *RedisBus) Observe(ctx context.Context, name string) stream.Stream[any] {
	inner := b.local.Observe(ctx, name)
	return stream.Create(func(ctx context.Context, out stream.Observer[any]) (func(), error) {
		if err := b.acquire(ctx, name); err != nil {
			return nil, err
		}
		sub, err := inner.Subscribe(ctx, out)
		if err != nil {
			b.release(name)
			return nil, err
		}
		var once sync.Once
		return func() {
			once.Do(func() {
				sub.Unsubscribe()
				b.release(name)
			})
		}, nil
	})
}

// acquire takes a reference on name and waits until the server confirmed
// the subscription.
func (b *RedisBus) acquire(ctx context.Context, name string) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return ErrConnectionClosed
	}
	if b.pubsub == nil {
		b.mu.Unlock()
		return ErrNotStarted
	}
	ref, ok := b.refs[name]
	if !ok {
		ref = &channelRef{ready: make(chan struct{})}
		b.refs[name] = ref
		if err := b.pubsub.Subscribe(ctx, name); err != nil {
			delete(b.refs, name)
			b.mu.Unlock()
			return fmt.Errorf("redis subscribe %q: %w", name, err)
		}
	}
	ref.count++
	b.mu.Unlock()

	timer := time.NewTimer(redisSubscribeTimeout)
	defer timer.Stop()
	select {
	case <-ref.ready:
		return nil
	case <-ctx.Done():
		b.release(name)
		return ctx.Err()
	case <-timer.C:
		b.release(name)
		return fmt.Errorf("redis subscribe %q: confirmation timed out", name)
	}
}

func (b *RedisBus) release(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ref, ok := b.refs[name]
	if !ok {
		return
	}
	ref.count--
	if ref.count > 0 {
		return
	}
	delete(b.refs, name)
	if b.pubsub == nil {
		return
	}
	if err := b.pubsub.Unsubscribe(context.Background(), name); err != nil && !errors.Is(err, redis.ErrClosed) {
		b.log().Error("failed to unsubscribe", slogx.Channel(name), slogx.Error(err))
	}
}

func (b *RedisBus) confirm(name string) {
	b.mu.Lock()
	ref, ok := b.refs[name]
	b.mu.Unlock()
	if ok {
		ref.confirm()
	}
}

// receive forwards server messages into the local bus until ctx is done or
// the pubsub is closed. Receive errors fail every open observation; the
// loop then backs off and keeps receiving while go-redis reconnects.
func (b *RedisBus) receive(ctx context.Context, ps *redis.PubSub) {
	lg := b.log()
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = redisMaxReconnectInterval

	for {
		msg, err := ps.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return
			}
			lg.Warn("redis receive failed", slogx.Error(err))
			b.local.Fail(fmt.Errorf("%w: %w", ErrConnectionClosed, err))

			sleep := bo.NextBackOff()
			if sleep == backoff.Stop {
				sleep = redisMaxReconnectInterval
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(sleep):
			}
			continue
		}
		bo.Reset()

		switch m := msg.(type) {
		case *redis.Subscription:
			if m.Kind == "subscribe" {
				b.confirm(m.Channel)
			}
		case *redis.Message:
			data, err := b.codec.Unmarshal([]byte(m.Payload))
			if err != nil {
				lg.Error("failed to decode event", slogx.Channel(m.Channel), slogx.Error(err))
				continue
			}
			if err := b.local.Publish(ctx, m.Channel, data); err != nil && ctx.Err() == nil {
				lg.Error("failed to fan out event", slogx.Channel(m.Channel), slogx.Error(err))
			}
		case *redis.Pong:
		}
	}
}
