package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/broadcast/pkg/slogx"
	"github.com/casualjim/broadcast/pkg/uuidx"
	"github.com/casualjim/broadcast/stream"
	"github.com/fogfish/opts"
)

const (
	defaultBufferSize            = 50
	defaultSlowSubscriberTimeout = 100 * time.Millisecond
)

var (
	// WithBufferSize sets the per-subscription queue length of the local bus.
	WithBufferSize = opts.ForName[LocalBus, int]("bufferSize")
	// WithSlowSubscriberTimeout sets how long a publish waits on a full
	// subscription queue before that subscription is failed.
	WithSlowSubscriberTimeout = opts.ForName[LocalBus, time.Duration]("slowSubscriberTimeout")
)

// LocalBus is an in-process transport. Published data is handed to
// observers by reference.
type LocalBus struct {
	// mu serialises topic creation and removal; publishing is lock free.
	mu     sync.Mutex
	topics *haxmap.Map[string, *topic]

	bufferSize            int
	slowSubscriberTimeout time.Duration
}

// Local creates an in-process transport.
func Local(options ...opts.Option[LocalBus]) *LocalBus {
	b := &LocalBus{
		topics:                haxmap.New[string, *topic](),
		bufferSize:            defaultBufferSize,
		slowSubscriberTimeout: defaultSlowSubscriberTimeout,
	}
	if err := opts.Apply(b, options); err != nil {
		panic(err)
	}
	return b
}

type topic struct {
	name          string
	subscriptions *haxmap.Map[string, *subscription]
}

// Publish queues data for every current observer of name. A subscription
// whose queue stays full for the slow subscriber timeout is failed with
// ErrSlowSubscriber; the remaining observers still get the event.
func (b *LocalBus) Publish(ctx context.Context, name string, data any) error {
	t, ok := b.topics.Get(name)
	if !ok {
		return nil
	}

	var err error
	t.subscriptions.ForEach(func(_ string, sub *subscription) bool {
		if sub == nil {
			return true
		}
		select {
		case <-sub.done:
			return true
		case <-ctx.Done():
			err = ctx.Err()
			return false
		case sub.queue <- data:
			return true
		default:
		}

		timer := time.NewTimer(b.slowSubscriberTimeout)
		defer timer.Stop()
		select {
		case <-sub.done:
		case <-ctx.Done():
			err = ctx.Err()
			return false
		case sub.queue <- data:
		case <-timer.C:
			sub.fail(fmt.Errorf("%w on %q", ErrSlowSubscriber, name))
		}
		return true
	})
	return err
}

// Observe returns a cold stream of the data published under name. Every
// subscription gets its own queue and forwarding goroutine.
func (b *LocalBus) Observe(_ context.Context, name string) stream.Stream[any] {
	return stream.Create(func(ctx context.Context, out stream.Observer[any]) (func(), error) {
		sub := b.attach(ctx, name, out)
		return sub.close, nil
	})
}

// Fail terminates every open observation with err.
func (b *LocalBus) Fail(err error) {
	b.topics.ForEach(func(_ string, t *topic) bool {
		t.subscriptions.ForEach(func(_ string, sub *subscription) bool {
			sub.fail(err)
			return true
		})
		return true
	})
}

// Observers returns the number of open observations of name.
func (b *LocalBus) Observers(name string) int {
	t, ok := b.topics.Get(name)
	if !ok {
		return 0
	}
	return int(t.subscriptions.Len())
}

func (b *LocalBus) attach(ctx context.Context, name string, out stream.Observer[any]) *subscription {
	sub := &subscription{
		id:    uuidx.Prefixed("local"),
		ctx:   ctx,
		queue: make(chan any, b.bufferSize),
		done:  make(chan struct{}),
		out:   out,
	}
	sub.onClose = func() { b.detach(name, sub.id) }

	b.mu.Lock()
	t, _ := b.topics.GetOrCompute(name, func() *topic {
		return &topic{
			name:          name,
			subscriptions: haxmap.New[string, *subscription](),
		}
	})
	t.subscriptions.Set(sub.id, sub)
	b.mu.Unlock()

	go sub.forward()
	return sub
}

func (b *LocalBus) detach(name, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics.Get(name)
	if !ok {
		return
	}
	t.subscriptions.Del(id)
	if t.subscriptions.Len() == 0 {
		b.topics.Del(name)
	}
}

type subscription struct {
	id      string
	ctx     context.Context
	queue   chan any
	done    chan struct{}
	once    sync.Once
	onClose func()
	out     stream.Observer[any]
}

// close stops forwarding. The queue is never closed, so a concurrent
// publisher can not send on a closed channel.
func (s *subscription) close() {
	s.once.Do(func() {
		close(s.done)
		s.onClose()
	})
}

// fail stops forwarding right away and reports err to the observer without
// waiting for a callback that may still be running.
func (s *subscription) fail(err error) {
	select {
	case <-s.done:
		return
	default:
	}
	logger().Warn("terminating local subscription", slogx.Subscription(s.id), slogx.Error(err))
	s.close()
	go s.out.OnError(s.ctx, err)
}

func (s *subscription) forward() {
	for {
		select {
		case <-s.done:
			return
		case data := <-s.queue:
			select {
			case <-s.done:
				return
			default:
			}
			s.out.OnNext(s.ctx, data)
		}
	}
}
