package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/casualjim/broadcast/pkg/slogx"
	"github.com/casualjim/broadcast/pkg/uuidx"
	"github.com/sourcegraph/conc/panics"
)

func logger() *slog.Logger { return slogx.Named("broadcast.stream") }

// sink is the guarded observer handed to producers and the Subscription
// handed back to callers. Deliveries are serialised by mu; termination is
// lock free so an observer can unsubscribe from inside its own callback.
type sink[T any] struct {
	id  string
	obs Observer[T]

	mu     sync.Mutex
	closed atomic.Bool
	done   chan struct{}

	tmu      sync.Mutex
	finished bool
	teardown func()
	onFinish []func()
	stopCtx  func() bool
}

func newSink[T any](obs Observer[T]) *sink[T] {
	return &sink[T]{
		id:   uuidx.Prefixed("sub"),
		obs:  obs,
		done: make(chan struct{}),
	}
}

func (s *sink[T]) ID() string { return s.id }

func (s *sink[T]) Done() <-chan struct{} { return s.done }

func (s *sink[T]) Unsubscribe() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.finish()
}

func (s *sink[T]) OnNext(ctx context.Context, value T) {
	if s.closed.Load() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return
	}
	s.call(func() { s.obs.OnNext(ctx, value) })
}

func (s *sink[T]) OnError(ctx context.Context, err error) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	s.call(func() { s.obs.OnError(ctx, err) })
	s.mu.Unlock()
	s.finish()
}

func (s *sink[T]) OnComplete(ctx context.Context) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	s.call(func() { s.obs.OnComplete(ctx) })
	s.mu.Unlock()
	s.finish()
}

func (s *sink[T]) call(fn func()) {
	var pc panics.Catcher
	pc.Try(fn)
	if r := pc.Recovered(); r != nil {
		logger().Error("observer callback panicked", slogx.Subscription(s.id), slogx.Error(r.AsError()))
	}
}

// setTeardown registers the producer teardown. When the sink already
// finished, the teardown runs right away.
func (s *sink[T]) setTeardown(fn func()) {
	if fn == nil {
		return
	}
	s.tmu.Lock()
	if s.finished {
		s.tmu.Unlock()
		fn()
		return
	}
	s.teardown = fn
	s.tmu.Unlock()
}

// afterFinish registers a hook that runs once the sink terminated.
func (s *sink[T]) afterFinish(fn func()) {
	s.tmu.Lock()
	if s.finished {
		s.tmu.Unlock()
		fn()
		return
	}
	s.onFinish = append(s.onFinish, fn)
	s.tmu.Unlock()
}

// watch ties the subscription to ctx: cancelling ctx unsubscribes.
func (s *sink[T]) watch(ctx context.Context) {
	if ctx.Done() == nil {
		return
	}
	stop := context.AfterFunc(ctx, s.Unsubscribe)
	s.tmu.Lock()
	if s.finished {
		s.tmu.Unlock()
		stop()
		return
	}
	s.stopCtx = stop
	s.tmu.Unlock()
}

func (s *sink[T]) finish() {
	s.tmu.Lock()
	if s.finished {
		s.tmu.Unlock()
		return
	}
	s.finished = true
	teardown, hooks, stop := s.teardown, s.onFinish, s.stopCtx
	s.teardown, s.onFinish, s.stopCtx = nil, nil, nil
	s.tmu.Unlock()

	close(s.done)
	if stop != nil {
		stop()
	}
	if teardown != nil {
		teardown()
	}
	for _, fn := range hooks {
		fn()
	}
}

// closedSubscription is returned when there is nothing left to observe.
func closedSubscription() Subscription {
	s := &sink[struct{}]{id: uuidx.Prefixed("sub"), done: make(chan struct{})}
	s.closed.Store(true)
	s.finish()
	return s
}

var _ slog.LogValuer = (*sink[any])(nil)

func (s *sink[T]) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", s.id),
		slog.Bool("closed", s.closed.Load()),
	)
}
