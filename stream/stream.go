package stream

import (
	"context"
	"errors"
)

var (
	// ErrObserverRequired is returned when Subscribe is called with a nil observer.
	ErrObserverRequired = errors.New("observer is required")
	// ErrCompleted is returned by pull-style consumers once the stream completed
	// or the subscription was released without an error.
	ErrCompleted = errors.New("stream completed")
)

// Observer receives the events of a stream. After OnError or OnComplete no
// further callbacks are made.
type Observer[T any] interface {
	OnNext(ctx context.Context, value T)
	OnError(ctx context.Context, err error)
	OnComplete(ctx context.Context)
}

// Subscription is the handle of an active observation.
type Subscription interface {
	ID() string
	// Unsubscribe stops delivery to the observer. It is safe to call more than
	// once and from inside an observer callback.
	Unsubscribe()
	// Done is closed once the subscription terminated, either through
	// Unsubscribe, context cancellation, an error or completion.
	Done() <-chan struct{}
}

// Stream is a cold, push-based sequence of events.
type Stream[T any] interface {
	Subscribe(ctx context.Context, obs Observer[T]) (Subscription, error)
}

// Funcs adapts plain functions to an Observer. Nil fields are skipped.
type Funcs[T any] struct {
	Next     func(context.Context, T)
	Error    func(context.Context, error)
	Complete func(context.Context)
}

func (f Funcs[T]) OnNext(ctx context.Context, value T) {
	if f.Next != nil {
		f.Next(ctx, value)
	}
}

func (f Funcs[T]) OnError(ctx context.Context, err error) {
	if f.Error != nil {
		f.Error(ctx, err)
	}
}

func (f Funcs[T]) OnComplete(ctx context.Context) {
	if f.Complete != nil {
		f.Complete(ctx)
	}
}

// Producer starts emitting into out and returns the teardown that stops it.
// Returning an error delivers it to the observer as a stream error.
// The teardown must not block on in-flight deliveries: observers are allowed
// to unsubscribe from inside their own callbacks.
type Producer[T any] func(ctx context.Context, out Observer[T]) (teardown func(), err error)

// Create builds a cold stream from a producer. Each Subscribe runs the
// producer with a guarded observer bound to the subscribe context:
// cancelling that context unsubscribes.
func Create[T any](produce Producer[T]) Stream[T] {
	return producerStream[T]{produce: produce}
}

type producerStream[T any] struct {
	produce Producer[T]
}

func (p producerStream[T]) Subscribe(ctx context.Context, obs Observer[T]) (Subscription, error) {
	if obs == nil {
		return nil, ErrObserverRequired
	}
	s := newSink(obs)
	teardown, err := p.produce(ctx, s)
	if err != nil {
		s.OnError(ctx, err)
	}
	s.setTeardown(teardown)
	s.watch(ctx)
	return s, nil
}

// Defer builds a stream that calls factory on every Subscribe and subscribes
// to the stream it returns.
func Defer[T any](factory func(ctx context.Context) Stream[T]) Stream[T] {
	return deferred[T](factory)
}

type deferred[T any] func(ctx context.Context) Stream[T]

func (d deferred[T]) Subscribe(ctx context.Context, obs Observer[T]) (Subscription, error) {
	if obs == nil {
		return nil, ErrObserverRequired
	}
	return d(ctx).Subscribe(ctx, obs)
}

// Empty returns a stream that completes immediately on Subscribe.
func Empty[T any]() Stream[T] {
	return Create(func(ctx context.Context, out Observer[T]) (func(), error) {
		out.OnComplete(ctx)
		return nil, nil
	})
}

// Fail returns a stream that errors with err immediately on Subscribe.
func Fail[T any](err error) Stream[T] {
	return Create(func(context.Context, Observer[T]) (func(), error) {
		return nil, err
	})
}
