package stream

import (
	"context"
	"errors"
	"iter"
	"runtime"
	"sync"

	"github.com/casualjim/broadcast/pkg/stdx"
)

// Iterator pulls the events of a pushed stream. Events that arrive before
// Next asks for them are buffered in arrival order.
//
// An iterator holds a subscription until Close is called, the stream
// terminates, or the iterator becomes unreachable.
type Iterator[T any] struct {
	state   *pull[T]
	sub     Subscription
	cleanup runtime.Cleanup
	once    sync.Once
}

// pull is the state shared between the push side and Next. It must not
// reference the Iterator, otherwise the cleanup would never run.
type pull[T any] struct {
	mu     sync.Mutex
	queue  []T
	err    error
	ended  bool
	signal chan struct{}
}

func (p *pull[T]) notify() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

func (p *pull[T]) OnNext(_ context.Context, value T) {
	p.mu.Lock()
	p.queue = append(p.queue, value)
	p.mu.Unlock()
	p.notify()
}

func (p *pull[T]) OnError(_ context.Context, err error) {
	p.end(err)
}

func (p *pull[T]) OnComplete(context.Context) {
	p.end(ErrCompleted)
}

func (p *pull[T]) end(err error) {
	p.mu.Lock()
	if !p.ended {
		p.ended = true
		p.err = err
	}
	p.mu.Unlock()
	p.notify()
}

// discard drops buffered events and ends the iteration.
func (p *pull[T]) discard() {
	p.mu.Lock()
	p.queue = nil
	p.ended = true
	p.err = ErrCompleted
	p.mu.Unlock()
	p.notify()
}

func (p *pull[T]) take() (value T, ok bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) > 0 {
		value = p.queue[0]
		p.queue[0] = stdx.Zero[T]()
		p.queue = p.queue[1:]
		return value, true, nil
	}
	if p.ended {
		return value, true, p.err
	}
	return value, false, nil
}

// Iterate subscribes to src and returns an iterator over its events.
func Iterate[T any](ctx context.Context, src Stream[T]) (*Iterator[T], error) {
	state := &pull[T]{signal: make(chan struct{}, 1)}
	sub, err := src.Subscribe(ctx, state)
	if err != nil {
		return nil, err
	}
	it := &Iterator[T]{state: state, sub: sub}
	it.cleanup = runtime.AddCleanup(it, func(sub Subscription) { sub.Unsubscribe() }, sub)
	return it, nil
}

// Next blocks until the next event is available and returns it. Once the
// stream failed Next returns that error; once it completed, or the iterator
// was closed, Next returns ErrCompleted. Cancelling ctx only abandons this
// call: the iterator stays usable.
func (it *Iterator[T]) Next(ctx context.Context) (T, error) {
	for {
		if value, ok, err := it.state.take(); ok {
			return value, err
		}
		select {
		case <-it.state.signal:
		case <-it.sub.Done():
			// a plain unsubscribe ends the stream without a terminal event
			it.state.end(ErrCompleted)
		case <-ctx.Done():
			return stdx.Zero[T](), ctx.Err()
		}
	}
}

// Close releases the subscription and drops events that were not pulled yet.
// Later calls to Next return ErrCompleted. It is safe to call more than once.
func (it *Iterator[T]) Close() {
	it.once.Do(func() {
		it.cleanup.Stop()
		it.sub.Unsubscribe()
		it.state.discard()
	})
}

// All subscribes to src and yields its events. A stream error is yielded
// once as the final element; completion simply ends the sequence. Breaking
// out of the loop releases the subscription.
func All[T any](ctx context.Context, src Stream[T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		it, err := Iterate(ctx, src)
		if err != nil {
			yield(stdx.Zero[T](), err)
			return
		}
		defer it.Close()
		for {
			value, err := it.Next(ctx)
			if errors.Is(err, ErrCompleted) {
				return
			}
			if !yield(value, err) || err != nil {
				return
			}
		}
	}
}
