package stream

import "context"

// Preserve wraps obs so every callback receives ctx, the context captured
// when the observer subscribed, instead of the context of the goroutine that
// happened to deliver the event. Values, deadlines and trace spans carried by
// the subscriber's context are therefore visible inside its callbacks.
func Preserve[T any](ctx context.Context, obs Observer[T]) Observer[T] {
	if obs == nil {
		return nil
	}
	return preserved[T]{ctx: ctx, obs: obs}
}

type preserved[T any] struct {
	ctx context.Context
	obs Observer[T]
}

func (p preserved[T]) OnNext(_ context.Context, value T) { p.obs.OnNext(p.ctx, value) }

func (p preserved[T]) OnError(_ context.Context, err error) { p.obs.OnError(p.ctx, err) }

func (p preserved[T]) OnComplete(context.Context) { p.obs.OnComplete(p.ctx) }
