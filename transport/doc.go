// Package transport moves named events between publishers and observers.
// A transport is the leaf of the broker: it knows nothing about channels,
// multicast or identities, it only publishes data under a name and hands out
// cold streams of the data published under a name.
//
// Design decisions:
//   - Context-first: all operations accept context.Context
//   - Fire and forget: Publish returns once the event left the caller, there
//     is no delivery acknowledgement
//   - Cold observation: every Observe call returns a fresh stream and every
//     subscription to it opens a fresh transport subscription; deduplication
//     is the broker's job
//   - Failures surface on streams: a broken connection or a slow subscriber
//     terminates the affected observations with an error
//   - Optional lifecycle: transports that hold connections implement Starter
//     and Stopper
//
// Implementations:
//   - Local: in-process bus, data is passed by reference
//   - NATS: subjects are names, payloads travel through a Codec
//   - Redis: Redis PUBLISH/SUBSCRIBE fanned out through a wrapped Local bus
//
// Example usage:
//
//	bus := transport.Local()
//	sub, err := bus.Observe(ctx, "greetings").Subscribe(ctx, stream.Funcs[any]{
//	    Next: func(ctx context.Context, v any) { fmt.Println(v) },
//	})
//	if err != nil {
//	    return err
//	}
//	defer sub.Unsubscribe()
//
//	if err := bus.Publish(ctx, "greetings", "hello"); err != nil {
//	    return err
//	}
package transport
