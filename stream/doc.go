// Package stream provides the push-based stream contracts the broker and its
// transports are built on, together with the bridges that carry events from
// a delivery goroutine into caller code.
//
// Design decisions:
//   - Cold streams: nothing happens until Subscribe; every Subscribe runs the
//     producer again (Create, Defer)
//   - Guarded delivery: observers never see callbacks after a terminal event,
//     callbacks are serialised, and a panicking observer is isolated
//   - Context preservation: Preserve hands every callback the subscriber's
//     context instead of the context of whichever goroutine delivered it
//   - Multicast: Shared fans one upstream subscription out to many observers
//     and tears it down when the last observer leaves; every observer is fed
//     from its own queue, so one slow observer never stalls the others
//   - Push to pull: Iterator buffers pushed events until Next pulls them, and
//     All exposes the same as a range-over-func sequence
//
// Interface hierarchy:
//   - Stream: Subscribe(ctx, Observer) (Subscription, error)
//     └── Observer: OnNext / OnError / OnComplete
//     └── Subscription: ID / Unsubscribe / Done
//
// Example usage:
//
//	ticks := stream.Create(func(ctx context.Context, out stream.Observer[int]) (func(), error) {
//	    done := make(chan struct{})
//	    go func() {
//	        for i := 0; ; i++ {
//	            select {
//	            case <-done:
//	                return
//	            case <-time.After(time.Second):
//	                out.OnNext(ctx, i)
//	            }
//	        }
//	    }()
//	    return func() { close(done) }, nil
//	})
//
//	for v, err := range stream.All(ctx, ticks) {
//	    if err != nil {
//	        return err
//	    }
//	    if v > 3 {
//	        break // releases the subscription
//	    }
//	}
package stream
