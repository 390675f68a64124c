/*
Package broadcast provides named, multicast publish/subscribe channels on top
of a pluggable transport.

Many independent parts of a process can publish to and observe a channel by
name. However many local observers a channel has, the broker keeps a single
transport subscription for it, fans every event out to all observers in
transport order, and tears the transport subscription down when the last
observer leaves. The broker is best effort and at most once: there is no
persistence, replay or acknowledgement.

# Basic Usage

	bus := broadcast.New(transport.Local())
	defer bus.Shutdown(context.Background())

	sub, err := bus.Subscribe(ctx, broadcast.Name("greet"), func(ctx context.Context, v any) {
		fmt.Println("got", v)
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	if err := bus.Publish(ctx, broadcast.Name("greet"), "hello"); err != nil {
		return err
	}

# Architecture

 1. Identities (identity.go)
    - Name, Key and For[T] resolve to a channel name
    - an existing *Channel resolves to itself

 2. Broker (broker.go)
    - keeps live channels in a table of weak pointers, so an unused channel
      is reclaimed by the garbage collector
    - keeps a strong reference to the channel of every open subscription
    - completes every subscription on Shutdown

 3. Channels (channel.go)
    - value-like handles bound to one broker
    - own the memoized multicast stream of their name

 4. Proxy (proxy.go)
    - a Resolver whose delegate can be swapped globally or for the dynamic
      extent of a context

# Delivery

Callbacks receive the context that was passed when subscribing, not the
context of the goroutine that delivered the event. Cancelling that context
unsubscribes. Every observer has its own delivery queue: a slow or blocked
callback only delays its own events, never the other observers of the
channel. A panicking callback is recovered and logged, and does not affect
the other observers either.

Shutdown waits for observers to take their completion until its context
ends, and returns the context error when a callback is still blocked by
then.

# Errors

Invalid identities fail synchronously with ErrInvalidIdentity. Transport
failures reach observers of the affected channel as stream errors and never
affect other channels. Operations after Shutdown are no-ops: Publish returns
nil and observations complete immediately.
*/
package broadcast
