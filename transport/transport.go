package transport

import (
	"context"
	"errors"

	"github.com/casualjim/broadcast/stream"
)

var (
	// ErrSlowSubscriber terminates an observation whose queue stayed full
	// for longer than the slow subscriber timeout.
	ErrSlowSubscriber = errors.New("slow subscriber")
	// ErrConnectionClosed terminates observations whose network connection
	// was closed underneath them.
	ErrConnectionClosed = errors.New("transport connection closed")
	// ErrNotStarted is surfaced by transports that need Start before Observe.
	ErrNotStarted = errors.New("transport not started")
)

// Transport publishes and observes data by name.
type Transport interface {
	// Publish sends data to every current observer of name.
	Publish(ctx context.Context, name string, data any) error
	// Observe returns a cold stream of the data published under name.
	Observe(ctx context.Context, name string) stream.Stream[any]
}

// Starter is implemented by transports that connect before use.
type Starter interface {
	Start(ctx context.Context) error
}

// Stopper is implemented by transports that release resources on shutdown.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Start starts t when it implements Starter.
func Start(ctx context.Context, t Transport) error {
	if s, ok := t.(Starter); ok {
		return s.Start(ctx)
	}
	return nil
}

// Stop stops t when it implements Stopper.
func Stop(ctx context.Context, t Transport) error {
	if s, ok := t.(Stopper); ok {
		return s.Stop(ctx)
	}
	return nil
}
