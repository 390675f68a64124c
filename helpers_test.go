package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/casualjim/broadcast/stream"
	"github.com/casualjim/broadcast/transport"
	"github.com/stretchr/testify/require"
)

// countingTransport is a local bus that counts transport level observations.
type countingTransport struct {
	*transport.LocalBus
	observes atomic.Int32
}

func newCountingTransport() *countingTransport {
	return &countingTransport{LocalBus: transport.Local()}
}

func (c *countingTransport) Observe(ctx context.Context, name string) stream.Stream[any] {
	c.observes.Add(1)
	return c.LocalBus.Observe(ctx, name)
}

// faultyTransport fails every observation of one channel name.
type faultyTransport struct {
	transport.Transport
	bad      string
	err      error
	failures atomic.Int32
}

func (f *faultyTransport) Observe(ctx context.Context, name string) stream.Stream[any] {
	if name == f.bad {
		f.failures.Add(1)
		return stream.Fail[any](f.err)
	}
	return f.Transport.Observe(ctx, name)
}

func newBroker(t *testing.T) (*Broker, *countingTransport) {
	t.Helper()
	tr := newCountingTransport()
	b := New(tr)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Shutdown(context.Background()) })
	return b, tr
}

// recorder collects everything an observer receives.
type recorder struct {
	mu        sync.Mutex
	events    []any
	ctxs      []context.Context
	err       error
	completed bool
	next      chan struct{}
	terminal  chan struct{}
	once      sync.Once
}

func newRecorder() *recorder {
	return &recorder{
		next:     make(chan struct{}, 1024),
		terminal: make(chan struct{}),
	}
}

func (r *recorder) OnNext(ctx context.Context, v any) {
	r.mu.Lock()
	r.events = append(r.events, v)
	r.ctxs = append(r.ctxs, ctx)
	r.mu.Unlock()
	r.next <- struct{}{}
}

func (r *recorder) OnError(_ context.Context, err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	r.once.Do(func() { close(r.terminal) })
}

func (r *recorder) OnComplete(context.Context) {
	r.mu.Lock()
	r.completed = true
	r.mu.Unlock()
	r.once.Do(func() { close(r.terminal) })
}

func (r *recorder) Events() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.events...)
}

func (r *recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *recorder) Completed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

// waitEvents blocks until n more events arrived.
func (r *recorder) waitEvents(t *testing.T, n int) {
	t.Helper()
	for range n {
		select {
		case <-r.next:
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for events")
		}
	}
}

func (r *recorder) waitTerminal(t *testing.T) {
	t.Helper()
	select {
	case <-r.terminal:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for terminal event")
	}
}

// publishUntil publishes data on name every few milliseconds until done is
// closed, for consumers that subscribe asynchronously.
func publishUntil(t *testing.T, p func(ctx context.Context, data any) error, data any, done <-chan struct{}) {
	t.Helper()
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = p(context.Background(), data)
			}
		}
	}()
}
