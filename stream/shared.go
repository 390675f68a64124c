package stream

import (
	"context"
	"slices"
	"sync"

	"github.com/fogfish/opts"
)

// OnConnect registers a hook that runs every time the shared stream opens
// its upstream subscription.
func OnConnect[T any](fn func()) opts.Option[Shared[T]] {
	return opts.Type[Shared[T]](func(s *Shared[T]) error {
		s.onConnect = fn
		return nil
	})
}

// OnDisconnect registers a hook that runs every time the upstream
// subscription is released, terminated or failed.
func OnDisconnect[T any](fn func()) opts.Option[Shared[T]] {
	return opts.Type[Shared[T]](func(s *Shared[T]) error {
		s.onDisconnect = fn
		return nil
	})
}

// Shared multicasts one upstream subscription to any number of observers.
//
// The first observer connects upstream, the last one to leave disconnects it
// and the next observer connects again. A terminal upstream event reaches
// every current observer and resets the connection.
//
// Every observer has its own queue and delivery goroutine: a slow or blocked
// observer holds back only itself, never the upstream or its siblings.
type Shared[T any] struct {
	src  Stream[T]
	base context.Context

	onConnect    func()
	onDisconnect func()

	mu      sync.Mutex
	members []*member[T]
	conn    *connection[T]
	closed  bool
}

// Share builds a Shared over src. Upstream subscriptions are made with base,
// so they outlive the context of whichever observer triggered them.
func Share[T any](base context.Context, src Stream[T], options ...opts.Option[Shared[T]]) *Shared[T] {
	s := &Shared[T]{src: src, base: base}
	if err := opts.Apply(s, options); err != nil {
		panic(err)
	}
	return s
}

// Subscribe adds obs to the multicast group, connecting upstream when obs is
// the first member. After Complete the observer completes immediately.
func (s *Shared[T]) Subscribe(ctx context.Context, obs Observer[T]) (Subscription, error) {
	if obs == nil {
		return nil, ErrObserverRequired
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub := newSink(obs)
		sub.OnComplete(ctx)
		return sub, nil
	}
	m := newMember(obs)
	s.members = append(s.members, m)
	conn := s.conn
	connect := conn == nil
	if connect {
		conn = &connection[T]{owner: s}
		s.conn = conn
	}
	s.mu.Unlock()

	m.out.afterFinish(func() { s.remove(m) })
	m.out.watch(ctx)

	if connect {
		s.connect(conn)
	}
	return m.out, nil
}

func (s *Shared[T]) connect(conn *connection[T]) {
	if s.onConnect != nil {
		s.onConnect()
	}
	sub, err := s.src.Subscribe(s.base, conn)
	if err != nil {
		conn.OnError(s.base, err)
		return
	}

	s.mu.Lock()
	if s.conn != conn {
		// every member left, or upstream terminated, while connecting
		s.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	conn.sub = sub
	s.mu.Unlock()
}

func (s *Shared[T]) remove(m *member[T]) {
	s.mu.Lock()
	idx := slices.Index(s.members, m)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	s.members = slices.Delete(s.members, idx, idx+1)
	if len(s.members) > 0 || s.conn == nil {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	s.conn = nil
	sub := conn.sub
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	s.disconnected()
}

// Complete queues completion for every current observer, releases the
// upstream subscription and makes later subscribers complete immediately.
// It then waits until every observer took its completion, or returns the
// error of ctx when one of them is still busy once ctx ends.
func (s *Shared[T]) Complete(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	members := s.members
	s.members = nil
	conn := s.conn
	s.conn = nil
	var sub Subscription
	if conn != nil {
		sub = conn.sub
	}
	s.mu.Unlock()

	for _, m := range members {
		m.push(delivery[T]{ctx: ctx, kind: deliverComplete})
	}
	if sub != nil {
		sub.Unsubscribe()
	}
	if conn != nil {
		s.disconnected()
	}

	for _, m := range members {
		select {
		case <-m.out.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Observers returns the number of current observers.
func (s *Shared[T]) Observers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

// Connected reports whether an upstream subscription is open.
func (s *Shared[T]) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *Shared[T]) disconnected() {
	if s.onDisconnect != nil {
		s.onDisconnect()
	}
}

// terminate detaches conn together with its members, when conn is still
// the live connection.
func (s *Shared[T]) terminate(conn *connection[T]) ([]*member[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn {
		return nil, false
	}
	members := s.members
	s.members = nil
	s.conn = nil
	return members, true
}

// dispatch queues d for every member while conn is the live connection.
func (s *Shared[T]) dispatch(conn *connection[T], d delivery[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn {
		return
	}
	for _, m := range s.members {
		m.push(d)
	}
}

// connection is the observer of one upstream subscription.
type connection[T any] struct {
	owner *Shared[T]
	sub   Subscription
}

func (c *connection[T]) OnNext(ctx context.Context, value T) {
	c.owner.dispatch(c, delivery[T]{ctx: ctx, value: value})
}

func (c *connection[T]) OnError(ctx context.Context, err error) {
	c.end(delivery[T]{ctx: ctx, err: err, kind: deliverError})
}

func (c *connection[T]) OnComplete(ctx context.Context) {
	c.end(delivery[T]{ctx: ctx, kind: deliverComplete})
}

func (c *connection[T]) end(d delivery[T]) {
	members, ok := c.owner.terminate(c)
	if !ok {
		return
	}
	for _, m := range members {
		m.push(d)
	}
	c.owner.disconnected()
}

type deliveryKind uint8

const (
	deliverNext deliveryKind = iota
	deliverError
	deliverComplete
)

type delivery[T any] struct {
	ctx   context.Context
	value T
	err   error
	kind  deliveryKind
}

// member is one observer of a Shared stream. The queue is unbounded; it is
// drained by the member's goroutine, which exits after the terminal event or
// once the subscription is released.
type member[T any] struct {
	out  *sink[T]
	wake chan struct{}

	mu       sync.Mutex
	queue    []delivery[T]
	terminal bool
}

func newMember[T any](obs Observer[T]) *member[T] {
	m := &member[T]{
		out:  newSink(obs),
		wake: make(chan struct{}, 1),
	}
	go m.run()
	return m
}

// push queues d without waiting for the observer. Nothing is queued after a
// terminal event.
func (m *member[T]) push(d delivery[T]) {
	m.mu.Lock()
	if m.terminal {
		m.mu.Unlock()
		return
	}
	m.terminal = d.kind != deliverNext
	m.queue = append(m.queue, d)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *member[T]) take() []delivery[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue
	m.queue = nil
	return q
}

func (m *member[T]) run() {
	for {
		select {
		case <-m.out.Done():
			return
		case <-m.wake:
		}
		for _, d := range m.take() {
			if m.out.closed.Load() {
				return
			}
			switch d.kind {
			case deliverError:
				m.out.OnError(d.ctx, d.err)
				return
			case deliverComplete:
				m.out.OnComplete(d.ctx)
				return
			default:
				m.out.OnNext(d.ctx, d.value)
			}
		}
	}
}
