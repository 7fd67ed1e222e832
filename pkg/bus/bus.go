// Package bus fans firmware response lines out to any number of
// subscribers.
//
// Lines are delivered to each live subscriber in arrival order, exactly
// once, and never replayed to subscribers that joined later. One-shot
// waits (Expect) register synchronously so a caller can arm a wait before
// it writes the command whose reply it is waiting for.
package bus

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by waits that were still pending when the bus
// was closed.
var ErrClosed = errors.New("bus: closed")

// Handler receives one response line. Handlers run on the publishing
// goroutine and must not call Publish.
type Handler func(line string)

// Matcher selects the line a Pending is waiting for.
type Matcher func(line string) bool

// Equals matches a line equal to s.
func Equals(s string) Matcher {
	return func(line string) bool { return line == s }
}

// HasPrefix matches a line starting with p.
func HasPrefix(p string) Matcher {
	return func(line string) bool { return strings.HasPrefix(line, p) }
}

// Any matches every line.
func Any() Matcher {
	return func(string) bool { return true }
}

// Bus is a multicast channel of text lines.
type Bus struct {
	mu     sync.Mutex
	subs   []*Subscription
	closed bool
	done   chan struct{}

	// publishMu keeps concurrent publishers from interleaving deliveries.
	publishMu sync.Mutex
}

// Subscription is one registered handler.
type Subscription struct {
	bus     *Bus
	handler Handler
	active  atomic.Bool
}

// New creates an open bus.
func New() *Bus {
	return &Bus{done: make(chan struct{})}
}

// Subscribe registers h for every line published from now on. Subscribing
// to a closed bus yields an inactive subscription.
func (b *Bus) Subscribe(h Handler) *Subscription {
	s := &Subscription{bus: b, handler: h}
	b.add(s)
	return s
}

func (b *Bus) add(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	s.active.Store(true)
	b.subs = append(b.subs, s)
}

// Unsubscribe stops delivery to the subscription. It is idempotent and may
// be called from inside the handler itself.
func (s *Subscription) Unsubscribe() {
	if !s.active.CompareAndSwap(true, false) {
		return
	}
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub == s {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			break
		}
	}
}

// Active reports whether the subscription still receives lines.
func (s *Subscription) Active() bool {
	return s.active.Load()
}

// Publish delivers line to every current subscriber in subscription order.
func (b *Bus) Publish(line string) {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	subs := make([]*Subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		// An earlier handler may have cancelled a later subscriber.
		if s.active.Load() {
			s.handler(line)
		}
	}
}

// Len returns the number of active subscribers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close drops every subscriber and fails pending waits with ErrClosed.
// Closing twice is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		s.active.Store(false)
	}
	b.subs = nil
	close(b.done)
}

// Done is closed once the bus is closed.
func (b *Bus) Done() <-chan struct{} {
	return b.done
}

// Pending is a one-shot wait for the first line accepted by a Matcher.
type Pending struct {
	sub  *Subscription
	bus  *Bus
	line chan string
	hit  atomic.Bool
}

// Expect arms a one-shot wait. The subscription exists when Expect
// returns, so lines published after that point are never missed.
func (b *Bus) Expect(match Matcher) *Pending {
	p := &Pending{bus: b, line: make(chan string, 1)}
	p.sub = &Subscription{bus: b}
	p.sub.handler = func(line string) {
		if !match(line) || !p.hit.CompareAndSwap(false, true) {
			return
		}
		p.line <- line
		p.sub.Unsubscribe()
	}
	b.add(p.sub)
	return p
}

// Wait blocks until the matching line arrives, ctx is done, or the bus is
// closed. The subscription is released in every case.
func (p *Pending) Wait(ctx context.Context) (string, error) {
	defer p.sub.Unsubscribe()

	select {
	case line := <-p.line:
		return line, nil
	default:
	}

	select {
	case line := <-p.line:
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-p.bus.done:
		select {
		case line := <-p.line:
			return line, nil
		default:
			return "", ErrClosed
		}
	}
}

// Cancel releases the wait without blocking.
func (p *Pending) Cancel() {
	p.sub.Unsubscribe()
}
