// Package buffer provides an unbounded FIFO queue shared between a single
// producer loop and its consumers.
//
// Producers never block: the backing ring doubles once it is 70% full. This
// lets an event loop hand work to a slower consumer without the consumer's
// pace ever stalling the loop.
package buffer

import "sync"

// Growable is a goroutine-safe FIFO whose capacity grows on demand.
type Growable[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []T
	head   int
	tail   int
	count  int
	closed bool

	pushed  int64
	popped  int64
	resizes int
}

// Stats is a point-in-time view of a Growable.
type Stats struct {
	Len      int
	Capacity int
	Pushed   int64
	Popped   int64
	Resizes  int
}

// NewGrowable creates a queue with the given starting capacity.
func NewGrowable[T any](capacity int) *Growable[T] {
	if capacity < 1 {
		capacity = 1
	}
	g := &Growable[T]{ring: make([]T, capacity)}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Push appends item. It returns false once the queue has been closed.
func (g *Growable[T]) Push(item T) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return false
	}

	threshold := len(g.ring) * 70 / 100
	if threshold < 1 {
		threshold = 1
	}
	if g.count+1 >= threshold {
		g.grow()
	}

	g.ring[g.tail] = item
	g.tail = (g.tail + 1) % len(g.ring)
	g.count++
	g.pushed++

	g.cond.Signal()
	return true
}

// Pop blocks until an item is available and removes it. After Close, Pop
// keeps returning queued items and then reports false.
func (g *Growable[T]) Pop() (T, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for g.count == 0 && !g.closed {
		g.cond.Wait()
	}
	if g.count == 0 {
		var zero T
		return zero, false
	}
	return g.take(), true
}

// TryPop removes the oldest item without blocking.
func (g *Growable[T]) TryPop() (T, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.count == 0 {
		var zero T
		return zero, false
	}
	return g.take(), true
}

// Drain removes up to max items (all of them when max <= 0).
func (g *Growable[T]) Drain(max int) []T {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.count == 0 {
		return nil
	}
	n := g.count
	if max > 0 && max < n {
		n = max
	}
	out := make([]T, n)
	for i := range out {
		out[i] = g.take()
	}
	return out
}

// Close stops accepting new items and wakes blocked consumers.
func (g *Growable[T]) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = true
	g.cond.Broadcast()
}

// Len returns the number of queued items.
func (g *Growable[T]) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

// Stats returns queue counters.
func (g *Growable[T]) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		Len:      g.count,
		Capacity: len(g.ring),
		Pushed:   g.pushed,
		Popped:   g.popped,
		Resizes:  g.resizes,
	}
}

// take pops the head item. Must be called with mu held and count > 0.
func (g *Growable[T]) take() T {
	item := g.ring[g.head]
	var zero T
	g.ring[g.head] = zero
	g.head = (g.head + 1) % len(g.ring)
	g.count--
	g.popped++
	return item
}

// grow doubles the ring. Must be called with mu held.
func (g *Growable[T]) grow() {
	next := make([]T, len(g.ring)*2)
	if g.count > 0 {
		if g.head < g.tail {
			copy(next, g.ring[g.head:g.tail])
		} else {
			n := copy(next, g.ring[g.head:])
			copy(next[n:], g.ring[:g.tail])
		}
	}
	g.ring = next
	g.head = 0
	g.tail = g.count
	g.resizes++
}
