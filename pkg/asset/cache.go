// Package asset provides the load cache shared by the motion and
// expression managers.
//
// Each key is in one of four states: not requested, pending (one fetch in
// flight, any number of waiters), loaded, or failed. A failed key is never
// fetched again until it is invalidated.
package asset

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrUnavailable is returned for keys whose load failed.
	ErrUnavailable = errors.New("asset: unavailable")

	// ErrClosed is returned once the cache is closed. Results of fetches
	// still in flight at Close are discarded.
	ErrClosed = errors.New("asset: cache closed")
)

// Status is the load state of a key.
type Status int

const (
	NotRequested Status = iota
	Pending
	Loaded
	Failed
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	default:
		return "not_requested"
	}
}

// FetchFunc produces the value for a key. ctx is the cache's lifetime
// context, not the caller's: one caller giving up does not abort a load
// other callers may be waiting on.
type FetchFunc[V any] func(ctx context.Context) (V, error)

type entry[V any] struct {
	status Status
	value  V
	err    error
	done   chan struct{}
}

// Cache deduplicates loads per key. It is safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[V]

	ctx    context.Context
	cancel context.CancelFunc
	closed chan struct{}
}

// New creates an empty cache.
func New[K comparable, V any]() *Cache[K, V] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache[K, V]{
		entries: make(map[K]*entry[V]),
		ctx:     ctx,
		cancel:  cancel,
		closed:  make(chan struct{}),
	}
}

// Load returns the value for key, running fetch at most once no matter
// how many callers ask concurrently. Every waiter on the same fetch sees
// the same value or the same error. Failures satisfy
// errors.Is(err, ErrUnavailable).
func (c *Cache[K, V]) Load(ctx context.Context, key K, fetch FetchFunc[V]) (V, error) {
	var zero V

	c.mu.Lock()
	if c.isClosed() {
		c.mu.Unlock()
		return zero, ErrClosed
	}

	e, ok := c.entries[key]
	if !ok {
		e = &entry[V]{status: Pending, done: make(chan struct{})}
		c.entries[key] = e
		go c.run(key, e, fetch)
	}

	switch e.status {
	case Loaded:
		c.mu.Unlock()
		return e.value, nil
	case Failed:
		c.mu.Unlock()
		return zero, ErrUnavailable
	}
	c.mu.Unlock()

	select {
	case <-e.done:
	case <-c.closed:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		return zero, ErrClosed
	}
	if e.status == Failed {
		return zero, e.err
	}
	return e.value, nil
}

func (c *Cache[K, V]) run(key K, e *entry[V], fetch FetchFunc[V]) {
	v, err := fetch(c.ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer close(e.done)

	if c.isClosed() {
		return
	}
	if err != nil {
		e.status = Failed
		e.err = fmt.Errorf("%w: %w", ErrUnavailable, err)
		return
	}
	e.status = Loaded
	e.value = v
}

// Status returns the state of key.
func (c *Cache[K, V]) Status(key K) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e.status
	}
	return NotRequested
}

// Peek returns a loaded value without triggering a fetch.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && e.status == Loaded {
		return e.value, true
	}
	var zero V
	return zero, false
}

// Invalidate forgets a loaded or failed key so the next Load fetches it
// again. Pending keys are left alone. It reports whether anything was
// dropped.
func (c *Cache[K, V]) Invalidate(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e.status == Pending {
		return false
	}
	delete(c.entries, key)
	return true
}

// Close discards every entry and releases waiters. In-flight fetches see
// their context cancelled and their results are dropped.
func (c *Cache[K, V]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		return
	}
	close(c.closed)
	c.cancel()
	c.entries = make(map[K]*entry[V])
}

// Closed reports whether Close has been called.
func (c *Cache[K, V]) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isClosed()
}

func (c *Cache[K, V]) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
