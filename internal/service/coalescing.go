package service

import (
	"context"
	"sync"
)

// inFlight is a single upstream fetch that multiple callers may wait on.
type inFlight[V any] struct {
	done   chan struct{}
	result V
	err    error
}

// coalescer collapses concurrent fetches for the same key into one upstream
// call. The fetch runs in its own goroutine with the initiating caller's
// context; late arrivals wait on the shared result but stop waiting as soon
// as their own context is cancelled.
type coalescer[V any] struct {
	mu       sync.Mutex
	requests map[string]*inFlight[V]
}

func newCoalescer[V any]() *coalescer[V] {
	return &coalescer[V]{requests: make(map[string]*inFlight[V])}
}

// GetOrDo returns the result of an in-flight fetch for key, or starts one
// with fn. Every waiter observes the same (result, err) pair.
func (c *coalescer[V]) GetOrDo(ctx context.Context, key string, fn func() (V, error)) (V, error) {
	c.mu.Lock()
	req, exists := c.requests[key]
	if !exists {
		req = &inFlight[V]{done: make(chan struct{})}
		c.requests[key] = req
		c.mu.Unlock()

		go func() {
			req.result, req.err = fn()
			close(req.done)

			c.mu.Lock()
			delete(c.requests, key)
			c.mu.Unlock()
		}()
	} else {
		c.mu.Unlock()
	}

	var zero V
	select {
	case <-req.done:
		return req.result, req.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
