package runner

import (
	"context"
	"sync"
)

// Exchange shares intermediate artifacts between the sources of a single run.
// A source publishes a value under a key it owns; other sources await it.
// Values are opaque to the runner.
type Exchange struct {
	mu      sync.Mutex
	values  map[string]any
	waiters map[string][]chan any
}

// NewExchange constructs an empty exchange.
func NewExchange() *Exchange {
	return &Exchange{
		values:  make(map[string]any),
		waiters: make(map[string][]chan any),
	}
}

// Publish stores the value under key and releases every waiter for it.
// Publishing the same key again overwrites the stored value.
func (x *Exchange) Publish(key string, value any) {
	x.mu.Lock()
	x.values[key] = value
	pending := x.waiters[key]
	delete(x.waiters, key)
	x.mu.Unlock()

	for _, ch := range pending {
		ch <- value
	}
}

// Await blocks until a value for key is published or the context ends.
func (x *Exchange) Await(ctx context.Context, key string) (any, error) {
	x.mu.Lock()
	if value, ok := x.values[key]; ok {
		x.mu.Unlock()
		return value, nil
	}
	ch := make(chan any, 1)
	x.waiters[key] = append(x.waiters[key], ch)
	x.mu.Unlock()

	select {
	case value := <-ch:
		return value, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Peek returns the stored value for key without blocking.
func (x *Exchange) Peek(key string) (any, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	value, ok := x.values[key]
	return value, ok
}
