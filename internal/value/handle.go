package value

import (
	"context"
	"fmt"
	"sync"

	"github.com/ehrlich-b/tangram-go/internal/id"
)

// Resolver loads a Value given its Id — satisfied by the object store. A
// Handle never talks to storage directly so it stays testable without one.
type Resolver interface {
	GetValue(ctx context.Context, i id.Id) (Value, error)
}

// Handle is a lazy pointer over (optional Id, optional Value) that
// resolves on demand and caches.
// Constructed from an id (deferred) or from a value (id computed lazily).
// Id and Value are both idempotent.
type Handle[T Value] struct {
	mu    sync.Mutex
	id    *id.Id
	value *T
}

// FromId constructs a deferred handle: no bytes loaded until Value is called.
func FromId[T Value](i id.Id) *Handle[T] {
	return &Handle[T]{id: &i}
}

// FromValue constructs a handle that already has its structure; the id is
// computed lazily on first access.
func FromValue[T Value](v T) *Handle[T] {
	return &Handle[T]{value: &v}
}

// Id returns this handle's content address, computing it from the held
// value on first call if constructed via FromValue.
func (h *Handle[T]) Id() id.Id {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.id != nil {
		return *h.id
	}
	computed := Id(*h.value)
	h.id = &computed
	return computed
}

// Value resolves the full structure, consulting r exactly once and caching
// the result for subsequent calls.
func (h *Handle[T]) Value(ctx context.Context, r Resolver) (T, error) {
	h.mu.Lock()
	if h.value != nil {
		v := *h.value
		h.mu.Unlock()
		return v, nil
	}
	i := *h.id
	h.mu.Unlock()

	v, err := r.GetValue(ctx, i)
	if err != nil {
		var zero T
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("value: handle expected %T, store returned %T", zero, v)
	}
	h.mu.Lock()
	h.value = &typed
	h.mu.Unlock()
	return typed, nil
}

// HasValue reports whether the structure is already loaded, without
// triggering a resolve.
func (h *Handle[T]) HasValue() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.value != nil
}
