// Package event provides typed callback registries and a coalescing
// scheduler used for change notifications.
package event

import (
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
)

// Disposable releases a registration. Dispose must be safe to call more
// than once.
type Disposable interface {
	Dispose()
}

// DisposeFunc adapts a function to Disposable. The function runs at most once.
func DisposeFunc(fn func()) Disposable {
	return &onceDisposer{fn: fn}
}

type onceDisposer struct {
	once sync.Once
	fn   func()
}

func (d *onceDisposer) Dispose() { d.once.Do(d.fn) }

// Handler receives events of type T.
type Handler[T any] func(T)

type subscriber[T any] struct {
	id      uuid.UUID
	handler Handler[T]
}

// Emitter is a synchronous, ordered callback registry. Handlers run on the
// goroutine that calls Fire, in subscription order.
//
// The zero value is ready to use.
type Emitter[T any] struct {
	mu   sync.RWMutex
	subs []subscriber[T]
}

// Subscription is returned by Subscribe and removes the handler on Dispose.
type Subscription[T any] struct {
	emitter *Emitter[T]
	id      uuid.UUID
	once    sync.Once
}

// Dispose unsubscribes. Subsequent calls are no-ops.
func (s *Subscription[T]) Dispose() {
	s.once.Do(func() {
		s.emitter.remove(s.id)
	})
}

// Subscribe registers handler and returns its subscription.
func (e *Emitter[T]) Subscribe(handler Handler[T]) *Subscription[T] {
	id := uuid.New()
	e.mu.Lock()
	e.subs = append(e.subs, subscriber[T]{id: id, handler: handler})
	e.mu.Unlock()
	return &Subscription[T]{emitter: e, id: id}
}

// Fire delivers v to every current subscriber. A panicking handler is
// logged and does not prevent delivery to the remaining handlers.
func (e *Emitter[T]) Fire(v T) {
	e.mu.RLock()
	subs := make([]subscriber[T], len(e.subs))
	copy(subs, e.subs)
	e.mu.RUnlock()

	for _, s := range subs {
		deliver(s.handler, v)
	}
}

// Len returns the number of subscribers.
func (e *Emitter[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

func (e *Emitter[T]) remove(id uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, s := range e.subs {
		if s.id == id {
			e.subs = append(e.subs[:i], e.subs[i+1:]...)
			return
		}
	}
}

func deliver[T any](h Handler[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in event handler",
				"error", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	h(v)
}
