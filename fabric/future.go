package fabric

import "github.com/google/uuid"

// A Future is the result of a remote operation that may
// not have finished yet.
type Future[T any] struct {
	ep    *Endpoint
	ready bool
	value T
}

func readyFuture[T any](ep *Endpoint, value T) *Future[T] {
	return &Future[T]{ep: ep, ready: true, value: value}
}

// pendingFuture creates a Future that is resolved by the
// response carrying the returned ID.
func pendingFuture[T any](ep *Endpoint) (*Future[T], uuid.UUID) {
	f := &Future[T]{ep: ep}
	id := uuid.New()
	ep.expect(id, func(value interface{}) {
		f.value, _ = value.(T)
		f.ready = true
	})
	return f, id
}

// Ready checks if the result is available without
// blocking.
func (f *Future[T]) Ready() bool {
	return f.ready
}

// Wait blocks until the result is available and returns
// it.
//
// While it waits, the endpoint keeps serving requests from
// other ranks, so two ranks waiting on each other cannot
// deadlock.
func (f *Future[T]) Wait() T {
	for !f.ready {
		f.ep.progress()
	}
	return f.value
}
