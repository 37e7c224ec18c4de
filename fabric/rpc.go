package fabric

import "github.com/google/uuid"

type callRequest struct {
	ID      uuid.UUID
	Run     func(target *Endpoint) interface{}
	ReplyTo *peer
}

// Call runs fn on the given rank's own Goroutine and
// returns a Future for its result.
//
// When rank is the caller's own rank, fn runs immediately.
// Otherwise fn is shipped to the target, which runs it the
// next time it makes progress (while waiting on a future,
// a barrier, or a pause).
// Since a rank runs one function at a time, fn may touch
// the target's local state freely, but it should not block.
//
// The argSize is the approximate number of bytes needed to
// ship fn's arguments.
func Call[T any](e *Endpoint, rank int, argSize int, fn func(target *Endpoint) T) *Future[T] {
	if rank == e.rank {
		e.stats.LocalCalls++
		return readyFuture(e, fn(e))
	}
	e.stats.RemoteCalls++
	f, id := pendingFuture[T](e)
	req := &callRequest{
		ID: id,
		Run: func(target *Endpoint) interface{} {
			return fn(target)
		},
		ReplyTo: e.self(),
	}
	e.send(e.self().reply, e.peers[rank].am, req, headerSize+argSize)
	return f
}

func (e *Endpoint) serveCall(req *callRequest) {
	e.stats.ServedCalls++
	value := req.Run(e)
	e.send(e.self().am, req.ReplyTo.reply, &response{ID: req.ID, Value: value}, headerSize+sizeOf(value))
}
