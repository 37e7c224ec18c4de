package fabric

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/unixpickle/dist-hashmap/simulator"
)

// A Segment is a block of 64-bit words that can be exposed
// to one-sided access from other ranks.
//
// Every word is accessed atomically, so the owning rank
// and its NIC may touch a segment at the same time.
// Put stores words in ascending order and Get loads them
// in descending order: a reader that sees the last word
// of a Put also sees all the words before it.
type Segment struct {
	words []atomic.Uint64
}

// NewSegment allocates a zeroed segment.
func NewSegment(size int) *Segment {
	return &Segment{words: make([]atomic.Uint64, size)}
}

// Len gets the number of words in the segment.
func (s *Segment) Len() int {
	return len(s.words)
}

// Load reads one word.
func (s *Segment) Load(i int) uint64 {
	s.check(i, 1)
	return s.words[i].Load()
}

// Store writes one word.
func (s *Segment) Store(i int, value uint64) {
	s.check(i, 1)
	s.words[i].Store(value)
}

// FetchAdd adds delta to a word and returns the value it
// had before.
func (s *Segment) FetchAdd(i int, delta uint64) uint64 {
	s.check(i, 1)
	return s.words[i].Add(delta) - delta
}

// Put writes src into the segment starting at offset.
func (s *Segment) Put(offset int, src []uint64) {
	s.check(offset, len(src))
	for i, x := range src {
		s.words[offset+i].Store(x)
	}
}

// Get reads len(dst) words starting at offset.
func (s *Segment) Get(offset int, dst []uint64) {
	s.check(offset, len(dst))
	for i := len(dst) - 1; i >= 0; i-- {
		dst[i] = s.words[offset+i].Load()
	}
}

func (s *Segment) check(offset, count int) {
	if offset < 0 || count < 0 || offset+count > len(s.words) {
		panic("index out of bounds")
	}
}

// A SegmentID names a segment exposed by one rank.
type SegmentID int

// A GlobalRef addresses a word in a segment that some rank
// has exposed.
type GlobalRef struct {
	Rank    int
	Segment SegmentID
	Offset  int
}

// Add returns a reference n words further into the same
// segment.
func (g GlobalRef) Add(n int) GlobalRef {
	g.Offset += n
	return g
}

// Expose makes a segment reachable by one-sided operations
// and returns a reference to its first word.
//
// References are plain values, so they can be published to
// other ranks, e.g. with Allgather.
func (e *Endpoint) Expose(s *Segment) GlobalRef {
	return GlobalRef{Rank: e.rank, Segment: e.nic.register(s)}
}

// FetchAdd atomically adds delta to the referenced word
// and returns its previous value.
func (e *Endpoint) FetchAdd(ref GlobalRef, delta uint64) *Future[uint64] {
	if ref.Rank == e.rank {
		e.stats.LocalRMA++
		return readyFuture(e, e.nic.segment(ref.Segment).FetchAdd(ref.Offset, delta))
	}
	return sendRMA[uint64](e, &rmaRequest{Op: opFetchAdd, Ref: ref, Delta: delta})
}

// Load atomically reads the referenced word.
func (e *Endpoint) Load(ref GlobalRef) *Future[uint64] {
	if ref.Rank == e.rank {
		e.stats.LocalRMA++
		return readyFuture(e, e.nic.segment(ref.Segment).Load(ref.Offset))
	}
	return sendRMA[uint64](e, &rmaRequest{Op: opLoad, Ref: ref})
}

// Get reads count words starting at ref.
func (e *Endpoint) Get(ref GlobalRef, count int) *Future[[]uint64] {
	if ref.Rank == e.rank {
		e.stats.LocalRMA++
		res := make([]uint64, count)
		e.nic.segment(ref.Segment).Get(ref.Offset, res)
		return readyFuture(e, res)
	}
	return sendRMA[[]uint64](e, &rmaRequest{Op: opGet, Ref: ref, Count: count})
}

// Put writes words starting at ref.
//
// The future resolves once the words have landed.
func (e *Endpoint) Put(ref GlobalRef, words []uint64) *Future[struct{}] {
	if ref.Rank == e.rank {
		e.stats.LocalRMA++
		e.nic.segment(ref.Segment).Put(ref.Offset, words)
		return readyFuture(e, struct{}{})
	}
	data := append([]uint64{}, words...)
	return sendRMA[struct{}](e, &rmaRequest{Op: opPut, Ref: ref, Words: data})
}

func sendRMA[T any](e *Endpoint, req *rmaRequest) *Future[T] {
	e.stats.RemoteRMA++
	f, id := pendingFuture[T](e)
	req.ID = id
	req.ReplyTo = e.self().reply
	e.send(e.self().reply, e.peers[req.Ref.Rank].nic, req, headerSize+8*len(req.Words))
	return f
}

type rmaOp int

const (
	opFetchAdd rmaOp = iota
	opLoad
	opGet
	opPut
)

type rmaRequest struct {
	ID      uuid.UUID
	Op      rmaOp
	Ref     GlobalRef
	Delta   uint64
	Count   int
	Words   []uint64
	ReplyTo *simulator.Port
}

// A nic applies one-sided requests to a rank's exposed
// segments without involving the rank's own Goroutine.
type nic struct {
	port    *simulator.Port
	network simulator.Network
	done    *simulator.EventStream

	lock     sync.Mutex
	segments []*Segment

	served atomic.Int64
}

func (n *nic) register(s *Segment) SegmentID {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.segments = append(n.segments, s)
	return SegmentID(len(n.segments) - 1)
}

func (n *nic) segment(id SegmentID) *Segment {
	n.lock.Lock()
	defer n.lock.Unlock()
	if id < 0 || int(id) >= len(n.segments) {
		panic(fmt.Sprintf("unknown segment: %d", id))
	}
	return n.segments[id]
}

func (n *nic) run(h *simulator.Handle) {
	for {
		event := h.Poll(n.done, n.port.Incoming)
		if event.Stream == n.done {
			return
		}
		req := event.Message.(*simulator.Message).Message.(*rmaRequest)
		value := n.apply(req)
		n.served.Add(1)
		n.network.Send(h, &simulator.Message{
			Source:  n.port,
			Dest:    req.ReplyTo,
			Message: &response{ID: req.ID, Value: value},
			Size:    float64(headerSize + sizeOf(value)),
		})
	}
}

func (n *nic) apply(req *rmaRequest) interface{} {
	seg := n.segment(req.Ref.Segment)
	switch req.Op {
	case opFetchAdd:
		return seg.FetchAdd(req.Ref.Offset, req.Delta)
	case opLoad:
		return seg.Load(req.Ref.Offset)
	case opGet:
		res := make([]uint64, req.Count)
		seg.Get(req.Ref.Offset, res)
		return res
	case opPut:
		seg.Put(req.Ref.Offset, req.Words)
		return nil
	default:
		panic(fmt.Sprintf("unknown operation: %d", req.Op))
	}
}
