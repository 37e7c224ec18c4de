package hashtable

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
	"github.com/unixpickle/dist-hashmap/fabric"
)

// A Location is a slot along with where it lives.
type Location struct {
	Slot   uint64
	Owner  int
	Offset uint64
}

// A Reservation decides which inserter wins a slot and
// moves records in and out of remote slots.
type Reservation[K Key[K], R Record[K, R]] interface {
	// Claim tries to take an unclaimed slot.
	// If it wins, the record is stored in the slot before
	// Claim returns.
	Claim(loc Location, record R) bool

	// Read gets the record in a slot, or false if the slot
	// has never been claimed.
	Read(loc Location) (R, bool)
}

// A Strategy selects a Reservation implementation.
type Strategy int

const (
	// RMA claims and reads slots with one-sided atomics,
	// gets, and puts; the owner's Goroutine is not involved.
	RMA Strategy = iota

	// RPC ships every claim and read to the owner, which
	// runs it on its own Goroutine.
	RPC
)

// ParseStrategy parses the name of a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(name) {
	case "rma", "":
		return RMA, nil
	case "rpc":
		return RPC, nil
	}
	return 0, errors.Errorf("unknown strategy: %q", name)
}

func (s Strategy) String() string {
	switch s {
	case RMA:
		return "rma"
	case RPC:
		return "rpc"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

type rmaReservation[K Key[K], R Record[K, R]] struct {
	ep      *fabric.Endpoint
	store   *SlotStore[K, R]
	used    []fabric.GlobalRef
	records []fabric.GlobalRef

	retryDelay    float64
	maxRetryDelay float64
	stats         *LocalStats
}

// newRMAReservation exposes the local store and gathers
// every rank's segment references.
// It is collective.
func newRMAReservation[K Key[K], R Record[K, R]](ep *fabric.Endpoint, store *SlotStore[K, R],
	opts *Options, stats *LocalStats) *rmaReservation[K, R] {
	local := [2]fabric.GlobalRef{ep.Expose(store.used), ep.Expose(store.records)}
	refs := ep.Allgather(local, 48)
	res := &rmaReservation[K, R]{
		ep:            ep,
		store:         store,
		used:          make([]fabric.GlobalRef, len(refs)),
		records:       make([]fabric.GlobalRef, len(refs)),
		retryDelay:    opts.RetryDelay,
		maxRetryDelay: opts.MaxRetryDelay,
		stats:         stats,
	}
	for i, x := range refs {
		pair := x.([2]fabric.GlobalRef)
		res.used[i], res.records[i] = pair[0], pair[1]
	}
	return res
}

func (r *rmaReservation[K, R]) Claim(loc Location, record R) bool {
	r.countRemote(loc)
	prev := r.ep.FetchAdd(r.used[loc.Owner].Add(int(loc.Offset)), 1).Wait()
	if prev != 0 {
		return false
	}
	r.ep.Put(r.blockRef(loc), r.store.encode(record)).Wait()
	return true
}

func (r *rmaReservation[K, R]) Read(loc Location) (R, bool) {
	r.countRemote(loc)
	if r.ep.Load(r.used[loc.Owner].Add(int(loc.Offset))).Wait() == 0 {
		var zero R
		return zero, false
	}
	delay := r.retryDelay
	for {
		block := r.ep.Get(r.blockRef(loc), r.store.Stride()).Wait()
		if record, ok := r.store.decode(block); ok {
			return record, true
		}
		// The claim has won but its put is still in flight.
		r.stats.StaleReads++
		r.ep.Logger().Debug("record not landed", "slot", loc.Slot, "owner", loc.Owner, "delay", delay)
		r.ep.Pause(delay)
		delay = math.Min(delay*2, r.maxRetryDelay)
	}
}

func (r *rmaReservation[K, R]) blockRef(loc Location) fabric.GlobalRef {
	return r.records[loc.Owner].Add(int(loc.Offset) * r.store.Stride())
}

func (r *rmaReservation[K, R]) countRemote(loc Location) {
	if loc.Owner != r.ep.Rank() {
		r.stats.RemoteOps++
	}
}

type rpcReservation[K Key[K], R Record[K, R]] struct {
	ep    *fabric.Endpoint
	id    fabric.ObjectID
	store *SlotStore[K, R]
	stats *LocalStats
}

// newRPCReservation registers the local store as a
// distributed object.
// It is collective.
func newRPCReservation[K Key[K], R Record[K, R]](ep *fabric.Endpoint, store *SlotStore[K, R],
	stats *LocalStats) *rpcReservation[K, R] {
	id := ep.Register(store)
	ep.Barrier()
	return &rpcReservation[K, R]{ep: ep, id: id, store: store, stats: stats}
}

func (r *rpcReservation[K, R]) Claim(loc Location, record R) bool {
	r.countRemote(loc)
	id := r.id
	return fabric.Call(r.ep, loc.Owner, 8*r.store.Stride(), func(target *fabric.Endpoint) bool {
		store := target.Object(id).(*SlotStore[K, R])
		if !store.TryClaim(loc.Offset) {
			return false
		}
		store.Write(loc.Offset, record)
		return true
	}).Wait()
}

func (r *rpcReservation[K, R]) Read(loc Location) (R, bool) {
	r.countRemote(loc)
	id := r.id
	result := fabric.Call(r.ep, loc.Owner, 8, func(target *fabric.Endpoint) readResult[R] {
		store := target.Object(id).(*SlotStore[K, R])
		if !store.IsUsed(loc.Offset) {
			return readResult[R]{size: 1}
		}
		record, ok := store.Read(loc.Offset)
		if !ok {
			// Claims and writes happen in one step on this
			// Goroutine.
			panic("claimed slot has no record")
		}
		return readResult[R]{record: record, used: true, size: 8 * store.Stride()}
	}).Wait()
	return result.record, result.used
}

func (r *rpcReservation[K, R]) countRemote(loc Location) {
	if loc.Owner != r.ep.Rank() {
		r.stats.RemoteOps++
	}
}

type readResult[R any] struct {
	record R
	used   bool
	size   int
}

func (r readResult[R]) Size() int {
	return r.size
}
