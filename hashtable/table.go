// Package hashtable implements a fixed-capacity, open
// addressing hash table whose slots are spread across the
// ranks of a cluster.
//
// Any rank can insert or look up any key.
// Slots are claimed with a single atomic step, so two
// ranks inserting into the same slot never both win.
package hashtable

import (
	"io"
	"log/slog"

	"github.com/unixpickle/dist-hashmap/collcomm"
	"github.com/unixpickle/dist-hashmap/collcomm/allreduce"
	"github.com/unixpickle/dist-hashmap/fabric"
	"github.com/unixpickle/dist-hashmap/partition"
)

// Options configures a Table.
//
// Every rank must use the same Strategy and Partition.
type Options struct {
	Strategy  Strategy
	Partition partition.Policy

	// Reducer sums statistics in Stats.
	// Defaults to a TreeAllreducer.
	Reducer allreduce.Allreducer

	// RetryDelay is the first pause before an RMA read
	// looks again at a claimed slot whose record has not
	// landed yet.
	// Each retry doubles it, up to MaxRetryDelay.
	//
	// Default to 1e-3 and 1.
	RetryDelay    float64
	MaxRetryDelay float64

	// Logger defaults to discarding logs.
	Logger *slog.Logger
}

func (o *Options) withDefaults() *Options {
	res := Options{}
	if o != nil {
		res = *o
	}
	if res.Reducer == nil {
		res.Reducer = allreduce.TreeAllreducer{}
	}
	if res.RetryDelay <= 0 {
		res.RetryDelay = 1e-3
	}
	if res.MaxRetryDelay < res.RetryDelay {
		res.MaxRetryDelay = 1
		if res.MaxRetryDelay < res.RetryDelay {
			res.MaxRetryDelay = res.RetryDelay
		}
	}
	if res.Logger == nil {
		res.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &res
}

// A Table is one rank's handle on a distributed hash
// table.
//
// The table does not check for duplicate keys.
// Inserting the same key twice stores two records, and
// Find returns whichever comes first in the key's probe
// sequence.
type Table[K Key[K], R Record[K, R]] struct {
	ep       *fabric.Endpoint
	part     partition.Partitioner
	store    *SlotStore[K, R]
	res      Reservation[K, R]
	opts     *Options
	logger   *slog.Logger
	stats    LocalStats
	capacity uint64
}

// New creates a table with a fixed number of slots.
//
// New is collective: every rank must call it, in the same
// order relative to other collectives, with the same
// capacity and options.
func New[K Key[K], R Record[K, R]](ep *fabric.Endpoint, capacity uint64, opts *Options) *Table[K, R] {
	if capacity == 0 {
		panic("capacity must be positive")
	}
	opts = opts.withDefaults()
	part := partition.New(opts.Partition, capacity, ep.Ranks())
	t := &Table[K, R]{
		ep:       ep,
		part:     part,
		store:    NewSlotStore[K, R](part.Len(ep.Rank())),
		opts:     opts,
		logger:   opts.Logger.With("rank", ep.Rank()),
		capacity: capacity,
	}
	switch opts.Strategy {
	case RMA:
		t.res = newRMAReservation(ep, t.store, opts, &t.stats)
	case RPC:
		t.res = newRPCReservation(ep, t.store, &t.stats)
	default:
		panic("unknown strategy")
	}
	t.logger.Debug("created table", "capacity", capacity, "local", t.store.Len(),
		"strategy", opts.Strategy, "partition", opts.Partition)
	return t
}

// Size gets the table's capacity.
func (t *Table[K, R]) Size() uint64 {
	return t.capacity
}

// Insert stores a record in the first slot of its key's
// probe sequence that this rank manages to claim.
//
// It returns false if every slot was already taken.
func (t *Table[K, R]) Insert(record R) bool {
	probe := NewProbe(record.Key().Hash(), t.capacity)
	for {
		slot, ok := probe.Next()
		if !ok {
			break
		}
		t.stats.Probes++
		if t.res.Claim(t.locate(slot), record) {
			t.stats.Inserts++
			return true
		}
		t.stats.LostClaims++
	}
	t.stats.FailedInserts++
	t.logger.Debug("table full", "hash", record.Key().Hash())
	return false
}

// Find looks up the record for a key.
//
// The search stops at the first slot that has never been
// claimed.
func (t *Table[K, R]) Find(key K) (R, bool) {
	t.stats.Finds++
	probe := NewProbe(key.Hash(), t.capacity)
	for {
		slot, ok := probe.Next()
		if !ok {
			break
		}
		t.stats.Probes++
		record, used := t.res.Read(t.locate(slot))
		if !used {
			break
		}
		if record.Key().Equal(key) {
			t.stats.Hits++
			return record, true
		}
	}
	var zero R
	return zero, false
}

// Each calls f with every record stored in this rank's
// slots until f returns false.
//
// Records inserted by other ranks may not have landed
// yet; call Barrier first to see them all.
func (t *Table[K, R]) Each(f func(record R) bool) {
	t.store.Each(func(_ uint64, record R) bool {
		return f(record)
	})
}

// Barrier waits for every rank to reach the same point,
// after which all records inserted before it are visible.
func (t *Table[K, R]) Barrier() {
	t.ep.Barrier()
}

// LocalStats gets the counters for this rank alone.
func (t *Table[K, R]) LocalStats() LocalStats {
	s := t.stats
	s.Capacity = t.store.Len()
	s.Used = t.store.Used()
	return s
}

// Stats sums every rank's counters.
//
// It is collective.
func (t *Table[K, R]) Stats() LocalStats {
	t.ep.Barrier()
	local := t.LocalStats()
	sum := t.ep.Allreduce(t.opts.Reducer, local.vector(), collcomm.Sum)
	return statsFromVector(sum)
}

func (t *Table[K, R]) locate(slot uint64) Location {
	return Location{
		Slot:   slot,
		Owner:  t.part.Owner(slot),
		Offset: t.part.Offset(slot),
	}
}

// LocalStats counts what a table has done.
type LocalStats struct {
	Capacity uint64
	Used     uint64

	Inserts       uint64
	FailedInserts uint64
	Finds         uint64
	Hits          uint64

	// Probes counts slots visited by inserts and finds.
	Probes uint64

	// LostClaims counts slots that another insert claimed
	// first.
	LostClaims uint64

	// StaleReads counts RMA reads that found a claimed
	// slot whose record had not landed.
	StaleReads uint64

	RemoteOps uint64
}

// vector splits every counter into 32-bit halves, so the
// float64 sums stay exact for any counter value and up to
// 2^21 ranks.
func (l LocalStats) vector() []float64 {
	fields := l.fields()
	res := make([]float64, 0, 2*len(fields))
	for _, x := range fields {
		res = append(res, float64(*x>>32), float64(*x&0xffffffff))
	}
	return res
}

func statsFromVector(v []float64) LocalStats {
	var res LocalStats
	for i, x := range res.fields() {
		*x = uint64(v[2*i])<<32 + uint64(v[2*i+1])
	}
	return res
}

func (l *LocalStats) fields() []*uint64 {
	return []*uint64{
		&l.Capacity,
		&l.Used,
		&l.Inserts,
		&l.FailedInserts,
		&l.Finds,
		&l.Hits,
		&l.Probes,
		&l.LostClaims,
		&l.StaleReads,
		&l.RemoteOps,
	}
}
