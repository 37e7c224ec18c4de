package hashtable

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/dist-hashmap/fabric"
	"github.com/unixpickle/dist-hashmap/partition"
	"github.com/unixpickle/dist-hashmap/simulator"
)

type testKey struct {
	ID   uint64
	Code uint64
}

func (t testKey) Hash() uint64 {
	return t.Code
}

func (t testKey) Equal(other testKey) bool {
	return t == other
}

type testRecord struct {
	K     testKey
	Value uint64
}

func (t testRecord) Key() testKey {
	return t.K
}

func (t testRecord) Width() int {
	return 3
}

func (t testRecord) Encode(dst []uint64) {
	dst[0], dst[1], dst[2] = t.K.ID, t.K.Code, t.Value
}

func (t testRecord) Decode(src []uint64) testRecord {
	return testRecord{K: testKey{ID: src[0], Code: src[1]}, Value: src[2]}
}

type testTable = Table[testKey, testRecord]

type setup struct {
	Nodes     int
	Strategy  Strategy
	Partition partition.Policy
	Network   string
}

func (s setup) String() string {
	return fmt.Sprintf("Nodes=%d,Strategy=%s,Partition=%s,Network=%s", s.Nodes, s.Strategy,
		s.Partition, s.Network)
}

func (s setup) run(t *testing.T, f func(ep *fabric.Endpoint)) {
	loop := simulator.NewEventLoop()
	nodes := make([]*simulator.Node, s.Nodes)
	for i := range nodes {
		nodes[i] = simulator.NewNode()
	}
	var network simulator.Network
	switch s.Network {
	case "random":
		network = simulator.RandomNetwork{}
	case "switcher":
		switcher := simulator.NewGreedyDropSwitcher(s.Nodes, 1e6)
		network = simulator.NewSwitcherNetwork(switcher, nodes, 0.05)
	default:
		network = simulator.NewLatencyNetwork(0.05, 1e6)
	}
	fabric.Spawn(loop, network, nodes, f)
	require.NoError(t, loop.Run())
}

func (s setup) options() *Options {
	return &Options{Strategy: s.Strategy, Partition: s.Partition}
}

func forEachSetup(t *testing.T, f func(t *testing.T, s setup)) {
	for _, nodes := range []int{1, 2, 5} {
		for _, strategy := range []Strategy{RMA, RPC} {
			for _, policy := range []partition.Policy{partition.Block, partition.Modulo} {
				for _, network := range []string{"latency", "random", "switcher"} {
					s := setup{Nodes: nodes, Strategy: strategy, Partition: policy, Network: network}
					t.Run(s.String(), func(t *testing.T) {
						f(t, s)
					})
				}
			}
		}
	}
}

func record(rank, i int, code uint64) testRecord {
	id := uint64(rank)<<32 | uint64(i)
	return testRecord{K: testKey{ID: id, Code: code}, Value: id * 7}
}

func TestInsertFind(t *testing.T) {
	forEachSetup(t, func(t *testing.T, s setup) {
		const perRank = 20
		s.run(t, func(ep *fabric.Endpoint) {
			table := New[testKey, testRecord](ep, 64*uint64(ep.Ranks()), s.options())
			rng := rand.New(rand.NewSource(int64(ep.Rank())))
			for i := 0; i < perRank; i++ {
				assert.True(t, table.Insert(record(ep.Rank(), i, rng.Uint64())))
			}
			table.Barrier()

			// Look up records inserted by the next rank.
			other := (ep.Rank() + 1) % ep.Ranks()
			rng = rand.New(rand.NewSource(int64(other)))
			for i := 0; i < perRank; i++ {
				expected := record(other, i, rng.Uint64())
				actual, ok := table.Find(expected.K)
				if assert.True(t, ok) {
					assert.Equal(t, expected, actual)
				}
			}

			_, ok := table.Find(testKey{ID: 1 << 62, Code: 12345})
			assert.False(t, ok)

			stats := table.Stats()
			assert.EqualValues(t, perRank*ep.Ranks(), stats.Inserts)
			assert.EqualValues(t, perRank*ep.Ranks(), stats.Used)
			assert.EqualValues(t, (perRank+1)*ep.Ranks(), stats.Finds)
			assert.EqualValues(t, perRank*ep.Ranks(), stats.Hits)
			assert.EqualValues(t, table.Size(), stats.Capacity)
		})
	})
}

func TestContendedInserts(t *testing.T) {
	forEachSetup(t, func(t *testing.T, s setup) {
		// Every rank inserts keys whose hashes all start at
		// the same few slots.
		const perRank = 6
		capacity := uint64(perRank*s.Nodes + 3)
		var lock sync.Mutex
		stored := map[testKey]int{}
		s.run(t, func(ep *fabric.Endpoint) {
			table := New[testKey, testRecord](ep, capacity, s.options())
			for i := 0; i < perRank; i++ {
				assert.True(t, table.Insert(record(ep.Rank(), i, uint64(i%2))))
			}
			table.Barrier()
			lock.Lock()
			table.Each(func(r testRecord) bool {
				stored[r.K]++
				return true
			})
			lock.Unlock()

			stats := table.Stats()
			assert.EqualValues(t, perRank*ep.Ranks(), stats.Used)
			assert.EqualValues(t, perRank*ep.Ranks(), stats.Inserts)
			assert.Zero(t, stats.FailedInserts)
		})
		assert.Len(t, stored, perRank*s.Nodes)
		for key, count := range stored {
			assert.Equal(t, 1, count, "key %v", key)
		}
	})
}

func TestFullTable(t *testing.T) {
	forEachSetup(t, func(t *testing.T, s setup) {
		capacity := uint64(4 * s.Nodes)
		successes := make([]int, s.Nodes)
		s.run(t, func(ep *fabric.Endpoint) {
			table := New[testKey, testRecord](ep, capacity, s.options())
			// One extra insert in total, from rank 0.
			n := 4
			if ep.Rank() == 0 {
				n++
			}
			for i := 0; i < n; i++ {
				if table.Insert(record(ep.Rank(), i, uint64(i*31+ep.Rank()))) {
					successes[ep.Rank()]++
				}
			}
			stats := table.Stats()
			assert.EqualValues(t, capacity, stats.Used)
			assert.EqualValues(t, 1, stats.FailedInserts)
			table.Barrier()

			// Lookups of a missing key scan the whole table.
			_, ok := table.Find(testKey{ID: 1 << 62})
			assert.False(t, ok)
		})
		var total int
		for _, x := range successes {
			total += x
		}
		assert.EqualValues(t, capacity, total)
	})
}

func TestCollidingHashes(t *testing.T) {
	for _, strategy := range []Strategy{RMA, RPC} {
		t.Run(strategy.String(), func(t *testing.T) {
			s := setup{Nodes: 2, Strategy: strategy}
			first := testRecord{K: testKey{ID: 1, Code: 3}, Value: 100}
			second := testRecord{K: testKey{ID: 2, Code: 19}, Value: 200}
			third := testRecord{K: testKey{ID: 3, Code: 3}, Value: 300}
			s.run(t, func(ep *fabric.Endpoint) {
				table := New[testKey, testRecord](ep, 16, s.options())
				if ep.Rank() == 1 {
					assert.True(t, table.Insert(first))
					assert.True(t, table.Insert(second))
					assert.True(t, table.Insert(third))
				}
				table.Barrier()
				if ep.Rank() == 0 {
					var slots []uint64
					table.store.Each(func(offset uint64, r testRecord) bool {
						slots = append(slots, offset)
						return true
					})
					assert.Equal(t, []uint64{3, 4, 5}, slots)
				}
				for _, r := range []testRecord{first, second, third} {
					actual, ok := table.Find(r.K)
					assert.True(t, ok)
					assert.Equal(t, r, actual)
				}
				// Finding the keys at slots 3, 4, and 5 takes 1,
				// 2, and 3 probes, and so does inserting them.
				local := table.LocalStats()
				if ep.Rank() == 1 {
					assert.EqualValues(t, 12, local.Probes)
					assert.EqualValues(t, 3, local.LostClaims)
				} else {
					assert.EqualValues(t, 6, local.Probes)
				}
			})
		})
	}
}

func TestFindIdempotent(t *testing.T) {
	for _, strategy := range []Strategy{RMA, RPC} {
		t.Run(strategy.String(), func(t *testing.T) {
			s := setup{Nodes: 3, Strategy: strategy, Network: "random"}
			s.run(t, func(ep *fabric.Endpoint) {
				table := New[testKey, testRecord](ep, 30, s.options())
				r := record(ep.Rank(), 0, uint64(ep.Rank()*10))
				table.Insert(r)
				table.Barrier()
				before := table.Stats()
				for i := 0; i < 3; i++ {
					actual, ok := table.Find(r.K)
					assert.True(t, ok)
					assert.Equal(t, r, actual)
				}
				after := table.Stats()
				assert.Equal(t, before.Used, after.Used)
				assert.Equal(t, before.Inserts, after.Inserts)
			})
		})
	}
}

func TestStaleReads(t *testing.T) {
	// A slow network leaves puts in flight long after their
	// claims, so finds must wait for the records to land.
	s := setup{Nodes: 2, Strategy: RMA}
	loop := simulator.NewEventLoop()
	nodes := []*simulator.Node{simulator.NewNode(), simulator.NewNode()}
	network := simulator.NewLatencyNetwork(0.01, 100)
	key := testKey{ID: 9, Code: 0}
	fabric.Spawn(loop, network, nodes, func(ep *fabric.Endpoint) {
		table := New[testKey, testRecord](ep, 2, s.options())
		if ep.Rank() == 1 {
			// Slot 0 is owned by rank 0, which reads it while
			// the put is still crossing the network.
			table.Insert(testRecord{K: key, Value: 5})
		} else {
			ep.Pause(0.5)
			actual, ok := table.Find(key)
			assert.True(t, ok)
			assert.EqualValues(t, 5, actual.Value)
			assert.NotZero(t, table.LocalStats().StaleReads)
		}
	})
	require.NoError(t, loop.Run())
}

func TestContractViolations(t *testing.T) {
	s := setup{Nodes: 1}
	s.run(t, func(ep *fabric.Endpoint) {
		assert.Panics(t, func() {
			New[testKey, testRecord](ep, 0, nil)
		})
	})

	store := NewSlotStore[testKey, testRecord](2)
	store.Write(1, testRecord{})
	assert.Panics(t, func() {
		store.Write(1, testRecord{})
	})
	assert.Panics(t, func() {
		store.TryClaim(2)
	})
}

func TestAbsentKeyStopsAtUnusedSlot(t *testing.T) {
	for _, strategy := range []Strategy{RMA, RPC} {
		t.Run(strategy.String(), func(t *testing.T) {
			s := setup{Nodes: 3, Strategy: strategy}
			s.run(t, func(ep *fabric.Endpoint) {
				table := New[testKey, testRecord](ep, 16, s.options())
				if ep.Rank() == 0 {
					assert.True(t, table.Insert(testRecord{K: testKey{ID: 1, Code: 5}}))
					assert.True(t, table.Insert(testRecord{K: testKey{ID: 2, Code: 21}}))
				}
				table.Barrier()

				// Slots 5 and 6 hold the chain; slot 7 is unused.
				before := table.LocalStats().Probes
				_, ok := table.Find(testKey{ID: 3, Code: 5})
				assert.False(t, ok)
				assert.EqualValues(t, 3, table.LocalStats().Probes-before)
			})
		})
	}
}

func TestDuplicateKeys(t *testing.T) {
	for _, strategy := range []Strategy{RMA, RPC} {
		t.Run(strategy.String(), func(t *testing.T) {
			s := setup{Nodes: 3, Strategy: strategy, Network: "random"}
			key := testKey{ID: 7, Code: 40}
			s.run(t, func(ep *fabric.Endpoint) {
				table := New[testKey, testRecord](ep, 12, s.options())
				if ep.Rank() == 1 {
					assert.True(t, table.Insert(testRecord{K: key, Value: 1}))
					assert.True(t, table.Insert(testRecord{K: key, Value: 2}))
				}
				stats := table.Stats()
				assert.EqualValues(t, 2, stats.Used)
				assert.EqualValues(t, 2, stats.Inserts)

				actual, ok := table.Find(key)
				assert.True(t, ok)
				assert.EqualValues(t, 1, actual.Value)
			})
		})
	}
}

func TestStatsVector(t *testing.T) {
	a := LocalStats{Inserts: 1<<60 + 3, Probes: 1<<53 + 1, Used: 5}
	b := LocalStats{Inserts: 1<<32 + 1, Probes: 1, RemoteOps: 9}
	va, vb := a.vector(), b.vector()
	sum := make([]float64, len(va))
	for i := range sum {
		sum[i] = va[i] + vb[i]
	}
	total := statsFromVector(sum)
	assert.Equal(t, uint64(1<<60+1<<32+4), total.Inserts)
	assert.Equal(t, uint64(1<<53+2), total.Probes)
	assert.EqualValues(t, 5, total.Used)
	assert.EqualValues(t, 9, total.RemoteOps)
}
