// Package allreduce combines one small vector per node,
// such as a node's counters, into a result that every node
// receives.
package allreduce

import "github.com/unixpickle/dist-hashmap/collcomm"

// Allreducer is an algorithm that can apply a ReduceFn to
// vectors that are distributed across nodes.
//
// It is not safe to call Allreduce() multiple times in a
// row with the same Comms object.
// A new set of ports must be used every time to avoid
// interference.
//
// While a node waits for its peers, it handles the traffic
// of bg, if bg is non-nil.
type Allreducer interface {
	Allreduce(c *collcomm.Comms, data []float64, fn collcomm.ReduceFn,
		bg collcomm.Servicer) []float64
}
