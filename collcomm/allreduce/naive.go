package allreduce

import "github.com/unixpickle/dist-hashmap/collcomm"

// A NaiveAllreducer sends every vector from every node to
// every other node.
//
// It takes a single round, which suits short vectors.
type NaiveAllreducer struct{}

// Allreduce runs fn() on all of the nodes' vectors on
// every node.
func (n NaiveAllreducer) Allreduce(c *collcomm.Comms, data []float64, fn collcomm.ReduceFn,
	bg collcomm.Servicer) []float64 {
	gathered := make([][]float64, c.Size())
	gathered[c.Index()] = data
	if c.Size() > 1 {
		c.Bcast(data)
	}
	for i := 0; i < c.Size()-1; i++ {
		incoming, source := c.RecvServiced(bg)
		gathered[c.IndexOf(source)] = incoming
	}
	return fn(c.Handle, gathered...)
}
