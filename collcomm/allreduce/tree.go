package allreduce

import (
	"github.com/unixpickle/dist-hashmap/collcomm"
	"github.com/unixpickle/dist-hashmap/simulator"
)

// A TreeAllreducer arranges the nodes in a binary heap.
// Vectors are reduced on the way up to the root, and the
// result is passed back down to the leaves.
type TreeAllreducer struct{}

// Allreduce calls fn on vectors along a tree and returns
// the resulting reduced vector.
func (t TreeAllreducer) Allreduce(c *collcomm.Comms, data []float64, fn collcomm.ReduceFn,
	bg collcomm.Servicer) []float64 {
	parent, children := heapPosition(c)

	vecs := [][]float64{data}
	for range children {
		msg, _ := c.RecvServiced(bg)
		vecs = append(vecs, msg)
	}

	result := fn(c.Handle, vecs...)
	if parent != nil {
		c.Send(parent, result)
		result, _ = c.RecvServiced(bg)
	}
	for _, child := range children {
		c.Send(child, result)
	}
	return result
}

// heapPosition finds a node's parent and children in a
// binary heap of all the nodes.
//
// The root has no parent and leaves have no children.
func heapPosition(c *collcomm.Comms) (parent *simulator.Port, children []*simulator.Port) {
	idx := c.Index()
	if idx > 0 {
		parent = c.Ports[(idx-1)/2]
	}
	for _, child := range []int{2*idx + 1, 2*idx + 2} {
		if child < c.Size() {
			children = append(children, c.Ports[child])
		}
	}
	return
}
