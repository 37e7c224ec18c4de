package collcomm

import (
	"sync"

	"github.com/unixpickle/dist-hashmap/simulator"
)

// Comms manages a set of connections between a bunch of
// nodes.
// During a collective operation, each node has a local
// Comms object that represents its view of the world.
// A new Comms object should be used for each operation,
// thus automatically handling multiplexing; see Fork.
type Comms struct {
	// Handle is the node's main Goroutine's handle on the
	// event loop.
	Handle *simulator.Handle

	// Port is the current node's port.
	Port *simulator.Port

	// Ports contains ports to all the nodes in the
	// network, including the current node.
	Ports []*simulator.Port

	// Network is the network connecting the nodes.
	Network simulator.Network

	group *Group
	index int
	forks *int
}

// A Group is the shared bookkeeping behind the Comms of
// every node in one cluster.
//
// It hands out a fresh generation of ports each time the
// nodes fork, so that consecutive collectives never read
// each other's messages.
type Group struct {
	loop  *simulator.EventLoop
	nodes []*simulator.Node

	lock        sync.Mutex
	generations [][]*simulator.Port
}

// NewGroup creates a Group for the nodes.
func NewGroup(loop *simulator.EventLoop, nodes []*simulator.Node) *Group {
	return &Group{loop: loop, nodes: nodes}
}

// Size gets the number of nodes in the group.
func (g *Group) Size() int {
	return len(g.nodes)
}

// Comms creates the root Comms for the node at index.
//
// It should be called once per node, from the Goroutine
// that owns the handle.
func (g *Group) Comms(h *simulator.Handle, network simulator.Network, index int) *Comms {
	ports := g.generation(0)
	return &Comms{
		Handle:  h,
		Port:    ports[index],
		Ports:   ports,
		Network: network,
		group:   g,
		index:   index,
		forks:   new(int),
	}
}

func (g *Group) generation(n int) []*simulator.Port {
	g.lock.Lock()
	defer g.lock.Unlock()
	for len(g.generations) <= n {
		ports := make([]*simulator.Port, len(g.nodes))
		for i, node := range g.nodes {
			ports[i] = node.Port(g.loop)
		}
		g.generations = append(g.generations, ports)
	}
	return g.generations[n]
}

// SpawnComms creates Comms objects for every node in a
// network and calls f for each node in its own Goroutine.
func SpawnComms(loop *simulator.EventLoop, network simulator.Network, nodes []*simulator.Node,
	f func(c *Comms)) {
	group := NewGroup(loop, nodes)
	for i := range nodes {
		idx := i
		loop.Go(func(h *simulator.Handle) {
			f(group.Comms(h, network, idx))
		})
	}
}

// Fork creates a Comms on a brand new set of ports.
//
// Fork is collective: every node must fork the same
// number of times, in the same order, for the forks to
// line up.
// All Comms descended from one root share a counter.
func (c *Comms) Fork() *Comms {
	*c.forks++
	ports := c.group.generation(*c.forks)
	return &Comms{
		Handle:  c.Handle,
		Port:    ports[c.index],
		Ports:   ports,
		Network: c.Network,
		group:   c.group,
		index:   c.index,
		forks:   c.forks,
	}
}

// Size gets the number of nodes.
func (c *Comms) Size() int {
	return len(c.Ports)
}

// Bcast sends a vector to every other node.
func (c *Comms) Bcast(vec []float64) {
	messages := make([]*simulator.Message, 0, len(c.Ports)-1)
	for _, port := range c.Ports {
		if port == c.Port {
			continue
		}
		messages = append(messages, &simulator.Message{
			Source:  c.Port,
			Dest:    port,
			Message: vec,
			Size:    float64(len(vec) * 8),
		})
	}
	c.Network.Send(c.Handle, messages...)
}

// Send schedules a message to be sent to the destination.
func (c *Comms) Send(dst *simulator.Port, vec []float64) {
	c.Network.Send(c.Handle, &simulator.Message{
		Source:  c.Port,
		Dest:    dst,
		Message: vec,
		Size:    float64(len(vec) * 8),
	})
}

// Post schedules an arbitrary payload of the given size
// to be sent to the node at index dst.
func (c *Comms) Post(dst int, payload interface{}, size float64) {
	c.Network.Send(c.Handle, &simulator.Message{
		Source:  c.Port,
		Dest:    c.Ports[dst],
		Message: payload,
		Size:    size,
	})
}

// RecvServiced receives the next vector, handling bg's
// traffic while it waits.
// A nil bg is allowed.
func (c *Comms) RecvServiced(bg Servicer) ([]float64, *simulator.Port) {
	res := c.recvServiced(bg)
	return res.Message.([]float64), res.Source
}

// Index returns the current node's index in the list of
// nodes.
func (c *Comms) Index() int {
	return c.index
}

// IndexOf returns any node's index.
func (c *Comms) IndexOf(p *simulator.Port) int {
	for i, port := range c.Ports {
		if port == p {
			return i
		}
	}
	panic("unreachable")
}
