package collcomm

import (
	"github.com/unixpickle/dist-hashmap/simulator"
)

// A Servicer handles traffic that shows up on other
// streams while a node is blocked in a collective.
//
// Without a Servicer, a node waiting on a barrier could
// never answer the requests that its peers need answered
// before they can reach the barrier themselves.
type Servicer interface {
	// Streams lists the streams to watch.
	Streams() []*simulator.EventStream

	// Service handles one event from those streams.
	Service(event *simulator.Event)
}

// Barrier blocks until every node has entered the
// barrier.
//
// It is a dissemination barrier: in round k, each node
// notifies the node 2^k places ahead of it, so it takes
// ceil(log2(n)) rounds.
// Barrier forks c, so it is collective in the same way
// that Fork is.
// If bg is non-nil, it is serviced while waiting.
func Barrier(c *Comms, bg Servicer) {
	c = c.Fork()
	n := c.Size()
	received := map[int]int{}
	for round, dist := 0, 1; dist < n; round, dist = round+1, dist*2 {
		c.Post((c.Index()+dist)%n, barrierToken{round: round}, 1)
		for received[round] == 0 {
			token := c.recvServiced(bg).Message.(barrierToken)
			received[token.round]++
		}
		received[round]--
	}
}

// Allgather sends value to every node and returns the
// values from all nodes, indexed by node.
//
// The size is the approximate encoded size of value.
// Like Barrier, Allgather forks c and services bg while
// waiting.
func Allgather(c *Comms, value interface{}, size float64, bg Servicer) []interface{} {
	c = c.Fork()
	res := make([]interface{}, c.Size())
	res[c.Index()] = value

	item := &gatherItem{index: c.Index(), value: value}
	messages := make([]*simulator.Message, 0, len(c.Ports)-1)
	for i, port := range c.Ports {
		if i == c.Index() {
			continue
		}
		messages = append(messages, &simulator.Message{
			Source:  c.Port,
			Dest:    port,
			Message: item,
			Size:    size + 8,
		})
	}
	if len(messages) > 0 {
		c.Network.Send(c.Handle, messages...)
	}

	for i := 0; i < len(c.Ports)-1; i++ {
		incoming := c.recvServiced(bg).Message.(*gatherItem)
		res[incoming.index] = incoming.value
	}
	return res
}

type barrierToken struct {
	round int
}

type gatherItem struct {
	index int
	value interface{}
}

func (c *Comms) recvServiced(bg Servicer) *simulator.Message {
	if bg == nil {
		return c.Port.Recv(c.Handle)
	}
	streams := append([]*simulator.EventStream{c.Port.Incoming}, bg.Streams()...)
	for {
		event := c.Handle.Poll(streams...)
		if event.Stream == c.Port.Incoming {
			return event.Message.(*simulator.Message)
		}
		bg.Service(event)
	}
}
