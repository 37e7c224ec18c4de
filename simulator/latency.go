package simulator

import "sync"

// A LatencyNetwork delivers every message after a fixed
// latency plus the time it takes to push the message
// through a link of the given rate.
//
// Unlike SwitcherNetwork, links do not interfere with each
// other, so timings are exact and cheap to compute.
// A small message may overtake a large one sent earlier.
type LatencyNetwork struct {
	Latency float64
	Rate    float64
}

// NewLatencyNetwork creates a LatencyNetwork.
//
// A rate of 0 means infinite bandwidth.
func NewLatencyNetwork(latency, rate float64) *LatencyNetwork {
	return &LatencyNetwork{Latency: latency, Rate: rate}
}

// Send schedules the messages for delivery.
func (l *LatencyNetwork) Send(h *Handle, msgs ...*Message) {
	for _, msg := range msgs {
		delay := l.Latency
		if l.Rate > 0 {
			delay += msg.Size / l.Rate
		}
		h.Schedule(msg.Dest.Incoming, msg, delay)
	}
}

// A CountingNetwork wraps another Network and keeps track
// of how much traffic passes through it.
type CountingNetwork struct {
	Network Network

	lock     sync.Mutex
	messages int64
	bytes    float64
}

// NewCountingNetwork wraps n.
func NewCountingNetwork(n Network) *CountingNetwork {
	return &CountingNetwork{Network: n}
}

// Send records the messages and forwards them to the
// wrapped Network.
func (c *CountingNetwork) Send(h *Handle, msgs ...*Message) {
	c.lock.Lock()
	c.messages += int64(len(msgs))
	for _, msg := range msgs {
		c.bytes += msg.Size
	}
	c.lock.Unlock()
	c.Network.Send(h, msgs...)
}

// Messages returns the number of messages sent so far.
func (c *CountingNetwork) Messages() int64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.messages
}

// Bytes returns the total size of the messages sent so
// far.
func (c *CountingNetwork) Bytes() float64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.bytes
}
