package hashtable

// A Probe walks the slots that linear probing visits for
// one hash: hash mod capacity first, then every following
// slot, wrapping around, until all capacity slots have
// been visited.
type Probe struct {
	start    uint64
	capacity uint64
	step     uint64
}

// NewProbe creates a probe sequence.
func NewProbe(hash, capacity uint64) *Probe {
	if capacity == 0 {
		panic("capacity must be positive")
	}
	return &Probe{start: hash % capacity, capacity: capacity}
}

// Next gets the next slot, or false once every slot has
// been visited.
func (p *Probe) Next() (uint64, bool) {
	if p.step == p.capacity {
		return 0, false
	}
	// start < capacity, so this cannot overflow unless
	// capacity is above 2^63.
	slot := (p.start + p.step) % p.capacity
	p.step++
	return slot, true
}

// Steps gets the number of slots visited so far.
func (p *Probe) Steps() uint64 {
	return p.step
}
