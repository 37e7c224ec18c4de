// Package partition maps the slots of a distributed table
// to the ranks that own them.
package partition

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// A Partitioner assigns every slot in [0, capacity) to
// exactly one rank and to an offset within that rank's
// local storage.
//
// Partitioners are pure functions of the capacity and the
// number of ranks, so every rank can compute any slot's
// owner without communicating.
type Partitioner interface {
	// Capacity gets the total number of slots.
	Capacity() uint64

	// Ranks gets the number of ranks.
	Ranks() int

	// Owner gets the rank that owns a slot.
	Owner(slot uint64) int

	// Offset gets the slot's index within its owner's
	// local storage.
	Offset(slot uint64) uint64

	// Len gets the number of slots a rank owns.
	Len(rank int) uint64
}

// A Policy selects a Partitioner.
type Policy int

const (
	// Block gives each rank one contiguous run of
	// ceil(capacity/ranks) slots; the last runs may be
	// shorter or empty.
	Block Policy = iota

	// Modulo deals slots out to ranks round-robin.
	Modulo
)

// ParsePolicy parses the name of a Policy.
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(name) {
	case "block", "":
		return Block, nil
	case "modulo", "mod":
		return Modulo, nil
	}
	return 0, errors.Errorf("unknown partition policy: %q", name)
}

// String gets the name of the Policy.
func (p Policy) String() string {
	switch p {
	case Block:
		return "block"
	case Modulo:
		return "modulo"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// New creates a Partitioner for the policy.
//
// Both capacity and ranks must be positive.
func New(p Policy, capacity uint64, ranks int) Partitioner {
	if capacity == 0 {
		panic("capacity must be positive")
	}
	if ranks <= 0 {
		panic("rank count must be positive")
	}
	switch p {
	case Block:
		return newBlock(capacity, ranks)
	case Modulo:
		return &modulo{capacity: capacity, ranks: uint64(ranks)}
	}
	panic("unknown partition policy")
}

type block struct {
	capacity uint64
	ranks    int
	size     uint64
}

func newBlock(capacity uint64, ranks int) *block {
	size := capacity / uint64(ranks)
	if capacity%uint64(ranks) != 0 {
		size++
	}
	return &block{capacity: capacity, ranks: ranks, size: size}
}

func (b *block) Capacity() uint64 {
	return b.capacity
}

func (b *block) Ranks() int {
	return b.ranks
}

func (b *block) Owner(slot uint64) int {
	b.check(slot)
	return int(slot / b.size)
}

func (b *block) Offset(slot uint64) uint64 {
	b.check(slot)
	return slot % b.size
}

func (b *block) Len(rank int) uint64 {
	start := uint64(rank) * b.size
	if start >= b.capacity {
		return 0
	}
	if b.capacity-start < b.size {
		return b.capacity - start
	}
	return b.size
}

func (b *block) check(slot uint64) {
	if slot >= b.capacity {
		panic("slot out of range")
	}
}

type modulo struct {
	capacity uint64
	ranks    uint64
}

func (m *modulo) Capacity() uint64 {
	return m.capacity
}

func (m *modulo) Ranks() int {
	return int(m.ranks)
}

func (m *modulo) Owner(slot uint64) int {
	m.check(slot)
	return int(slot % m.ranks)
}

func (m *modulo) Offset(slot uint64) uint64 {
	m.check(slot)
	return slot / m.ranks
}

func (m *modulo) Len(rank int) uint64 {
	r := uint64(rank)
	if r >= m.capacity {
		return 0
	}
	return (m.capacity - r + m.ranks - 1) / m.ranks
}

func (m *modulo) check(slot uint64) {
	if slot >= m.capacity {
		panic("slot out of range")
	}
}
