package partition

import (
	"testing"
)

// TestPartitioner runs a battery of tests on a
// Partitioner.
func TestPartitioner(t *testing.T, maker func() Partitioner) {
	t.Run("Deterministic", func(t *testing.T) {
		TestDeterministic(t, maker(), maker())
	})
	t.Run("Bijective", func(t *testing.T) {
		TestBijective(t, maker())
	})
}

// TestDeterministic checks that two independently created
// Partitioners agree about every slot.
func TestDeterministic(t *testing.T, p1, p2 Partitioner) {
	for slot := uint64(0); slot < p1.Capacity(); slot++ {
		if p1.Owner(slot) != p2.Owner(slot) || p1.Offset(slot) != p2.Offset(slot) {
			t.Fatalf("slot %d: (%d, %d) vs (%d, %d)", slot, p1.Owner(slot), p1.Offset(slot),
				p2.Owner(slot), p2.Offset(slot))
		}
	}
}

// TestBijective checks that every slot maps to a distinct
// (owner, offset) pair inside its owner's partition, and
// that the partitions add up to the capacity.
func TestBijective(t *testing.T, p Partitioner) {
	seen := map[[2]uint64]uint64{}
	counts := make([]uint64, p.Ranks())
	for slot := uint64(0); slot < p.Capacity(); slot++ {
		owner, offset := p.Owner(slot), p.Offset(slot)
		if owner < 0 || owner >= p.Ranks() {
			t.Fatalf("slot %d: owner %d out of range", slot, owner)
		}
		if offset >= p.Len(owner) {
			t.Fatalf("slot %d: offset %d beyond partition length %d", slot, offset, p.Len(owner))
		}
		key := [2]uint64{uint64(owner), offset}
		if other, ok := seen[key]; ok {
			t.Fatalf("slots %d and %d share location %v", other, slot, key)
		}
		seen[key] = slot
		counts[owner]++
	}
	var total uint64
	for rank, count := range counts {
		if count != p.Len(rank) {
			t.Errorf("rank %d: owns %d slots but Len is %d", rank, count, p.Len(rank))
		}
		total += p.Len(rank)
	}
	if total != p.Capacity() {
		t.Errorf("partitions add up to %d, not %d", total, p.Capacity())
	}
}
