package hashtable

import "github.com/unixpickle/dist-hashmap/fabric"

// landed is written after a record's payload, so a reader
// that sees it also sees the whole payload.
const landed = 1

// A SlotStore holds the slots that one rank owns.
//
// It keeps one word per slot that counts claims, and one
// block of Width()+1 words per slot that holds an encoded
// record followed by a landed marker.
// Both live in fabric Segments, so other ranks can reach
// them with one-sided operations.
type SlotStore[K Key[K], R Record[K, R]] struct {
	used    *fabric.Segment
	records *fabric.Segment
	width   int
	length  uint64
}

// NewSlotStore allocates an empty store with length slots.
func NewSlotStore[K Key[K], R Record[K, R]](length uint64) *SlotStore[K, R] {
	var zero R
	width := zero.Width()
	if width <= 0 {
		panic("record width must be positive")
	}
	return &SlotStore[K, R]{
		used:    fabric.NewSegment(int(length)),
		records: fabric.NewSegment(int(length) * (width + 1)),
		width:   width,
		length:  length,
	}
}

// Len gets the number of slots.
func (s *SlotStore[K, R]) Len() uint64 {
	return s.length
}

// Stride gets the number of words in one record block.
func (s *SlotStore[K, R]) Stride() int {
	return s.width + 1
}

// TryClaim increments the slot's claim counter and
// reports whether this was the first claim.
func (s *SlotStore[K, R]) TryClaim(offset uint64) bool {
	s.check(offset)
	return s.used.FetchAdd(int(offset), 1) == 0
}

// IsUsed checks if the slot has been claimed.
func (s *SlotStore[K, R]) IsUsed(offset uint64) bool {
	s.check(offset)
	return s.used.Load(int(offset)) != 0
}

// Write stores a record in a slot.
// A slot can only be written once.
func (s *SlotStore[K, R]) Write(offset uint64, record R) {
	s.check(offset)
	start := int(offset) * s.Stride()
	if s.records.Load(start+s.width) == landed {
		panic("slot written twice")
	}
	s.records.Put(start, s.encode(record))
}

// Read gets the record in a slot, if one has landed.
func (s *SlotStore[K, R]) Read(offset uint64) (R, bool) {
	s.check(offset)
	block := make([]uint64, s.Stride())
	s.records.Get(int(offset)*s.Stride(), block)
	return s.decode(block)
}

// Used counts the claimed slots.
func (s *SlotStore[K, R]) Used() uint64 {
	var res uint64
	for i := 0; i < int(s.length); i++ {
		if s.used.Load(i) != 0 {
			res++
		}
	}
	return res
}

// Each calls f with every landed record, in slot order,
// until f returns false.
func (s *SlotStore[K, R]) Each(f func(offset uint64, record R) bool) {
	for i := uint64(0); i < s.length; i++ {
		if record, ok := s.Read(i); ok {
			if !f(i, record) {
				return
			}
		}
	}
}

func (s *SlotStore[K, R]) encode(record R) []uint64 {
	block := make([]uint64, s.Stride())
	record.Encode(block[:s.width])
	block[s.width] = landed
	return block
}

func (s *SlotStore[K, R]) decode(block []uint64) (R, bool) {
	var zero R
	if block[s.width] != landed {
		return zero, false
	}
	return zero.Decode(block[:s.width]), true
}

func (s *SlotStore[K, R]) check(offset uint64) {
	if offset >= s.length {
		panic("offset out of range")
	}
}
