package hashtable

// A Key identifies a record in a Table.
type Key[K any] interface {
	// Hash gets a fingerprint of the key.
	// Equal keys must have equal hashes.
	Hash() uint64

	Equal(other K) bool
}

// A Record is a fixed-width value stored in a Table.
//
// Records are encoded into Width 64-bit words so that
// they can be written into remote memory.
// Width must not depend on the receiver, since the table
// calls it on the zero value.
type Record[K Key[K], R any] interface {
	Key() K
	Width() int
	Encode(dst []uint64)
	Decode(src []uint64) R
}
