// Package kmer implements fixed-length DNA substrings and
// the extension records that a de Bruijn graph assembler
// stores for them.
package kmer

import (
	"encoding/binary"
	"math/rand"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// MaxLen is the longest supported k-mer.
const MaxLen = 64

const bases = "ACGT"

// A Kmer is a sequence of up to MaxLen bases, packed two
// bits per base.
//
// The zero Kmer is empty.
type Kmer struct {
	words [2]uint64
	n     uint8
}

// Parse creates a Kmer from a string of bases.
func Parse(s string) (Kmer, error) {
	var k Kmer
	if len(s) > MaxLen {
		return k, errors.Errorf("k-mer has %d bases, max is %d", len(s), MaxLen)
	}
	for i := 0; i < len(s); i++ {
		code := strings.IndexByte(bases, s[i])
		if code < 0 {
			return Kmer{}, errors.Errorf("invalid base %q at index %d", s[i], i)
		}
		k.set(i, uint64(code))
	}
	k.n = uint8(len(s))
	return k, nil
}

// MustParse is like Parse, but panics on error.
func MustParse(s string) Kmer {
	k, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return k
}

// Random creates a uniformly random Kmer of length n.
//
// If rng is nil, the global source is used.
func Random(rng *rand.Rand, n int) Kmer {
	if n < 0 || n > MaxLen {
		panic("invalid k-mer length")
	}
	k := Kmer{n: uint8(n)}
	for i := 0; i < n; i++ {
		var code int
		if rng == nil {
			code = rand.Intn(4)
		} else {
			code = rng.Intn(4)
		}
		k.set(i, uint64(code))
	}
	return k
}

// Len gets the number of bases.
func (k Kmer) Len() int {
	return int(k.n)
}

// Base gets the base at index i as one of 'A', 'C', 'G',
// or 'T'.
func (k Kmer) Base(i int) byte {
	if i < 0 || i >= int(k.n) {
		panic("index out of bounds")
	}
	return bases[k.code(i)]
}

// String gets the bases as a string.
func (k Kmer) String() string {
	res := make([]byte, k.n)
	for i := range res {
		res[i] = bases[k.code(i)]
	}
	return string(res)
}

// ReverseComplement gets the k-mer read off the opposite
// strand.
func (k Kmer) ReverseComplement() Kmer {
	res := Kmer{n: k.n}
	for i := 0; i < int(k.n); i++ {
		res.set(int(k.n)-(i+1), 3-k.code(i))
	}
	return res
}

// Canonical gets the lesser of k and its reverse
// complement, so that both strands map to the same key.
func (k Kmer) Canonical() Kmer {
	rc := k.ReverseComplement()
	if rc.Less(k) {
		return rc
	}
	return k
}

// Less compares k-mers lexicographically.
func (k Kmer) Less(other Kmer) bool {
	n := k.Len()
	if other.Len() < n {
		n = other.Len()
	}
	for i := 0; i < n; i++ {
		if a, b := k.code(i), other.code(i); a != b {
			return a < b
		}
	}
	return k.Len() < other.Len()
}

// Equal checks if two k-mers have the same bases.
func (k Kmer) Equal(other Kmer) bool {
	return k == other
}

// Hash gets a 64-bit fingerprint of the k-mer.
func (k Kmer) Hash() uint64 {
	var buf [17]byte
	binary.LittleEndian.PutUint64(buf[:8], k.words[0])
	binary.LittleEndian.PutUint64(buf[8:16], k.words[1])
	buf[16] = k.n
	return xxhash.Sum64(buf[:])
}

func (k Kmer) code(i int) uint64 {
	return (k.words[i/32] >> uint(2*(i%32))) & 3
}

func (k *Kmer) set(i int, code uint64) {
	shift := uint(2 * (i % 32))
	k.words[i/32] = (k.words[i/32] &^ (3 << shift)) | (code << shift)
}
