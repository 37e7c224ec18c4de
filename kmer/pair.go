package kmer

import (
	"strings"

	"github.com/pkg/errors"
)

// NoExtension marks a k-mer end with no neighboring base.
const NoExtension = 'F'

// A Pair is a k-mer together with the bases that extend
// it backward and forward in the read it came from.
type Pair struct {
	Kmer     Kmer
	Backward byte
	Forward  byte
}

// ParsePair parses a line of the form "ACGT... BF", where
// B and F are the backward and forward extensions.
func ParsePair(line string) (Pair, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return Pair{}, errors.Errorf("expected 2 fields but got %d", len(fields))
	}
	k, err := Parse(fields[0])
	if err != nil {
		return Pair{}, errors.Wrap(err, "parse k-mer")
	}
	if len(fields[1]) != 2 {
		return Pair{}, errors.Errorf("invalid extensions: %q", fields[1])
	}
	p := Pair{Kmer: k, Backward: fields[1][0], Forward: fields[1][1]}
	for _, ext := range []byte{p.Backward, p.Forward} {
		if !validExtension(ext) {
			return Pair{}, errors.Errorf("invalid extension %q", ext)
		}
	}
	return p, nil
}

// String formats the pair the way ParsePair reads it.
func (p Pair) String() string {
	return p.Kmer.String() + " " + string([]byte{p.Backward, p.Forward})
}

// Key gets the k-mer.
func (p Pair) Key() Kmer {
	return p.Kmer
}

// Width gets the number of words in an encoded Pair.
func (p Pair) Width() int {
	return 3
}

// Encode writes the pair into dst, which must have Width
// words.
func (p Pair) Encode(dst []uint64) {
	dst[0] = p.Kmer.words[0]
	dst[1] = p.Kmer.words[1]
	dst[2] = uint64(p.Kmer.n) | uint64(p.Backward)<<8 | uint64(p.Forward)<<16
}

// Decode reads a pair written by Encode.
func (p Pair) Decode(src []uint64) Pair {
	var res Pair
	res.Kmer.words[0] = src[0]
	res.Kmer.words[1] = src[1]
	res.Kmer.n = uint8(src[2])
	res.Backward = byte(src[2] >> 8)
	res.Forward = byte(src[2] >> 16)
	return res
}

func validExtension(b byte) bool {
	return b == NoExtension || strings.IndexByte(bases, b) >= 0
}
