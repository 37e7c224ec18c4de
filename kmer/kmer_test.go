package kmer

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	for _, s := range []string{"", "A", "ACGT", "TTTTGGGGCCCCAAAA", "ACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGT"} {
		k, err := Parse(s)
		require.NoError(t, err)
		assert.Equal(t, len(s), k.Len())
		assert.Equal(t, s, k.String())
	}

	_, err := Parse("ACGN")
	assert.Error(t, err)
	_, err = Parse(Random(nil, MaxLen).String() + "A")
	assert.Error(t, err)
}

func TestBase(t *testing.T) {
	k := MustParse("GATTACA")
	assert.EqualValues(t, 'G', k.Base(0))
	assert.EqualValues(t, 'T', k.Base(3))
	assert.EqualValues(t, 'A', k.Base(6))
	assert.Panics(t, func() {
		k.Base(7)
	})
}

func TestReverseComplement(t *testing.T) {
	assert.Equal(t, "TGTAATC", MustParse("GATTACA").ReverseComplement().String())

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		k := Random(rng, rng.Intn(MaxLen+1))
		assert.True(t, k.Equal(k.ReverseComplement().ReverseComplement()))
	}
}

func TestCanonical(t *testing.T) {
	k := MustParse("TTGCA")
	assert.Equal(t, "TGCAA", k.Canonical().String())
	assert.True(t, k.Canonical().Equal(k.ReverseComplement().Canonical()))
	assert.Equal(t, "AAC", MustParse("AAC").Canonical().String())
}

func TestLess(t *testing.T) {
	assert.True(t, MustParse("AC").Less(MustParse("AG")))
	assert.True(t, MustParse("AC").Less(MustParse("ACA")))
	assert.False(t, MustParse("T").Less(MustParse("GT")))
	assert.False(t, MustParse("ACG").Less(MustParse("ACG")))
}

func TestHash(t *testing.T) {
	assert.Equal(t, MustParse("ACGT").Hash(), MustParse("ACGT").Hash())
	assert.NotEqual(t, MustParse("ACGT").Hash(), MustParse("ACGG").Hash())

	// Trailing A bases pack to zero bits, so the length must
	// be part of the fingerprint.
	assert.NotEqual(t, MustParse("AC").Hash(), MustParse("ACA").Hash())
}

func TestPair(t *testing.T) {
	p, err := ParsePair("GATTACA FC")
	require.NoError(t, err)
	assert.Equal(t, "GATTACA", p.Kmer.String())
	assert.EqualValues(t, NoExtension, p.Backward)
	assert.EqualValues(t, 'C', p.Forward)
	assert.Equal(t, "GATTACA FC", p.String())

	words := make([]uint64, p.Width())
	p.Encode(words)
	assert.Equal(t, p, Pair{}.Decode(words))

	for _, bad := range []string{"GATTACA", "GATTACA FX", "GATTACA F", "GATXACA AA"} {
		_, err := ParsePair(bad)
		assert.Error(t, err, bad)
	}
}
