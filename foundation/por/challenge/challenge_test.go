package challenge_test

import (
	"testing"

	"github.com/porchain/porchain/foundation/por/challenge"
	"github.com/stretchr/testify/assert"
)

func TestDeterminism(t *testing.T) {
	c1 := challenge.New("0xabc123")
	c2 := challenge.New("0xabc123")
	c3 := challenge.New("0xabc124")

	assert.Equal(t, c1, c2, "same proof id must derive the same challenge")
	assert.NotEqual(t, c1, c3, "different proof ids must derive different challenges")

	enc := make([]byte, 4096)
	for i := range enc {
		enc[i] = byte(i)
	}

	assert.Equal(t, c1.Tag(enc), c2.Tag(enc), "tags must be deterministic")
	assert.NotEqual(t, c1.Tag(enc), c3.Tag(enc), "tags must depend on the challenge")

	tampered := append([]byte(nil), enc...)
	tampered[0] ^= 0x01
	assert.NotEqual(t, c1.Tag(enc), c1.Tag(tampered), "tags must depend on the encoding")
}

func TestQuality(t *testing.T) {
	assert.Equal(t, uint32(64), challenge.Quality(0), "zero distance is max quality")
	assert.Equal(t, uint32(63), challenge.Quality(1))
	assert.Equal(t, uint32(0), challenge.Quality(1<<63))

	c := challenge.New("tip")
	enc := make([]byte, 4096)
	tag := c.Tag(enc)
	assert.Equal(t, uint64(0), c.Distance(tag)^c.Distance(tag), "distance is deterministic")
	assert.Equal(t, tag, c.Distance(c.Distance(tag)), "distance is an involution over tags")
}

func TestWeight(t *testing.T) {
	assert.Equal(t, uint64(1), challenge.Weight(0), "weight always counts the block itself")
	assert.Equal(t, uint64(65), challenge.Weight(64))
}

func TestRoundTripBytes(t *testing.T) {
	c := challenge.New("round-trip")
	assert.Equal(t, c, challenge.FromBytes(c.Bytes()))
	assert.Equal(t, challenge.Challenge{}, challenge.FromBytes([]byte("short")), "bad length yields the zero challenge")
}
