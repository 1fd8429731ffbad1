// Package challenge fixes the per-round audit values and the closeness
// function that ranks proofs. Every value in here is a protocol constant:
// all nodes must compute challenges, tags, distances and qualities
// byte-for-byte identically or the network forks.
package challenge

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"math/bits"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Size is the byte length of a challenge.
const Size = sha256.Size

// MaxQuality is the best possible quality, a distance of zero.
const MaxQuality = 64

// Challenge is the per-round value every farmer audits its plot against.
type Challenge [Size]byte

// New derives the challenge for the round that follows the block with the
// specified proof id. The proof id is hashed rather than used directly so a
// block producer can't grind the proof encoding for influence over the next
// round.
func New(proofID string) Challenge {
	return Challenge(sha256.Sum256([]byte(proofID)))
}

// FromBytes builds a challenge from wire bytes. Short or long input yields
// the zero challenge, callers validate length upstream.
func FromBytes(b []byte) Challenge {
	var c Challenge
	if len(b) == Size {
		copy(c[:], b)
	}
	return c
}

// String returns the hex form used on the wire and in logs.
func (c Challenge) String() string {
	return hexutil.Encode(c[:])
}

// Bytes returns a copy of the raw challenge bytes.
func (c Challenge) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, c[:])
	return b
}

// prefix is the 64 bit window of the challenge the distance is measured in.
func (c Challenge) prefix() uint64 {
	return binary.BigEndian.Uint64(c[:8])
}

// =============================================================================

// Tag commits an encoded piece to this challenge. The encoding keys the HMAC
// so the tag can't be computed without holding the full replica.
func (c Challenge) Tag(encoding []byte) uint64 {
	mac := hmac.New(sha256.New, encoding)
	mac.Write(c[:])
	return binary.BigEndian.Uint64(mac.Sum(nil)[:8])
}

// Distance measures how close a tag sits to this challenge. Smaller is
// better and zero is a perfect hit.
func (c Challenge) Distance(tag uint64) uint64 {
	return tag ^ c.prefix()
}

// Quality converts a distance into the scalar the difficulty target is
// compared against: the number of leading zero bits, 0 through MaxQuality.
// Each additional point of quality is twice as rare.
func Quality(distance uint64) uint32 {
	return uint32(bits.LeadingZeros64(distance))
}

// Weight is the fork-choice weight contributed by a block carrying a proof of
// the specified quality. The constant term makes longer chains outweigh
// shorter ones before proof rarity breaks ties between equal lengths.
func Weight(quality uint32) uint64 {
	return 1 + uint64(quality)
}
