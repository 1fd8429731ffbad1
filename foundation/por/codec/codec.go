// Package codec implements the sequential encode/decode primitive that makes
// replication provable. Encoding chains modular square-root permutations over
// a fixed 256 bit prime field across every block of a piece, so each step
// depends on the previous one and the work can't be parallelized. Decoding
// inverts each permutation with a single squaring, which is why a verifier can
// check in milliseconds what took a farmer real wall-clock time to produce.
package codec

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
)

// These sizes are protocol constants. Changing any of them changes what a
// valid encoding is and forks the network.
const (
	PieceSize      = 4096                  // Size of every piece in bytes.
	PrimeBits      = 256                   // Width of the prime field.
	FieldSize      = PrimeBits / 8         // Size of one field block in bytes.
	BlocksPerPiece = PieceSize / FieldSize // Field blocks chained per piece.
)

// ProductionLayers is the number of full passes over a piece used outside of
// tests. One pass per block keeps the sequential delay proportional to the
// piece size.
const ProductionLayers = BlocksPerPiece

// Set of error variables for codec operations.
var (
	ErrInvalidInputSize = errors.New("piece length does not match the fixed piece size")
	ErrValueOutOfField  = errors.New("field block value is not below the prime modulus")
	ErrDecodeMismatch   = errors.New("decoded piece does not reproduce the expected piece")
)

// =============================================================================

// Codec holds the derived field parameters and the configured delay. The zero
// value is not usable, construct with New.
type Codec struct {
	prime    *big.Int
	exponent *big.Int
	layers   int
}

// New constructs a codec for the protocol field. The prime is derived
// deterministically as the largest 256 bit prime congruent 3 mod 4, and the
// square-root exponent is (prime+1)/4. The layers value is the number of full
// sequential passes per piece and acts as the target-delay knob: raise it and
// every encode takes proportionally longer while decode stays a single
// squaring per block.
func New(layers int) (*Codec, error) {
	if layers < 1 {
		return nil, fmt.Errorf("layers must be at least 1, got %d", layers)
	}

	prime := new(big.Int).Lsh(big.NewInt(1), PrimeBits)
	prime.Sub(prime, big.NewInt(1))
	prevPrime(prime)
	for prime.Bit(1) == 0 {
		prevPrime(prime)
	}

	exponent := new(big.Int).Add(prime, big.NewInt(1))
	exponent.Rsh(exponent, 2)

	return &Codec{
		prime:    prime,
		exponent: exponent,
		layers:   layers,
	}, nil
}

// Layers returns the configured number of sequential passes.
func (c *Codec) Layers() int {
	return c.layers
}

// =============================================================================

// Encode sequentially encodes a piece under the specified farmer identity and
// piece index. The replica is unique to the (farmerID, index) pair: the
// expanded IV seeds the feedback chain, so no two farmers and no two indices
// share an encoding. The returned slice is a new allocation, the input piece
// is not modified.
func (c *Codec) Encode(piece []byte, farmerID []byte, index uint64) ([]byte, error) {
	if len(piece) != PieceSize {
		return nil, fmt.Errorf("encode: len %d: %w", len(piece), ErrInvalidInputSize)
	}

	blocks := bytesToBlocks(piece)
	feedback := expandIV(farmerID, index)

	// Apply the block cipher. Each block is folded into the running feedback
	// and pushed through the square-root permutation, layer by layer.
	for layer := 0; layer < c.layers; layer++ {
		for i := range blocks {
			blocks[i].Xor(blocks[i], feedback)
			if err := c.sqrtPermutation(blocks[i]); err != nil {
				return nil, fmt.Errorf("encode: block %d: %w", i, err)
			}
			feedback = blocks[i]
		}
	}

	return blocksToBytes(blocks), nil
}

// Decode inverts Encode in time a small constant multiple of a single pass,
// regardless of how many layers the encoder was configured with. The returned
// slice is a new allocation, the input encoding is not modified.
func (c *Codec) Decode(encoding []byte, farmerID []byte, index uint64) ([]byte, error) {
	if len(encoding) != PieceSize {
		return nil, fmt.Errorf("decode: len %d: %w", len(encoding), ErrInvalidInputSize)
	}

	blocks := bytesToBlocks(encoding)

	// Undo the layers back to front. For the first block of every layer the
	// feedback is the last block as it stood at the end of the previous
	// layer, which at that point in the walk is exactly what blocks holds.
	for layer := 0; layer < c.layers; layer++ {
		for i := BlocksPerPiece - 1; i >= 0; i-- {
			c.inverseSqrt(blocks[i])
			switch {
			case i > 0:
				blocks[i].Xor(blocks[i], blocks[i-1])
			case layer != c.layers-1:
				blocks[0].Xor(blocks[0], blocks[BlocksPerPiece-1])
			}
		}
	}

	// The innermost feedback is the expanded IV itself.
	blocks[0].Xor(blocks[0], expandIV(farmerID, index))

	return blocksToBytes(blocks), nil
}

// Verify decodes the specified encoding and checks the result against the
// expected piece. This is the fast public check a verifier runs instead of
// re-encoding: a forged or corrupted encoding fails with ErrDecodeMismatch.
func (c *Codec) Verify(encoding []byte, piece []byte, farmerID []byte, index uint64) error {
	if len(piece) != PieceSize {
		return fmt.Errorf("verify: len %d: %w", len(piece), ErrInvalidInputSize)
	}

	decoded, err := c.Decode(encoding, farmerID, index)
	if err != nil {
		return err
	}

	for i := range decoded {
		if decoded[i] != piece[i] {
			return fmt.Errorf("verify: farmer %x index %d: %w", farmerID[:min(len(farmerID), 8)], index, ErrDecodeMismatch)
		}
	}

	return nil
}

// =============================================================================

// sqrtPermutation replaces x with its canonical modular square root. The two
// Jacobi branches keep the map a permutation over the field: quadratic
// residues map through the even root, non-residues through the odd root of
// the negation.
func (c *Codec) sqrtPermutation(x *big.Int) error {
	if x.Cmp(c.prime) >= 0 {
		return ErrValueOutOfField
	}
	if x.Sign() == 0 {
		return nil
	}

	if big.Jacobi(x, c.prime) == 1 {
		x.Exp(x, c.exponent, c.prime)
		if x.Bit(0) == 1 {
			x.Sub(c.prime, x)
		}
		return nil
	}

	x.Sub(c.prime, x)
	x.Exp(x, c.exponent, c.prime)
	if x.Bit(0) == 0 {
		x.Sub(c.prime, x)
	}
	return nil
}

// inverseSqrt undoes sqrtPermutation with a single squaring.
func (c *Codec) inverseSqrt(x *big.Int) {
	odd := x.Bit(0) == 1
	x.Mul(x, x)
	x.Mod(x, c.prime)
	if odd && x.Sign() != 0 {
		x.Sub(c.prime, x)
	}
}

// prevPrime steps the specified value down to the next smaller prime.
func prevPrime(p *big.Int) {
	two := big.NewInt(2)
	if p.Bit(0) == 0 {
		p.Sub(p, big.NewInt(1))
	} else {
		p.Sub(p, two)
	}
	for !p.ProbablyPrime(25) {
		p.Sub(p, two)
	}
}

// =============================================================================

// expandIV derives the feedback seed for a (farmer, index) pair. The hash
// binds the replica to both values so an encoding can't be claimed for a
// different index or farmer without redoing the sequential work.
func expandIV(farmerID []byte, index uint64) *big.Int {
	var idx [8]byte
	binary.LittleEndian.PutUint64(idx[:], index)

	h := sha256.New()
	h.Write(farmerID)
	h.Write(idx[:])

	return fieldFromBytes(h.Sum(nil))
}

// bytesToBlocks splits a piece into its field block integer representation.
func bytesToBlocks(piece []byte) []*big.Int {
	blocks := make([]*big.Int, BlocksPerPiece)
	for i := range blocks {
		blocks[i] = fieldFromBytes(piece[i*FieldSize : (i+1)*FieldSize])
	}
	return blocks
}

// blocksToBytes serializes field blocks back into piece bytes, zero padding
// each block to the fixed field size.
func blocksToBytes(blocks []*big.Int) []byte {
	piece := make([]byte, PieceSize)
	var buf [FieldSize]byte
	for i, block := range blocks {
		block.FillBytes(buf[:])
		reverseInto(piece[i*FieldSize:(i+1)*FieldSize], buf[:])
	}
	return piece
}

// fieldFromBytes interprets bytes as a little endian field value. Wire and
// disk formats are little endian, math/big is big endian internally.
func fieldFromBytes(b []byte) *big.Int {
	var buf [FieldSize]byte
	reverseInto(buf[:], b)
	return new(big.Int).SetBytes(buf[:])
}

func reverseInto(dst, src []byte) {
	n := len(src)
	for i := 0; i < n; i++ {
		dst[i] = src[n-1-i]
	}
}
