// Package piece maintains the append-only piece set every node derives from
// confirmed chain history. All nodes hold the same pieces at the same height,
// which is what lets any node verify any farmer's proof: the piece a proof
// claims to replicate can always be looked up locally.
package piece

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
)

// Size is the fixed byte length of every piece.
const Size = 4096

// Set of error variables for piece set operations.
var (
	ErrMalformedPieceSet = errors.New("piece does not match the fixed piece size")
	ErrNotFound          = errors.New("piece index is beyond the current piece set")
)

// Reader is the read-only view handed to the plotter and the evaluation
// loop. Len is the explicit current-length boundary: indices below it are
// immutable, indices at or above it do not exist yet.
type Reader interface {
	At(index uint64) ([]byte, error)
	Len() uint64
}

// =============================================================================

// Set is the ordered, append-only sequence of pieces. Pieces are never
// mutated or reordered once appended.
type Set struct {
	mu     sync.RWMutex
	pieces [][]byte
}

// NewSet constructs an empty piece set.
func NewSet() *Set {
	return &Set{}
}

// Append adds the next piece to the set and returns its index. Any size
// deviation is rejected, the provider contract is strict.
func (s *Set) Append(p []byte) (uint64, error) {
	if len(p) != Size {
		return 0, fmt.Errorf("append: len %d: %w", len(p), ErrMalformedPieceSet)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]byte, Size)
	copy(cp, p)
	s.pieces = append(s.pieces, cp)

	return uint64(len(s.pieces) - 1), nil
}

// At returns a copy of the piece at the specified index.
func (s *Set) At(index uint64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if index >= uint64(len(s.pieces)) {
		return nil, fmt.Errorf("at: index %d len %d: %w", index, len(s.pieces), ErrNotFound)
	}

	cp := make([]byte, Size)
	copy(cp, s.pieces[index])
	return cp, nil
}

// Len returns the current length boundary of the set.
func (s *Set) Len() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return uint64(len(s.pieces))
}

// =============================================================================

// Expand stretches a short seed into a full piece with a counter-mode hash
// stream. Used to derive the genesis piece from the genesis document and a
// new piece from every confirmed block id.
func Expand(seed []byte) []byte {
	piece := make([]byte, 0, Size)

	var counter [8]byte
	for block := 0; len(piece) < Size; block++ {
		counter[0] = byte(block)
		counter[1] = byte(block >> 8)
		counter[2] = byte(block >> 16)
		counter[3] = byte(block >> 24)

		h := sha256.New()
		h.Write(seed)
		h.Write(counter[:])
		piece = h.Sum(piece)
	}

	return piece[:Size]
}

// FromBlockID derives the piece appended to the set when the block with the
// specified id is confirmed.
func FromBlockID(blockID string) []byte {
	return Expand([]byte(blockID))
}
