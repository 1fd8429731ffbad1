package plot

import (
	"fmt"
	"sort"
	"sync"

	"github.com/porchain/porchain/foundation/por/piece"
)

// Memory represents the plot implementation for keeping encoded pieces in
// memory. Used by tests and ephemeral nodes. This implements the Storage
// interface.
type Memory struct {
	mu      sync.RWMutex
	entries map[uint64][]byte
}

// NewMemory constructs an empty in-memory plot.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[uint64][]byte),
	}
}

// Close in this implementation has nothing to do.
func (m *Memory) Close() error {
	return nil
}

// Put stores a copy of the encoding for the specified piece index.
func (m *Memory) Put(index uint64, encoding []byte) error {
	if len(encoding) != piece.Size {
		return fmt.Errorf("put: index %d: encoding len %d: %w", index, len(encoding), piece.ErrMalformedPieceSet)
	}

	cp := make([]byte, len(encoding))
	copy(cp, encoding)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[index] = cp
	return nil
}

// Get returns the encoding stored for the specified piece index.
func (m *Memory) Get(index uint64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	encoding, exists := m.entries[index]
	if !exists {
		return nil, fmt.Errorf("get: index %d: %w", index, ErrNotFound)
	}

	cp := make([]byte, len(encoding))
	copy(cp, encoding)
	return cp, nil
}

// Has reports whether an encoding exists for the specified index.
func (m *Memory) Has(index uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.entries[index]
	return exists
}

// Completed returns the sorted list of completed piece indices.
func (m *Memory) Completed() []uint64 {
	m.mu.RLock()
	indices := make([]uint64, 0, len(m.entries))
	for index := range m.entries {
		indices = append(indices, index)
	}
	m.mu.RUnlock()

	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	return indices
}

// Count returns the number of completed entries.
func (m *Memory) Count() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return uint64(len(m.entries))
}
