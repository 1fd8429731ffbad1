package ledger

import (
	"errors"
	"sync"
)

// Memory represents the serialization implementation for keeping block
// records in memory. Used by tests and ephemeral nodes. This implements the
// Serializer interface.
type Memory struct {
	mu      sync.RWMutex
	records []BlockRecord
}

// NewMemory constructs an empty in-memory serializer.
func NewMemory() *Memory {
	return &Memory{}
}

// Close in this implementation has nothing to do.
func (m *Memory) Close() error {
	return nil
}

// Write stores the specified block record in memory.
func (m *Memory) Write(record BlockRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = append(m.records, record)
	return nil
}

// ForEach returns an iterator over a snapshot of the stored records.
func (m *Memory) ForEach() Iterator {
	m.mu.RLock()
	snapshot := make([]BlockRecord, len(m.records))
	copy(snapshot, m.records)
	m.mu.RUnlock()

	return &MemoryIterator{records: snapshot}
}

// Reset clears the stored block tree.
func (m *Memory) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = nil
	return nil
}

// =============================================================================

// MemoryIterator represents the iteration implementation for walking through
// block records held in memory. This implements the Iterator interface.
type MemoryIterator struct {
	records []BlockRecord
	current int
	eoc     bool
}

// Next retrieves the next block record.
func (mi *MemoryIterator) Next() (BlockRecord, error) {
	if mi.current >= len(mi.records) {
		mi.eoc = true
		return BlockRecord{}, errors.New("end of block records")
	}

	record := mi.records[mi.current]
	mi.current++
	return record, nil
}

// Done returns the end of records value.
func (mi *MemoryIterator) Done() bool {
	return mi.eoc
}
