package ledger

// BlockRecord is the persisted form of a block plus the values the arena
// needs to rebuild itself without re-running full validation on startup.
type BlockRecord struct {
	Block   Block  `json:"block"`
	Quality uint32 `json:"quality"`
	Weight  uint64 `json:"weight"` // Cumulative weight up to and including this block.
}

// Serializer interface represents the behavior required to be implemented by
// any package providing support for storing and reading the block tree.
type Serializer interface {
	Write(record BlockRecord) error
	ForEach() Iterator
	Close() error
	Reset() error
}

// Iterator interface represents the behavior required to be implemented by
// any package providing support to iterate over stored block records. No
// ordering is guaranteed, the ledger re-links records by height.
type Iterator interface {
	Next() (BlockRecord, error)
	Done() bool
}
