// Package plot manages the on-disk structure a farmer's encoded pieces live
// in. The plotter is the only writer, the evaluation loop is a concurrent
// reader, and every stored entry carries an integrity checksum that is
// verified on read so a proof is never built from silently corrupted data.
package plot

import (
	"errors"
)

// Set of error variables for plot store operations.
var (
	ErrNotFound     = errors.New("no encoding stored for the piece index")
	ErrCorruptEntry = errors.New("stored encoding failed its integrity check")
)

// Storage interface represents the behavior required to be implemented by
// any package providing durable storage for encoded pieces.
type Storage interface {
	Put(index uint64, encoding []byte) error
	Get(index uint64) ([]byte, error)
	Has(index uint64) bool
	Completed() []uint64
	Count() uint64
	Close() error
}

// CompletedRange returns the bounds of the completed span of the specified
// store. ok is false when nothing has been plotted yet. The span may contain
// holes for indices whose plotting failed, Has reports per-index truth.
func CompletedRange(storage Storage) (first uint64, last uint64, ok bool) {
	completed := storage.Completed()
	if len(completed) == 0 {
		return 0, 0, false
	}
	return completed[0], completed[len(completed)-1], true
}
