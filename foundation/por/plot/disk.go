package plot

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/porchain/porchain/foundation/por/piece"
)

// Fixed slot layout inside the plot file. Each piece index owns the slot at
// offset index*recordSize, which keeps Get a single positioned read.
const (
	flagSize     = 1
	checksumSize = sha256.Size
	recordSize   = flagSize + checksumSize + piece.Size

	flagEmpty    = 0x00
	flagComplete = 0x01
)

// Disk represents the plot implementation for storing encoded pieces in a
// single fixed-slot file on disk. This implements the Storage interface.
// Reads and writes go through ReadAt/WriteAt so concurrent readers never
// block on the writer for other indices.
type Disk struct {
	path string
	file *os.File

	mu        sync.RWMutex
	completed map[uint64]struct{}
}

// NewDisk opens or creates the plot file at the specified path and rebuilds
// the completion state from the slot flags, which is what makes an
// interrupted plotting run resumable.
func NewDisk(path string) (*Disk, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create plot directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open plot file: %w", err)
	}

	d := Disk{
		path:      path,
		file:      file,
		completed: make(map[uint64]struct{}),
	}

	if err := d.rebuildCompletion(); err != nil {
		file.Close()
		return nil, err
	}

	return &d, nil
}

// Close releases the underlying plot file.
func (d *Disk) Close() error {
	return d.file.Close()
}

// Path returns the location of the plot file.
func (d *Disk) Path() string {
	return d.path
}

// Put stores the encoding for the specified piece index together with its
// integrity checksum and marks the slot complete.
func (d *Disk) Put(index uint64, encoding []byte) error {
	if len(encoding) != piece.Size {
		return fmt.Errorf("put: index %d: encoding len %d: %w", index, len(encoding), piece.ErrMalformedPieceSet)
	}

	record := make([]byte, recordSize)
	record[0] = flagComplete
	sum := entryChecksum(index, encoding)
	copy(record[flagSize:], sum[:])
	copy(record[flagSize+checksumSize:], encoding)

	if _, err := d.file.WriteAt(record, int64(index)*recordSize); err != nil {
		return fmt.Errorf("put: index %d: %w", index, err)
	}

	d.mu.Lock()
	d.completed[index] = struct{}{}
	d.mu.Unlock()

	return nil
}

// Get returns the encoding stored for the specified piece index, verifying
// the checksum recorded at write time.
func (d *Disk) Get(index uint64) ([]byte, error) {
	if !d.Has(index) {
		return nil, fmt.Errorf("get: index %d: %w", index, ErrNotFound)
	}

	record := make([]byte, recordSize)
	if _, err := d.file.ReadAt(record, int64(index)*recordSize); err != nil {
		return nil, fmt.Errorf("get: index %d: %w", index, err)
	}

	if record[0] != flagComplete {
		return nil, fmt.Errorf("get: index %d: %w", index, ErrNotFound)
	}

	encoding := record[flagSize+checksumSize:]
	sum := entryChecksum(index, encoding)
	for i := range sum {
		if record[flagSize+i] != sum[i] {
			return nil, fmt.Errorf("get: index %d: %w", index, ErrCorruptEntry)
		}
	}

	return encoding, nil
}

// Has reports whether a completed encoding exists for the specified index.
func (d *Disk) Has(index uint64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, exists := d.completed[index]
	return exists
}

// Completed returns the sorted list of completed piece indices.
func (d *Disk) Completed() []uint64 {
	d.mu.RLock()
	indices := make([]uint64, 0, len(d.completed))
	for index := range d.completed {
		indices = append(indices, index)
	}
	d.mu.RUnlock()

	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	return indices
}

// Count returns the number of completed entries.
func (d *Disk) Count() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return uint64(len(d.completed))
}

// =============================================================================

// rebuildCompletion walks the slot flags of an existing plot file.
func (d *Disk) rebuildCompletion() error {
	info, err := d.file.Stat()
	if err != nil {
		return fmt.Errorf("stat plot file: %w", err)
	}

	slots := uint64(info.Size()) / recordSize
	flag := make([]byte, flagSize)

	for index := uint64(0); index < slots; index++ {
		if _, err := d.file.ReadAt(flag, int64(index)*recordSize); err != nil {
			return fmt.Errorf("scan slot %d: %w", index, err)
		}
		if flag[0] == flagComplete {
			d.completed[index] = struct{}{}
		}
	}

	return nil
}

// entryChecksum binds the encoding to its slot so a record that lands in the
// wrong slot fails verification just like a flipped bit does.
func entryChecksum(index uint64, encoding []byte) [checksumSize]byte {
	var idx [8]byte
	binary.LittleEndian.PutUint64(idx[:], index)

	h := sha256.New()
	h.Write(idx[:])
	h.Write(encoding)

	var sum [checksumSize]byte
	copy(sum[:], h.Sum(nil))
	return sum
}
