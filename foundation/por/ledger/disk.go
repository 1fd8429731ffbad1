package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Disk represents the serialization implementation for storing block records
// in their own separate files on disk, named by block id. This implements
// the Serializer interface.
type Disk struct {
	dbPath string
}

// NewDisk constructs a Disk value for use.
func NewDisk(dbPath string) (*Disk, error) {
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, err
	}

	return &Disk{dbPath: dbPath}, nil
}

// Close in this implementation has nothing to do since a new file is written
// to disk for each block and then immediately closed.
func (d *Disk) Close() error {
	return nil
}

// Write stores the specified block record on disk in a file labeled with the
// block id.
func (d *Disk) Write(record BlockRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}

	f, err := os.OpenFile(d.getPath(record.Block.ID()), os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return err
	}

	return nil
}

// ForEach returns an iterator to walk through all the stored block records.
func (d *Disk) ForEach() Iterator {
	names, err := os.ReadDir(d.dbPath)
	if err != nil {
		return &DiskIterator{eoc: true}
	}

	var files []string
	for _, entry := range names {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			files = append(files, filepath.Join(d.dbPath, entry.Name()))
		}
	}

	return &DiskIterator{files: files}
}

// Reset clears the stored block tree from disk.
func (d *Disk) Reset() error {
	if err := os.RemoveAll(d.dbPath); err != nil {
		return err
	}
	return os.MkdirAll(d.dbPath, 0755)
}

// getPath forms the path to the specified block record. The 0x prefix is
// dropped from the file name.
func (d *Disk) getPath(blockID string) string {
	return filepath.Join(d.dbPath, fmt.Sprintf("%s.json", strings.TrimPrefix(blockID, "0x")))
}

// =============================================================================

// DiskIterator represents the iteration implementation for walking through
// the block records on disk. This implements the Iterator interface.
type DiskIterator struct {
	files   []string
	current int
	eoc     bool
}

// Next retrieves the next block record from disk.
func (di *DiskIterator) Next() (BlockRecord, error) {
	if di.eoc {
		return BlockRecord{}, errors.New("end of block records")
	}

	if di.current >= len(di.files) {
		di.eoc = true
		return BlockRecord{}, errors.New("end of block records")
	}

	f, err := os.Open(di.files[di.current])
	if err != nil {
		return BlockRecord{}, err
	}
	defer f.Close()
	di.current++

	var record BlockRecord
	if err := json.NewDecoder(f).Decode(&record); err != nil {
		return BlockRecord{}, err
	}

	return record, nil
}

// Done returns the end of records value.
func (di *DiskIterator) Done() bool {
	return di.eoc
}
