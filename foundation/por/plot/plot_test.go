package plot_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/porchain/porchain/foundation/por/piece"
	"github.com/porchain/porchain/foundation/por/plot"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func testEncoding(seed byte) []byte {
	enc := make([]byte, piece.Size)
	for i := range enc {
		enc[i] = seed + byte(i)
	}
	return enc
}

func Test_DiskPutGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plots", "farmer.plot")

	disk, err := plot.NewDisk(path)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to open a new plot: %v", failed, err)
	}
	defer disk.Close()

	enc5 := testEncoding(5)
	if err := disk.Put(5, enc5); err != nil {
		t.Fatalf("\t%s\tShould be able to put an encoding: %v", failed, err)
	}
	if err := disk.Put(2, testEncoding(2)); err != nil {
		t.Fatalf("\t%s\tShould be able to put a second encoding: %v", failed, err)
	}
	t.Logf("\t%s\tShould be able to put encodings.", success)

	got, err := disk.Get(5)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to get an encoding back: %v", failed, err)
	}
	if !bytes.Equal(got, enc5) {
		t.Errorf("\t%s\tShould get back the exact bytes that were put.", failed)
	} else {
		t.Logf("\t%s\tShould get back the exact bytes that were put.", success)
	}

	if _, err := disk.Get(7); !errors.Is(err, plot.ErrNotFound) {
		t.Errorf("\t%s\tShould miss with ErrNotFound for an unplotted index: %v", failed, err)
	} else {
		t.Logf("\t%s\tShould miss with ErrNotFound for an unplotted index.", success)
	}

	if !disk.Has(2) || disk.Has(3) {
		t.Errorf("\t%s\tShould track per index completion.", failed)
	}

	completed := disk.Completed()
	if len(completed) != 2 || completed[0] != 2 || completed[1] != 5 {
		t.Errorf("\t%s\tShould list completed indices in order: %v", failed, completed)
	} else {
		t.Logf("\t%s\tShould list completed indices in order.", success)
	}

	first, last, ok := plot.CompletedRange(disk)
	if !ok || first != 2 || last != 5 {
		t.Errorf("\t%s\tShould report the completed range: [%d %d %v]", failed, first, last, ok)
	}
}

func Test_DiskDurability(t *testing.T) {
	path := filepath.Join(t.TempDir(), "farmer.plot")

	disk, err := plot.NewDisk(path)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to open a new plot: %v", failed, err)
	}

	enc := testEncoding(9)
	if err := disk.Put(3, enc); err != nil {
		t.Fatalf("\t%s\tShould be able to put an encoding: %v", failed, err)
	}
	if err := disk.Close(); err != nil {
		t.Fatalf("\t%s\tShould be able to close the plot: %v", failed, err)
	}

	reopened, err := plot.NewDisk(path)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to reopen the plot: %v", failed, err)
	}
	defer reopened.Close()

	if !reopened.Has(3) || reopened.Has(0) {
		t.Errorf("\t%s\tShould rebuild completion state from disk.", failed)
	} else {
		t.Logf("\t%s\tShould rebuild completion state from disk.", success)
	}

	got, err := reopened.Get(3)
	if err != nil || !bytes.Equal(got, enc) {
		t.Errorf("\t%s\tShould read the encoding back after reopen: %v", failed, err)
	} else {
		t.Logf("\t%s\tShould read the encoding back after reopen.", success)
	}
}

func Test_DiskCorruptEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "farmer.plot")

	disk, err := plot.NewDisk(path)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to open a new plot: %v", failed, err)
	}

	if err := disk.Put(0, testEncoding(1)); err != nil {
		t.Fatalf("\t%s\tShould be able to put an encoding: %v", failed, err)
	}
	disk.Close()

	// Flip one byte in the stored encoding, past the flag and checksum.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to read the raw plot file: %v", failed, err)
	}
	raw[1+32+100] ^= 0x01
	if err := os.WriteFile(path, raw, 0600); err != nil {
		t.Fatalf("\t%s\tShould be able to write the raw plot file: %v", failed, err)
	}

	reopened, err := plot.NewDisk(path)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to reopen the plot: %v", failed, err)
	}
	defer reopened.Close()

	if _, err := reopened.Get(0); !errors.Is(err, plot.ErrCorruptEntry) {
		t.Errorf("\t%s\tShould fail a flipped bit with ErrCorruptEntry: %v", failed, err)
	} else {
		t.Logf("\t%s\tShould fail a flipped bit with ErrCorruptEntry.", success)
	}
}

func Test_MemoryStorage(t *testing.T) {
	mem := plot.NewMemory()

	if err := mem.Put(1, testEncoding(1)); err != nil {
		t.Fatalf("\t%s\tShould be able to put an encoding: %v", failed, err)
	}

	got, err := mem.Get(1)
	if err != nil || !bytes.Equal(got, testEncoding(1)) {
		t.Fatalf("\t%s\tShould get back the exact bytes: %v", failed, err)
	}
	t.Logf("\t%s\tShould get back the exact bytes.", success)

	// The store must hold its own copy.
	got[0] ^= 0xff
	again, _ := mem.Get(1)
	if !bytes.Equal(again, testEncoding(1)) {
		t.Errorf("\t%s\tShould not share backing slices with callers.", failed)
	} else {
		t.Logf("\t%s\tShould not share backing slices with callers.", success)
	}

	if _, err := mem.Get(9); !errors.Is(err, plot.ErrNotFound) {
		t.Errorf("\t%s\tShould miss with ErrNotFound: %v", failed, err)
	}
	if mem.Count() != 1 {
		t.Errorf("\t%s\tShould count completed entries: %d", failed, mem.Count())
	}
}
