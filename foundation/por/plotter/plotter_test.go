package plotter_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/porchain/porchain/foundation/por/codec"
	"github.com/porchain/porchain/foundation/por/piece"
	"github.com/porchain/porchain/foundation/por/plot"
	"github.com/porchain/porchain/foundation/por/plotter"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

var farmerID = []byte("farmer-test")

// recordingStorage wraps a plot store and records which indices get written.
// failTimes can force a bounded number of write failures per index.
type recordingStorage struct {
	plot.Storage
	mu        sync.Mutex
	puts      []uint64
	failTimes map[uint64]int
}

func newRecordingStorage() *recordingStorage {
	return &recordingStorage{
		Storage:   plot.NewMemory(),
		failTimes: make(map[uint64]int),
	}
}

func (rs *recordingStorage) Put(index uint64, encoding []byte) error {
	rs.mu.Lock()
	if rs.failTimes[index] != 0 {
		rs.failTimes[index]--
		rs.mu.Unlock()
		return fmt.Errorf("index %d: injected write failure", index)
	}
	rs.puts = append(rs.puts, index)
	rs.mu.Unlock()

	return rs.Storage.Put(index, encoding)
}

func (rs *recordingStorage) putCount() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.puts)
}

func newSet(t *testing.T, count int) *piece.Set {
	set := piece.NewSet()
	for i := 0; i < count; i++ {
		if _, err := set.Append(piece.Expand([]byte{byte(i)})); err != nil {
			t.Fatalf("\t%s\tShould be able to build the piece set: %v", failed, err)
		}
	}
	return set
}

func newPlotter(t *testing.T, set *piece.Set, storage plot.Storage) *plotter.Plotter {
	c, err := codec.New(1)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the codec: %v", failed, err)
	}

	p, err := plotter.New(plotter.Config{
		Codec:    c,
		Pieces:   set,
		Storage:  storage,
		FarmerID: farmerID,
		PoolSize: 3,
	})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the plotter: %v", failed, err)
	}
	return p
}

func Test_FullRun(t *testing.T) {
	set := newSet(t, 6)
	storage := plot.NewMemory()
	p := newPlotter(t, set, storage)

	report, err := p.Plot(context.Background())
	if err != nil {
		t.Fatalf("\t%s\tShould complete a full run: %v", failed, err)
	}

	if report.Plotted != 6 || report.Skipped != 0 || len(report.Failed) != 0 {
		t.Fatalf("\t%s\tShould plot every piece: %+v", failed, report)
	}
	t.Logf("\t%s\tShould plot every piece.", success)

	// Spot check that what was stored really is the encoding of the piece.
	c, _ := codec.New(1)
	encoding, err := storage.Get(4)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to read a stored encoding: %v", failed, err)
	}
	want, _ := set.At(4)
	if err := c.Verify(encoding, want, farmerID, 4); err != nil {
		t.Errorf("\t%s\tShould store encodings that decode back to the piece: %v", failed, err)
	} else {
		t.Logf("\t%s\tShould store encodings that decode back to the piece.", success)
	}
}

func Test_IdempotentRuns(t *testing.T) {
	set := newSet(t, 5)
	storage := newRecordingStorage()
	p := newPlotter(t, set, storage)

	if _, err := p.Plot(context.Background()); err != nil {
		t.Fatalf("\t%s\tShould complete the first run: %v", failed, err)
	}
	firstPuts := storage.putCount()

	snapshot := make(map[uint64][]byte)
	for _, index := range storage.Completed() {
		enc, _ := storage.Get(index)
		snapshot[index] = enc
	}

	report, err := p.Plot(context.Background())
	if err != nil {
		t.Fatalf("\t%s\tShould complete the second run: %v", failed, err)
	}

	if report.Plotted != 0 || report.Skipped != 5 {
		t.Errorf("\t%s\tShould skip every completed index on re-run: %+v", failed, report)
	} else {
		t.Logf("\t%s\tShould skip every completed index on re-run.", success)
	}

	if storage.putCount() != firstPuts {
		t.Errorf("\t%s\tShould perform no duplicate writes.", failed)
	} else {
		t.Logf("\t%s\tShould perform no duplicate writes.", success)
	}

	for index, enc := range snapshot {
		after, _ := storage.Get(index)
		if !bytes.Equal(enc, after) {
			t.Errorf("\t%s\tShould leave stored encodings untouched: index %d", failed, index)
		}
	}
}

func Test_IncrementalExtension(t *testing.T) {
	set := newSet(t, 4)
	storage := newRecordingStorage()
	p := newPlotter(t, set, storage)

	if _, err := p.Plot(context.Background()); err != nil {
		t.Fatalf("\t%s\tShould complete the initial run: %v", failed, err)
	}

	storage.mu.Lock()
	storage.puts = nil
	storage.mu.Unlock()

	// Grow the piece set and re-plot.
	for i := 4; i < 7; i++ {
		set.Append(piece.Expand([]byte{byte(i)}))
	}

	report, err := p.Plot(context.Background())
	if err != nil {
		t.Fatalf("\t%s\tShould complete the extension run: %v", failed, err)
	}

	if report.Plotted != 3 || report.Skipped != 4 {
		t.Errorf("\t%s\tShould plot only the appended range: %+v", failed, report)
	} else {
		t.Logf("\t%s\tShould plot only the appended range.", success)
	}

	storage.mu.Lock()
	for _, index := range storage.puts {
		if index < 4 {
			t.Errorf("\t%s\tShould never re-touch an existing entry: index %d", failed, index)
		}
	}
	storage.mu.Unlock()
}

func Test_BoundedRetries(t *testing.T) {
	set := newSet(t, 4)
	storage := newRecordingStorage()
	storage.failTimes[1] = 2  // transient, retries cover it
	storage.failTimes[3] = 99 // permanent for this run

	p := newPlotter(t, set, storage)

	report, err := p.Plot(context.Background())
	if err != nil {
		t.Fatalf("\t%s\tShould finish the run despite per piece failures: %v", failed, err)
	}

	if len(report.Failed) != 1 || report.Failed[0] != 3 {
		t.Errorf("\t%s\tShould surface the failed index list: %+v", failed, report.Failed)
	} else {
		t.Logf("\t%s\tShould surface the failed index list.", success)
	}

	if !storage.Has(1) {
		t.Errorf("\t%s\tShould recover a transient failure within bounded retries.", failed)
	} else {
		t.Logf("\t%s\tShould recover a transient failure within bounded retries.", success)
	}

	if report.Plotted != 3 {
		t.Errorf("\t%s\tShould plot everything except the failed index: %+v", failed, report)
	}

	// A follow-up run picks up only the failed index.
	storage.failTimes[3] = 0
	report, err = p.Plot(context.Background())
	if err != nil || report.Plotted != 1 || report.Skipped != 3 {
		t.Errorf("\t%s\tShould retry only the failed index on the next run: %+v %v", failed, report, err)
	} else {
		t.Logf("\t%s\tShould retry only the failed index on the next run.", success)
	}
}

func Test_Cancellation(t *testing.T) {
	set := newSet(t, 8)
	storage := plot.NewMemory()
	p := newPlotter(t, set, storage)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := p.Plot(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("\t%s\tShould report cancellation: %v", failed, err)
	}
	t.Logf("\t%s\tShould report cancellation.", success)

	if report.Plotted != 0 {
		t.Errorf("\t%s\tShould feed no work after cancellation: %+v", failed, report)
	}
}
