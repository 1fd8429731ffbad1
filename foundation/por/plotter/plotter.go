// Package plotter applies the sequential codec to the full piece set under a
// farmer's identity and persists the result in the plot store. Each encode is
// sequential internally, but pieces are independent of each other, so the
// pool runs one encode per worker. Runs are idempotent by index: interrupted
// or repeated runs never re-encode what the store already holds, and a grown
// piece set only has its new tail plotted.
package plotter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/porchain/porchain/foundation/por/codec"
	"github.com/porchain/porchain/foundation/por/piece"
	"github.com/porchain/porchain/foundation/por/plot"
)

// Defaults applied when the config leaves these values zero.
const (
	defaultPoolSize   = 4
	defaultMaxRetries = 3
)

// EvHandler defines a function that is called when events occur during a
// plotting run.
type EvHandler func(v string, args ...any)

// ErrPiecesUnavailable is returned when the piece set provider breaks its
// contract mid run and the run has to be abandoned.
var ErrPiecesUnavailable = errors.New("piece set provider failed inside the plotted range")

// =============================================================================

// Config represents the configuration required to construct a plotter.
type Config struct {
	Codec      *codec.Codec
	Pieces     piece.Reader
	Storage    plot.Storage
	FarmerID   []byte
	PoolSize   int
	MaxRetries int
	EvHandler  EvHandler
}

// Report summarizes a completed plotting run. Failed holds the indices that
// exhausted their retries and can be retried with another run.
type Report struct {
	Total   uint64
	Plotted uint64
	Skipped uint64
	Failed  []uint64
}

// Plotter encodes pieces into a plot store for one farmer identity.
type Plotter struct {
	codec      *codec.Codec
	pieces     piece.Reader
	storage    plot.Storage
	farmerID   []byte
	poolSize   int
	maxRetries int
	evHandler  EvHandler
}

// New constructs a plotter from the specified configuration.
func New(cfg Config) (*Plotter, error) {
	if cfg.Codec == nil || cfg.Pieces == nil || cfg.Storage == nil {
		return nil, errors.New("codec, pieces and storage are required")
	}
	if len(cfg.FarmerID) == 0 {
		return nil, errors.New("farmer identity is required")
	}

	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	return &Plotter{
		codec:      cfg.Codec,
		pieces:     cfg.Pieces,
		storage:    cfg.Storage,
		farmerID:   cfg.FarmerID,
		poolSize:   poolSize,
		maxRetries: maxRetries,
		evHandler:  ev,
	}, nil
}

// Plot brings the plot store up to date with the piece set as it stands at
// the moment of the call. Already completed indices are skipped, a piece
// whose write keeps failing is recorded and the run continues. The context
// cancels the run between pieces.
func (p *Plotter) Plot(ctx context.Context) (Report, error) {

	// The boundary is captured once. Pieces appended while this run is in
	// flight belong to the next incremental run.
	total := p.pieces.Len()

	report := Report{Total: total}
	if total == 0 {
		return report, nil
	}

	p.evHandler("plotter: plot: started: pieces[%d] workers[%d]", total, p.poolSize)
	defer p.evHandler("plotter: plot: completed")

	var mu sync.Mutex
	var wg sync.WaitGroup
	indices := make(chan uint64)

	wg.Add(p.poolSize)
	for worker := 0; worker < p.poolSize; worker++ {
		go func() {
			defer wg.Done()
			for index := range indices {
				switch err := p.plotPiece(index); {
				case err == nil:
					mu.Lock()
					report.Plotted++
					if report.Plotted%64 == 0 {
						p.evHandler("plotter: plot: progress: completed[%d] total[%d]", report.Plotted+report.Skipped, total)
					}
					mu.Unlock()

				default:
					p.evHandler("plotter: plot: WARNING: index[%d] giving up: %s", index, err)
					mu.Lock()
					report.Failed = append(report.Failed, index)
					mu.Unlock()
				}
			}
		}()
	}

	feed := func() error {
		defer close(indices)
		for index := uint64(0); index < total; index++ {
			if p.storage.Has(index) {
				mu.Lock()
				report.Skipped++
				mu.Unlock()
				continue
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			select {
			case indices <- index:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}

	err := feed()
	wg.Wait()

	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i] < report.Failed[j] })

	if err != nil {
		p.evHandler("plotter: plot: cancelled: completed[%d] total[%d]", report.Plotted+report.Skipped, total)
		return report, err
	}

	p.evHandler("plotter: plot: plotted[%d] skipped[%d] failed[%d]", report.Plotted, report.Skipped, len(report.Failed))
	return report, nil
}

// =============================================================================

// plotPiece encodes and stores a single piece, retrying the storage write a
// bounded number of times.
func (p *Plotter) plotPiece(index uint64) error {
	pc, err := p.pieces.At(index)
	if err != nil {
		return fmt.Errorf("%w: index %d: %s", ErrPiecesUnavailable, index, err)
	}

	encoding, err := p.codec.Encode(pc, p.farmerID, index)
	if err != nil {
		return fmt.Errorf("encode index %d: %w", index, err)
	}

	for attempt := 1; ; attempt++ {
		err = p.storage.Put(index, encoding)
		if err == nil {
			return nil
		}
		if attempt >= p.maxRetries {
			return fmt.Errorf("store index %d after %d attempts: %w", index, attempt, err)
		}
		p.evHandler("plotter: plot: WARNING: index[%d] attempt[%d]: %s", index, attempt, err)
	}
}
