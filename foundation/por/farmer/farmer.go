// Package farmer implements the evaluation loop: on every new challenge the
// plot is scanned exhaustively and the stored encoding closest to the
// challenge wins. The scan is the hot path of the whole node, it runs once
// per round against every completed piece, so reads fan out across a worker
// pool and cancellation is checked between every piece.
package farmer

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/porchain/porchain/foundation/por/challenge"
	"github.com/porchain/porchain/foundation/por/plot"
)

// ErrNoSolution is returned when the plot holds no completed encodings to
// evaluate.
var ErrNoSolution = errors.New("no completed encodings to evaluate")

// EvHandler defines a function that is called when events occur in the
// processing of an evaluation.
type EvHandler func(v string, args ...any)

// Solution is the best answer a plot gives to one challenge. Whether it is
// good enough to produce a block is the caller's call against the current
// difficulty target.
type Solution struct {
	PieceIndex uint64
	Encoding   []byte
	Tag        uint64
	Distance   uint64
	Quality    uint32
}

// =============================================================================

// Config represents the configuration required to construct a farmer.
type Config struct {
	Storage   plot.Storage
	PoolSize  int
	EvHandler EvHandler
}

// Farmer scans a plot store for the best proof against each challenge.
type Farmer struct {
	storage   plot.Storage
	poolSize  int
	evHandler EvHandler
}

// New constructs a farmer over the specified plot store.
func New(cfg Config) (*Farmer, error) {
	if cfg.Storage == nil {
		return nil, errors.New("storage is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
	}

	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	return &Farmer{
		storage:   cfg.Storage,
		poolSize:  poolSize,
		evHandler: ev,
	}, nil
}

// =============================================================================

// Evaluate scans every completed encoding against the specified challenge
// and returns the closest one. The scan stops promptly when ctx is canceled,
// which is how a superseding challenge aborts a stale evaluation.
func (f *Farmer) Evaluate(ctx context.Context, ch challenge.Challenge) (Solution, error) {
	completed := f.storage.Completed()
	if len(completed) == 0 {
		return Solution{}, ErrNoSolution
	}

	f.evHandler("farmer: evaluate: challenge[%s] pieces[%d] workers[%d]", ch, len(completed), f.poolSize)

	indices := make(chan uint64, f.poolSize)
	results := make(chan Solution, f.poolSize)
	readErrs := make(chan error, f.poolSize)

	var wg sync.WaitGroup
	wg.Add(f.poolSize)
	for i := 0; i < f.poolSize; i++ {
		go func() {
			defer wg.Done()
			f.scan(ctx, ch, indices, results, readErrs)
		}()
	}

	go func() {
		defer close(indices)
		for _, index := range completed {
			select {
			case indices <- index:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
		close(readErrs)
	}()

	// Reduce worker bests to the global best. Ties on distance break to the
	// lower index so the winner is the same no matter how the scan
	// interleaved.
	var best Solution
	found := false
	for sol := range results {
		if !found || sol.Distance < best.Distance ||
			(sol.Distance == best.Distance && sol.PieceIndex < best.PieceIndex) {
			best = sol
			found = true
		}
	}

	var readErr error
	for err := range readErrs {
		if readErr == nil {
			readErr = err
		}
	}

	if err := ctx.Err(); err != nil {
		f.evHandler("farmer: evaluate: canceled: challenge[%s]", ch)
		return Solution{}, err
	}

	if !found {
		if readErr != nil {
			return Solution{}, readErr
		}
		return Solution{}, ErrNoSolution
	}

	f.evHandler("farmer: evaluate: best: piece[%d] quality[%d]", best.PieceIndex, best.Quality)
	return best, nil
}

// scan is the per-worker loop: pull indices, tag each stored encoding
// against the challenge, and emit this worker's single best.
func (f *Farmer) scan(ctx context.Context, ch challenge.Challenge, indices <-chan uint64, results chan<- Solution, readErrs chan<- error) {
	var best Solution
	found := false
	var firstErr error

	for index := range indices {
		select {
		case <-ctx.Done():
			return
		default:
		}

		encoding, err := f.storage.Get(index)
		if err != nil {
			// A corrupt or missing entry costs this index the round, not
			// the round itself.
			f.evHandler("farmer: scan: WARNING: piece[%d]: %s", index, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		tag := ch.Tag(encoding)
		distance := ch.Distance(tag)

		if !found || distance < best.Distance {
			best = Solution{
				PieceIndex: index,
				Encoding:   encoding,
				Tag:        tag,
				Distance:   distance,
				Quality:    challenge.Quality(distance),
			}
			found = true
		}
	}

	if found {
		results <- best
	}
	if firstErr != nil {
		readErrs <- firstErr
	}
}
