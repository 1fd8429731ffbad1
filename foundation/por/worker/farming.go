package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/porchain/porchain/foundation/por/farmer"
	"github.com/porchain/porchain/foundation/por/state"
)

// farmingOperations handles farming.
func (w *Worker) farmingOperations() {
	w.evHandler("worker: farmingOperations: G started")
	defer w.evHandler("worker: farmingOperations: G completed")

	for {
		select {
		case <-w.startFarming:
			if !w.isShutdown() {
				w.runFarmingOperation()
			}
		case <-w.shut:
			w.evHandler("worker: farmingOperations: received shut signal")
			return
		}
	}
}

// runFarmingOperation evaluates the plot against the current round's
// challenge and produces a block when the plot holds a good enough
// solution.
func (w *Worker) runFarmingOperation() {
	w.evHandler("worker: runFarmingOperation: FARMING: started")
	defer w.evHandler("worker: runFarmingOperation: FARMING: completed")

	// If farming is signalled to be cancelled by the ProcessPeerBlock
	// function, this G can't terminate until it is told it can.
	var wait chan struct{}
	defer func() {
		if wait != nil {
			w.evHandler("worker: runFarmingOperation: FARMING: termination signal: waiting")
			<-wait
			w.evHandler("worker: runFarmingOperation: FARMING: termination signal: received")
		}
	}()

	// Drain the cancel farming channel before starting.
	select {
	case <-w.cancelFarming:
		w.evHandler("worker: runFarmingOperation: FARMING: drained cancel channel")
	default:
	}

	// Create a context so farming can be cancelled.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Can't return from this function until these G's are complete.
	var wg sync.WaitGroup
	wg.Add(2)

	// This G exists to cancel the farming operation.
	go func() {
		defer func() {
			cancel()
			wg.Done()
		}()

		select {
		case wait = <-w.cancelFarming:
			w.evHandler("worker: runFarmingOperation: FARMING: cancel farming requested")
		case <-ctx.Done():
		}
	}()

	// This G is performing the farming.
	go func() {
		defer func() {
			cancel()
			wg.Done()
		}()

		t := time.Now()
		block, err := w.state.FarmNextBlock(ctx)
		w.evHandler("worker: runFarmingOperation: FARMING: evaluation duration[%v]", time.Since(t))

		if err != nil {
			switch {
			case errors.Is(err, farmer.ErrNoSolution):
				w.evHandler("worker: runFarmingOperation: FARMING: WARNING: nothing plotted yet")
			case errors.Is(err, state.ErrQualityTooLow):
				w.evHandler("worker: runFarmingOperation: FARMING: no block this round")
			case ctx.Err() != nil:
				w.evHandler("worker: runFarmingOperation: FARMING: CANCELLED: by request")
			default:
				w.evHandler("worker: runFarmingOperation: FARMING: ERROR: %s", err)
			}
			return
		}

		// WOW, we farmed a block. Send the new block to the network.
		// Log the error, but that's it.
		if err := w.state.NetSendBlockToPeers(block); err != nil {
			w.evHandler("worker: runFarmingOperation: FARMING: sendBlockToPeers: WARNING %s", err)
		}

		// Let the network know which round this node is on now.
		w.state.NetSendChallengeToPeers()
	}()

	// Wait for both G's to terminate.
	wg.Wait()
}
