// Package worker implements farming, plotting, and peer updates for the
// node.
package worker

import (
	"sync"
	"time"

	"github.com/porchain/porchain/foundation/por/plotter"
	"github.com/porchain/porchain/foundation/por/state"
)

// peerUpdateInterval represents the interval of finding new peer nodes
// and updating the chain with missing blocks.
const peerUpdateInterval = time.Minute

// =============================================================================

// Worker manages the proof-of-replication workflows for the node.
type Worker struct {
	state         *state.State
	plotter       *plotter.Plotter
	wg            sync.WaitGroup
	ticker        time.Ticker
	shut          chan struct{}
	startFarming  chan bool
	cancelFarming chan chan struct{}
	startPlotting chan bool
	evHandler     state.EventHandler
}

// Run creates a worker, registers the worker with the state package, and
// starts up all the background processes.
func Run(st *state.State, plt *plotter.Plotter, evHandler state.EventHandler) {
	w := Worker{
		state:         st,
		plotter:       plt,
		ticker:        *time.NewTicker(peerUpdateInterval),
		shut:          make(chan struct{}),
		startFarming:  make(chan bool, 1),
		cancelFarming: make(chan chan struct{}, 1),
		startPlotting: make(chan bool, 1),
		evHandler:     evHandler,
	}

	// Register this worker with the state package.
	st.Worker = &w

	// Update this node before starting any support G's.
	w.Sync()

	// Load the set of operations we need to run.
	operations := []func(){
		w.peerOperations,
		w.plottingOperations,
		w.farmingOperations,
	}

	// Set waitgroup to match the number of G's we need for the set
	// of operations we have.
	g := len(operations)
	w.wg.Add(g)

	// We don't want to return until we know all the G's are up and running.
	hasStarted := make(chan bool)

	// Start all the operational G's.
	for _, op := range operations {
		go func(op func()) {
			defer w.wg.Done()
			hasStarted <- true
			op()
		}(op)
	}

	// Wait for the G's to report they are running.
	for i := 0; i < g; i++ {
		<-hasStarted
	}

	// Plot whatever the piece set already holds, then open the first round.
	w.SignalStartPlotting()
	w.SignalStartFarming()
}

// =============================================================================
// These methods implement the state.Worker interface.

// Shutdown terminates the goroutines performing work.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	w.evHandler("worker: shutdown: stop ticker")
	w.ticker.Stop()

	w.evHandler("worker: shutdown: signal cancel farming")
	done := w.SignalCancelFarming()
	done()

	w.evHandler("worker: shutdown: terminate goroutines")
	close(w.shut)
	w.wg.Wait()
}

// SignalStartFarming starts a farming operation. If there is already a signal
// pending in the channel, just return since a farming operation will start.
func (w *Worker) SignalStartFarming() {
	select {
	case w.startFarming <- true:
	default:
	}
	w.evHandler("worker: SignalStartFarming: farming signaled")
}

// SignalCancelFarming signals the G executing the runFarmingOperation
// function to stop immediately. That G will not return from the function
// until done is called. This allows the caller to complete any state changes
// before a new farming operation takes place.
func (w *Worker) SignalCancelFarming() (done func()) {
	wait := make(chan struct{})

	select {
	case w.cancelFarming <- wait:
	default:
	}
	w.evHandler("worker: SignalCancelFarming: cancel farming signaled")

	return func() { close(wait) }
}

// SignalStartPlotting starts a plotting operation to catch the plot up with
// the piece set. If there is already a signal pending in the channel, just
// return since a plotting operation will start.
func (w *Worker) SignalStartPlotting() {
	select {
	case w.startPlotting <- true:
	default:
	}
	w.evHandler("worker: SignalStartPlotting: plotting signaled")
}

// =============================================================================

// isShutdown is used to test if a shutdown has been signaled.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}
