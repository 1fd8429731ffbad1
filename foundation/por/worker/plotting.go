package worker

import (
	"context"
	"time"
)

// plottingOperations handles catching the plot up with the piece set.
func (w *Worker) plottingOperations() {
	w.evHandler("worker: plottingOperations: G started")
	defer w.evHandler("worker: plottingOperations: G completed")

	for {
		select {
		case <-w.startPlotting:
			if !w.isShutdown() {
				w.runPlottingOperation()
			}
		case <-w.shut:
			w.evHandler("worker: plottingOperations: received shut signal")
			return
		}
	}
}

// runPlottingOperation encodes every piece the plot does not hold yet.
// Plotting is incremental, indices already stored are skipped, so running it
// after every piece set extension only costs the new pieces.
func (w *Worker) runPlottingOperation() {
	w.evHandler("worker: runPlottingOperation: PLOTTING: started")
	defer w.evHandler("worker: runPlottingOperation: PLOTTING: completed")

	// Plotting stops when the node shuts down, mid-piece work is simply
	// redone on the next run.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-w.shut:
			cancel()
		case <-ctx.Done():
		}
	}()

	t := time.Now()
	report, err := w.plotter.Plot(ctx)
	w.evHandler("worker: runPlottingOperation: PLOTTING: duration[%v]", time.Since(t))

	if err != nil {
		w.evHandler("worker: runPlottingOperation: PLOTTING: ERROR: %s", err)
		return
	}

	w.evHandler("worker: runPlottingOperation: PLOTTING: total[%d] plotted[%d] skipped[%d] failed[%d]",
		report.Total, report.Plotted, report.Skipped, len(report.Failed))

	// Fresh encodings mean the current round may now have a better answer.
	if report.Plotted > 0 {
		w.SignalStartFarming()
	}
}
