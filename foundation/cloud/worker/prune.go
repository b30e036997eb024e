package worker

import "time"

// pruneInterval represents the interval of dropping buffered mutations
// whose gap stayed unresolved too long.
const pruneInterval = 30 * time.Second

// pruneOperations handles aging out the mutation buffers.
func (w *Worker) pruneOperations() {
	w.evHandler("worker: pruneOperations: G started")
	defer w.evHandler("worker: pruneOperations: G completed")

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !w.isShutdown() {
				w.runPruneOperation()
			}
		case <-w.shut:
			w.evHandler("worker: pruneOperations: received shut signal")
			return
		}
	}
}

// runPruneOperation drops stale buffered mutations and asks for a sync
// so the missing ranges are pulled again.
func (w *Worker) runPruneOperation() {
	if pruned := w.state.PruneBuffers(); pruned > 0 {
		w.evHandler("worker: runPruneOperation: pruned[%d]", pruned)
		w.SignalSync()
	}
}
