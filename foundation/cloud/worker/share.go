package worker

import (
	"context"
)

// maxShareRequests represents the max number of pending share requests that
// can be outstanding before share requests are dropped. Peers still receive
// dropped mutations through their periodic sync.
const maxShareRequests = 100

// shareOperations handles sharing new mutations.
func (w *Worker) shareOperations() {
	w.evHandler("worker: shareOperations: G started")
	defer w.evHandler("worker: shareOperations: G completed")

	for {
		select {
		case sh := <-w.sharing:
			if !w.isShutdown() {
				w.runShareOperation(sh)
			}
		case <-w.shut:
			w.evHandler("worker: shareOperations: received shut signal")
			return
		}
	}
}

// runShareOperation sends new mutations to the known peers.
func (w *Worker) runShareOperation(sh share) {
	w.evHandler("worker: runShareOperation: cloud[%s]: started", sh.cloudID.Short())
	defer w.evHandler("worker: runShareOperation: cloud[%s]: completed", sh.cloudID.Short())

	ctx, cancel := context.WithTimeout(w.ctx, netTimeout)
	defer cancel()

	w.state.NetSendMutationsToPeers(ctx, sh.cloudID, sh.mutations)
}
