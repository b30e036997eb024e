package worker

import (
	"github.com/ardanlabs/encloud/foundation/cloud/identity"
)

// maxReplayRequests represents the max number of pending replay requests.
const maxReplayRequests = 100

// replayOperations handles replaying owned clouds into the replay store.
func (w *Worker) replayOperations() {
	w.evHandler("worker: replayOperations: G started")
	defer w.evHandler("worker: replayOperations: G completed")

	for {
		select {
		case cloudID := <-w.replaying:
			if !w.isShutdown() {
				w.runReplayOperation(cloudID)
			}
		case <-w.shut:
			w.evHandler("worker: replayOperations: received shut signal")
			return
		}
	}
}

// runReplayOperation applies what the store has not seen yet.
func (w *Worker) runReplayOperation(cloudID identity.CloudID) {
	res, err := w.state.Replay(w.ctx, cloudID)
	if err != nil {
		w.evHandler("worker: runReplayOperation: cloud[%s]: ERROR: %s", cloudID.Short(), err)
		return
	}

	if res.Applied > 0 {
		w.evHandler("worker: runReplayOperation: cloud[%s]: applied[%d] next[%d]", cloudID.Short(), res.Applied, res.Next)
	}
}
