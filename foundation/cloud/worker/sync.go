package worker

import (
	"context"
)

// syncOperations handles sync signals.
func (w *Worker) syncOperations() {
	w.evHandler("worker: syncOperations: G started")
	defer w.evHandler("worker: syncOperations: G completed")

	for {
		select {
		case <-w.startSync:
			if !w.isShutdown() {
				w.Sync()
			}
		case <-w.shut:
			w.evHandler("worker: syncOperations: received shut signal")
			return
		}
	}
}

// Sync updates the peer list and pulls every cloud a peer holds a different
// view of.
func (w *Worker) Sync() {
	w.evHandler("worker: sync: started")
	defer w.evHandler("worker: sync: completed")

	for _, pr := range w.state.RetrieveKnownPeers() {
		if w.isShutdown() {
			return
		}

		ctx, cancel := context.WithTimeout(w.ctx, netTimeout)
		peerStatus, err := w.state.NetRequestPeerStatus(ctx, pr)
		cancel()

		if err != nil {
			w.evHandler("worker: sync: queryPeerStatus: %s: ERROR: %s", pr.Host, err)
			continue
		}

		// Add new peers to this nodes list.
		w.addNewPeers(peerStatus.KnownPeers)

		for _, remote := range peerStatus.Clouds {
			local, err := w.state.RetrieveStatus(remote.CloudID)
			if err != nil {
				w.evHandler("worker: sync: cloud[%s]: ERROR: %s", remote.CloudID.Short(), err)
				continue
			}

			if local.Length == remote.Length && local.TailDigest == remote.TailDigest {
				continue
			}

			ctx, cancel := context.WithTimeout(w.ctx, netTimeout)
			report, err := w.state.PullFromPeer(ctx, pr, remote.CloudID)
			cancel()

			if err != nil {
				w.evHandler("worker: sync: pull: %s: cloud[%s]: ERROR: %s", pr.Host, remote.CloudID.Short(), err)
				continue
			}

			w.evHandler("worker: sync: pull: %s: cloud[%s]: accepted[%d] halted[%t]", pr.Host, remote.CloudID.Short(), report.Accepted, report.Halted)
		}
	}
}
