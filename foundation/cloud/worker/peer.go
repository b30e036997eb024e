package worker

import (
	"context"

	"github.com/ardanlabs/encloud/foundation/cloud/peer"
)

// peerOperations handles finding new peers and starting periodic syncs.
func (w *Worker) peerOperations() {
	w.evHandler("worker: peerOperations: G started")
	defer w.evHandler("worker: peerOperations: G completed")

	for {
		select {
		case <-w.ticker.C:
			if !w.isShutdown() {
				w.runPeersOperation()
				w.SignalSync()
			}
		case <-w.shut:
			w.evHandler("worker: peerOperations: received shut signal")
			return
		}
	}
}

// runPeersOperation updates the peer list.
func (w *Worker) runPeersOperation() {
	w.evHandler("worker: runPeersOperation: started")
	defer w.evHandler("worker: runPeersOperation: completed")

	for _, pr := range w.state.RetrieveKnownPeers() {
		ctx, cancel := context.WithTimeout(w.ctx, netTimeout)

		// Retrieve the status of this peer.
		peerStatus, err := w.state.NetRequestPeerStatus(ctx, pr)
		cancel()

		if err != nil {
			w.evHandler("worker: runPeersOperation: queryPeerStatus: %s: ERROR: %s", pr.Host, err)
			w.state.RemoveKnownPeer(pr)
			continue
		}

		// Add new peers to this nodes list.
		w.addNewPeers(peerStatus.KnownPeers)
	}

	// Let the latest peers know this node is available to chat.
	for _, pr := range w.state.RetrieveKnownPeers() {
		ctx, cancel := context.WithTimeout(w.ctx, netTimeout)
		err := w.state.NetRequestAddPeer(ctx, pr)
		cancel()

		if err != nil {
			w.evHandler("worker: runPeersOperation: addPeer: %s: ERROR: %s", pr.Host, err)
		}
	}
}

// addNewPeers takes the list of known peers and makes sure they are included
// in the nodes list of known peers.
func (w *Worker) addNewPeers(knownPeers []peer.Peer) {
	for _, pr := range knownPeers {
		if w.state.AddKnownPeer(pr) {
			w.evHandler("worker: addNewPeers: adding peer-node %s", pr)
		}
	}
}
