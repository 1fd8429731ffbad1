package worker

import (
	"github.com/porchain/porchain/foundation/por/peer"
)

// peerOperations handles finding new peers.
func (w *Worker) peerOperations() {
	w.evHandler("worker: peerOperations: G started")
	defer w.evHandler("worker: peerOperations: G completed")

	for {
		select {
		case <-w.ticker.C:
			if !w.isShutdown() {
				w.runPeersOperation()
			}
		case <-w.shut:
			w.evHandler("worker: peerOperations: received shut signal")
			return
		}
	}
}

// runPeersOperation updates the peer list and pulls any canonical blocks
// this node is missing.
func (w *Worker) runPeersOperation() {
	w.evHandler("worker: runPeersOperation: started")
	defer w.evHandler("worker: runPeersOperation: completed")

	for _, pr := range w.state.RetrieveKnownPeers() {

		// Retrieve the status of this peer.
		peerStatus, err := w.state.NetRequestPeerStatus(pr)
		if err != nil {
			w.evHandler("worker: runPeersOperation: requestPeerStatus: %s: ERROR: %s", pr.Host, err)
			w.state.RemoveKnownPeer(pr)
			continue
		}

		// Add new peers to this node's list.
		w.addNewPeers(peerStatus.KnownPeers)

		// If this peer's chain is heavier, pull the blocks we don't have.
		if peerStatus.TipWeight > w.state.RetrieveTipWeight() {
			w.evHandler("worker: runPeersOperation: requestPeerBlocks: %s: height[%d] weight[%d]", pr.Host, peerStatus.TipHeight, peerStatus.TipWeight)

			if err := w.state.NetRequestPeerBlocks(pr); err != nil {
				w.evHandler("worker: runPeersOperation: requestPeerBlocks: %s: ERROR %s", pr.Host, err)
			}
		}
	}

	// Get the latest peers and let them know this node is available.
	for _, pr := range w.state.RetrieveKnownPeers() {
		if err := w.state.NetRequestAddPeer(pr); err != nil {
			w.evHandler("worker: runPeersOperation: addPeer: %s: ERROR: %s", pr.Host, err)
		}
	}
}

// Sync updates the peer list and the block tree before the support G's
// start.
func (w *Worker) Sync() {
	w.evHandler("worker: sync: started")
	defer w.evHandler("worker: sync: completed")

	for _, pr := range w.state.RetrieveKnownPeers() {

		// Retrieve the status of this peer.
		peerStatus, err := w.state.NetRequestPeerStatus(pr)
		if err != nil {
			w.evHandler("worker: sync: requestPeerStatus: %s: ERROR: %s", pr.Host, err)
			continue
		}

		// Add new peers to this node's list.
		w.addNewPeers(peerStatus.KnownPeers)

		// If this peer has a heavier chain, we need those blocks.
		if peerStatus.TipWeight > w.state.RetrieveTipWeight() {
			w.evHandler("worker: sync: requestPeerBlocks: %s: height[%d] weight[%d]", pr.Host, peerStatus.TipHeight, peerStatus.TipWeight)

			if err := w.state.NetRequestPeerBlocks(pr); err != nil {
				w.evHandler("worker: sync: requestPeerBlocks: %s: ERROR %s", pr.Host, err)
			}
		}
	}
}

// addNewPeers takes the list of known peers and makes sure they are included
// in this node's list of known peers.
func (w *Worker) addNewPeers(knownPeers []peer.Peer) {
	w.evHandler("worker: addNewPeers: started")
	defer w.evHandler("worker: addNewPeers: completed")

	for _, pr := range knownPeers {

		// Don't add this running node to the known peer list.
		if pr.Match(w.state.RetrieveHost()) {
			continue
		}

		if w.state.AddKnownPeer(pr) {
			w.evHandler("worker: addNewPeers: adding peer-node %s", pr)
		}
	}
}
