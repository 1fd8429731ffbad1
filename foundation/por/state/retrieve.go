package state

import (
	"github.com/porchain/porchain/foundation/por/genesis"
	"github.com/porchain/porchain/foundation/por/ledger"
	"github.com/porchain/porchain/foundation/por/peer"
	"github.com/porchain/porchain/foundation/por/plot"
)

// PlotStatus reports how far the plot has caught up with the piece set.
type PlotStatus struct {
	PieceCount   uint64   `json:"piece_count"`
	PlottedCount uint64   `json:"plotted_count"`
	Percent      float64  `json:"percent"`
	FirstPlotted uint64   `json:"first_plotted"`
	LastPlotted  uint64   `json:"last_plotted"`
	Missing      []uint64 `json:"missing,omitempty"`
}

// =============================================================================

// RetrieveHost returns a copy of the host information.
func (s *State) RetrieveHost() string {
	return s.host
}

// RetrieveGenesis returns a copy of the genesis information.
func (s *State) RetrieveGenesis() genesis.Genesis {
	return s.genesis
}

// RetrieveFarmerID returns the farmer id this node produces blocks under.
func (s *State) RetrieveFarmerID() string {
	return s.farmerID
}

// RetrieveTip returns the current canonical tip block.
func (s *State) RetrieveTip() ledger.Block {
	return s.ledger.Tip()
}

// RetrieveTipWeight returns the cumulative weight of the canonical chain.
func (s *State) RetrieveTipWeight() uint64 {
	return s.ledger.TipWeight()
}

// RetrieveKnownPeers retrieves a copy of the known peer list.
func (s *State) RetrieveKnownPeers() []peer.Peer {
	return s.knownPeers.Copy(s.host)
}

// AddKnownPeer provides the ability to add a new peer to the known peer list.
func (s *State) AddKnownPeer(peer peer.Peer) bool {
	return s.knownPeers.Add(peer)
}

// RemoveKnownPeer provides the ability to remove a peer from the known peer
// list.
func (s *State) RemoveKnownPeer(peer peer.Peer) {
	s.knownPeers.Remove(peer)
}

// =============================================================================

// QueryBlocksByHeight returns the canonical blocks with heights in the
// specified range, ascending.
func (s *State) QueryBlocksByHeight(from uint64, to uint64) []ledger.Block {
	return s.ledger.CanonicalRange(from, to)
}

// QueryBlockByID returns the block with the specified id.
func (s *State) QueryBlockByID(blockID string) (ledger.Block, error) {
	return s.ledger.BlockByID(blockID)
}

// QueryOrphanCount returns the number of blocks buffered awaiting a parent.
func (s *State) QueryOrphanCount() int {
	return s.ledger.OrphanCount()
}

// QueryPlotStatus reports the progress of this node's plot against the
// current piece set.
func (s *State) QueryPlotStatus() PlotStatus {
	status := PlotStatus{
		PieceCount:   s.pieces.Len(),
		PlottedCount: s.plot.Count(),
	}

	if status.PieceCount > 0 {
		status.Percent = float64(status.PlottedCount) / float64(status.PieceCount) * 100
	}

	if first, last, ok := plot.CompletedRange(s.plot); ok {
		status.FirstPlotted = first
		status.LastPlotted = last

		for index := uint64(0); index < status.PieceCount; index++ {
			if !s.plot.Has(index) {
				status.Missing = append(status.Missing, index)
			}
		}
	}

	return status
}
