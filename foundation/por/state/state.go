// Package state is the core API for the node and implements all the
// business rules and processing.
package state

import (
	"crypto/ecdsa"
	"errors"
	"sync"

	"github.com/porchain/porchain/foundation/por/farmer"
	"github.com/porchain/porchain/foundation/por/genesis"
	"github.com/porchain/porchain/foundation/por/ledger"
	"github.com/porchain/porchain/foundation/por/peer"
	"github.com/porchain/porchain/foundation/por/piece"
	"github.com/porchain/porchain/foundation/por/plot"
	"github.com/porchain/porchain/foundation/por/signature"
)

// ConfirmDepth is how many blocks must build on top of a block before it is
// treated as confirmed and its id feeds the piece set.
const ConfirmDepth = 6

// EventHandler defines a function that is called when events
// occur in the processing of blocks.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by any
// package providing support for farming, plotting, and peer updates.
type Worker interface {
	Shutdown()
	SignalStartFarming()
	SignalCancelFarming() (done func())
	SignalStartPlotting()
}

// =============================================================================

// Config represents the configuration required to start the node.
type Config struct {
	FarmerKey  *ecdsa.PrivateKey
	Host       string
	Genesis    genesis.Genesis
	Ledger     *ledger.Ledger
	Farmer     *farmer.Farmer
	Plot       plot.Storage
	Pieces     *piece.Set
	KnownPeers *peer.PeerSet
	EvHandler  EventHandler
}

// State manages the node.
type State struct {
	mu sync.Mutex

	farmerKey *ecdsa.PrivateKey
	farmerID  string
	host      string
	evHandler EventHandler

	genesis    genesis.Genesis
	ledger     *ledger.Ledger
	farmer     *farmer.Farmer
	plot       plot.Storage
	pieces     *piece.Set
	knownPeers *peer.PeerSet

	Worker Worker
}

// New constructs a new state for node management.
func New(cfg Config) (*State, error) {
	if cfg.FarmerKey == nil {
		return nil, errors.New("farmer key is required")
	}
	if cfg.Ledger == nil || cfg.Farmer == nil || cfg.Plot == nil || cfg.Pieces == nil {
		return nil, errors.New("ledger, farmer, plot and pieces are required")
	}

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	knownPeers := cfg.KnownPeers
	if knownPeers == nil {
		knownPeers = peer.NewPeerSet()
	}

	state := State{
		farmerKey: cfg.FarmerKey,
		farmerID:  signature.FarmerID(cfg.FarmerKey),
		host:      cfg.Host,
		evHandler: ev,

		genesis:    cfg.Genesis,
		ledger:     cfg.Ledger,
		farmer:     cfg.Farmer,
		plot:       cfg.Plot,
		pieces:     cfg.Pieces,
		knownPeers: knownPeers,
	}

	// Catch the piece set up with whatever chain history was replayed.
	state.confirmPieces()

	// The Worker is not set here. The call to worker.Run will assign itself
	// and start everything up and running for the node.

	return &state, nil
}

// Shutdown cleanly brings the node down.
func (s *State) Shutdown() error {
	s.evHandler("state: shutdown: started")
	defer s.evHandler("state: shutdown: completed")

	// Make sure the plot and the block store are properly closed.
	defer func() {
		s.plot.Close()
		s.ledger.Close()
	}()

	// Stop all farming and plotting activity.
	s.Worker.Shutdown()

	return nil
}

// =============================================================================

// NewPieceSet derives the starting piece set every node agrees on from the
// genesis document alone.
func NewPieceSet(gen genesis.Genesis) (*piece.Set, error) {
	docHash := signature.Hash(gen)

	pieces := piece.NewSet()
	for i := uint64(0); i < gen.PieceCount; i++ {
		seed := make([]byte, 0, len(docHash)+8)
		seed = append(seed, docHash...)
		for b := 0; b < 8; b++ {
			seed = append(seed, byte(i>>(8*b)))
		}

		if _, err := pieces.Append(piece.Expand(seed)); err != nil {
			return nil, err
		}
	}

	return pieces, nil
}

// =============================================================================

// confirmPieces extends the piece set with one piece per newly confirmed
// canonical block. Every node derives the same pieces at the same confirmed
// height, which is what keeps proofs verifiable network wide.
func (s *State) confirmPieces() {
	tipHeight := s.ledger.Height()
	if tipHeight < ConfirmDepth {
		return
	}
	confirmed := tipHeight - ConfirmDepth

	have := s.pieces.Len()
	base := s.genesis.PieceCount
	if have < base {
		return
	}

	next := have - base + 1
	if next > confirmed {
		return
	}

	for _, block := range s.ledger.CanonicalRange(next, confirmed) {
		p := piece.FromBlockID(block.ID())
		index, err := s.pieces.Append(p)
		if err != nil {
			s.evHandler("state: confirmPieces: ERROR: %s", err)
			return
		}
		s.evHandler("state: confirmPieces: height[%d] piece[%d]", block.Header.Height, index)
	}
}
