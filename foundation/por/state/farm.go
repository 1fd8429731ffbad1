package state

import (
	"context"
	"errors"
	"time"

	"github.com/porchain/porchain/foundation/por/challenge"
	"github.com/porchain/porchain/foundation/por/farmer"
	"github.com/porchain/porchain/foundation/por/ledger"
)

// ErrQualityTooLow is returned when the plot's best solution for a round
// does not meet the difficulty target.
var ErrQualityTooLow = errors.New("best solution below difficulty target")

// =============================================================================

// FarmNextBlock evaluates the plot against the current round's challenge
// and, when the best solution meets the difficulty target, produces the
// signed block and inserts it locally. The ctx cancels the evaluation when
// a fresher challenge supersedes the round.
func (s *State) FarmNextBlock(ctx context.Context) (ledger.Block, error) {
	s.evHandler("state: FarmNextBlock: FARMING: evaluate plot")

	parent := s.ledger.Tip()
	ch := parent.NextChallenge()

	solution, err := s.farmer.Evaluate(ctx, ch)
	if err != nil {
		return ledger.Block{}, err
	}

	// Just check one more time we were not cancelled.
	if ctx.Err() != nil {
		return ledger.Block{}, ctx.Err()
	}

	if solution.Quality < s.genesis.Difficulty {
		s.evHandler("state: FarmNextBlock: FARMING: quality[%d] target[%d]: no block this round", solution.Quality, s.genesis.Difficulty)
		return ledger.Block{}, ErrQualityTooLow
	}

	s.evHandler("state: FarmNextBlock: FARMING: solution: piece[%d] quality[%d]", solution.PieceIndex, solution.Quality)

	block, err := s.buildBlock(parent, ch, solution)
	if err != nil {
		return ledger.Block{}, err
	}

	s.evHandler("state: FarmNextBlock: FARMING: insert local block")

	if _, err := s.insertBlock(block); err != nil {
		return ledger.Block{}, err
	}

	return block, nil
}

// buildBlock assembles and signs the block carrying the winning solution.
func (s *State) buildBlock(parent ledger.Block, ch challenge.Challenge, solution farmer.Solution) (ledger.Block, error) {
	proof := ledger.Proof{
		FarmerID:   s.farmerID,
		PieceIndex: solution.PieceIndex,
		Challenge:  ch.String(),
		Tag:        solution.Tag,
		Encoding:   solution.Encoding,
	}

	signed, err := proof.Sign(s.farmerKey)
	if err != nil {
		return ledger.Block{}, err
	}

	return ledger.NewBlock(parent, signed, s.genesis.Difficulty, time.Now())
}

// ProcessPeerBlock takes a block received from a peer, validates it and if
// that passes, links it into the block tree.
func (s *State) ProcessPeerBlock(block ledger.Block) (ledger.InsertResult, error) {
	s.evHandler("state: ProcessPeerBlock: started: blk[%s]", block.ID())
	defer s.evHandler("state: ProcessPeerBlock: completed")

	// If the runFarmingOperation function is being executed it needs to stop
	// immediately. The G executing runFarmingOperation will not return from
	// the function until done is called. That allows this function to
	// complete its state changes before a new farming operation takes place.
	done := s.Worker.SignalCancelFarming()
	defer func() {
		s.evHandler("state: ProcessPeerBlock: signal runFarmingOperation to terminate")
		done()
	}()

	result, err := s.insertBlock(block)
	if err != nil {
		return ledger.InsertResult{}, err
	}

	// The tip moved, a new round is open.
	if result.TipChanged {
		s.Worker.SignalStartFarming()
	}

	return result, nil
}

// insertBlock links a block into the tree and keeps the piece set in step
// with the confirmed chain.
func (s *State) insertBlock(block ledger.Block) (ledger.InsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.ledger.Insert(block)
	if err != nil {
		return ledger.InsertResult{}, err
	}

	if result.TipChanged {
		s.confirmPieces()
		s.Worker.SignalStartPlotting()
	}

	return result, nil
}
