package public

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/porchain/porchain/foundation/por/challenge"
	"github.com/porchain/porchain/foundation/por/ledger"
)

// tip is a read-only snapshot of where the canonical chain stands.
type tip struct {
	ID        string `json:"id"`
	Height    uint64 `json:"height"`
	Weight    uint64 `json:"weight"`
	Challenge string `json:"challenge"`
	FarmerID  string `json:"farmer_id"`
	Orphans   int    `json:"orphans"`
}

// block is the public browse view of one block. The full 4k encoding stays
// off this surface, the proof is summarized instead.
type block struct {
	ID               string `json:"id"`
	Parent           string `json:"parent"`
	Height           uint64 `json:"height"`
	TimeStamp        uint64 `json:"timestamp"`
	DifficultyTarget uint32 `json:"difficulty_target"`
	FarmerID         string `json:"farmer_id"`
	PieceIndex       uint64 `json:"piece_index"`
	Challenge        string `json:"challenge"`
	Tag              uint64 `json:"tag"`
	Quality          uint32 `json:"quality"`
}

func toBlock(blk ledger.Block) block {
	var quality uint32
	if raw, err := hexutil.Decode(blk.Proof.Challenge); err == nil {
		ch := challenge.FromBytes(raw)
		quality = challenge.Quality(ch.Distance(blk.Proof.Tag))
	}

	return block{
		ID:               blk.ID(),
		Parent:           blk.Header.Parent,
		Height:           blk.Header.Height,
		TimeStamp:        blk.Header.TimeStamp,
		DifficultyTarget: blk.Header.DifficultyTarget,
		FarmerID:         blk.Proof.FarmerID,
		PieceIndex:       blk.Proof.PieceIndex,
		Challenge:        blk.Proof.Challenge,
		Tag:              blk.Proof.Tag,
		Quality:          quality,
	}
}
