package ledger

import (
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/porchain/porchain/foundation/por/challenge"
	"github.com/porchain/porchain/foundation/por/genesis"
	"github.com/porchain/porchain/foundation/por/signature"
)

// Proof is a farmer's claim to extend the chain: possession of the encoded
// replica of one piece, audited against the round's challenge. The encoding
// travels with the proof so any node holding the piece set can run the fast
// decode check without the farmer's plot.
type Proof struct {
	FarmerID   string `json:"farmer_id"`   // Compressed public key of the farmer.
	PieceIndex uint64 `json:"piece_index"` // Piece the replica claims.
	Challenge  string `json:"challenge"`   // Round challenge this proof answers.
	Tag        uint64 `json:"tag"`         // Quality witness: HMAC of challenge under the encoding.
	Encoding   []byte `json:"encoding"`    // The replica itself.
	Signature  string `json:"signature"`   // Farmer's signature over the unsigned proof.
}

// unsigned returns the proof with the signature stripped, which is the value
// that gets hashed and signed.
func (p Proof) unsigned() Proof {
	p.Signature = ""
	return p
}

// ID returns the unique hash for the proof. Identity excludes the signature
// so a proof can't be duplicated under a malleated signature.
func (p Proof) ID() string {
	return signature.Hash(p.unsigned())
}

// Sign attaches the farmer's signature to the proof.
func (p Proof) Sign(privateKey *ecdsa.PrivateKey) (Proof, error) {
	sig, err := signature.Sign(p.unsigned(), privateKey)
	if err != nil {
		return Proof{}, err
	}

	p.Signature = sig
	return p, nil
}

// VerifySignature checks the proof carries a valid signature from the farmer
// it names.
func (p Proof) VerifySignature() error {
	return signature.Verify(p.unsigned(), p.Signature, p.FarmerID)
}

// =============================================================================

// BlockHeader represents common information required for each block.
type BlockHeader struct {
	Parent           string `json:"parent"`            // Id of the previous block in the chain.
	Height           uint64 `json:"height"`            // Block height in the chain, genesis is 0.
	TimeStamp        uint64 `json:"timestamp"`         // Time the block was produced.
	DifficultyTarget uint32 `json:"difficulty_target"` // Minimum proof quality this block claims to meet.
	ProofID          string `json:"proof_id"`          // Id of the proof carried by this block.
}

// Block represents one link in the block tree.
type Block struct {
	Header BlockHeader `json:"header"`
	Proof  Proof       `json:"proof"`
}

// ID returns the unique hash for the block. Only the header is hashed, the
// proof is pinned through the proof id.
func (b Block) ID() string {
	return signature.Hash(b.Header)
}

// NextChallenge derives the challenge for the round that builds on this
// block.
func (b Block) NextChallenge() challenge.Challenge {
	return challenge.New(b.Header.ProofID)
}

// =============================================================================

// NewBlock constructs the block extending the specified parent with a
// signed proof.
func NewBlock(parent Block, proof Proof, difficultyTarget uint32, now time.Time) (Block, error) {
	if proof.Signature == "" {
		return Block{}, fmt.Errorf("proof must be signed")
	}

	ts := uint64(now.UTC().Unix())
	if ts <= parent.Header.TimeStamp {
		ts = parent.Header.TimeStamp + 1
	}

	return Block{
		Header: BlockHeader{
			Parent:           parent.ID(),
			Height:           parent.Header.Height + 1,
			TimeStamp:        ts,
			DifficultyTarget: difficultyTarget,
			ProofID:          proof.ID(),
		},
		Proof: proof,
	}, nil
}

// Genesis constructs the deterministic genesis block for the specified
// genesis document. Every node derives the identical block, including the
// zero proof seeded from the document hash, so the first real challenge is
// agreed network wide.
func Genesis(doc genesis.Genesis) Block {
	proof := Proof{
		FarmerID:   signature.ZeroHash,
		PieceIndex: 0,
		Challenge:  challenge.New(signature.Hash(doc)).String(),
	}

	return Block{
		Header: BlockHeader{
			Parent:           signature.ZeroHash,
			Height:           0,
			TimeStamp:        uint64(doc.Date.UTC().Unix()),
			DifficultyTarget: doc.Difficulty,
			ProofID:          proof.ID(),
		},
		Proof: proof,
	}
}
