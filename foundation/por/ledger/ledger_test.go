package ledger_test

import (
	"crypto/ecdsa"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/porchain/porchain/foundation/por/codec"
	"github.com/porchain/porchain/foundation/por/genesis"
	"github.com/porchain/porchain/foundation/por/ledger"
	"github.com/porchain/porchain/foundation/por/piece"
	"github.com/porchain/porchain/foundation/por/signature"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

// chainEnv bundles the shared protocol state every node in a test network
// agrees on: the codec, the piece set and the genesis document.
type chainEnv struct {
	t      *testing.T
	codec  *codec.Codec
	pieces *piece.Set
	doc    genesis.Genesis
}

func newChainEnv(t *testing.T) *chainEnv {
	t.Helper()

	cdc, err := codec.New(1)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct a codec: %v", failed, err)
	}

	pieces := piece.NewSet()
	for i := 0; i < 4; i++ {
		if _, err := pieces.Append(piece.Expand([]byte{byte(i)})); err != nil {
			t.Fatalf("\t%s\tShould be able to seed the piece set: %v", failed, err)
		}
	}

	doc := genesis.Genesis{
		Date:           time.Date(2023, time.March, 10, 0, 0, 0, 0, time.UTC),
		ChainID:        1,
		Difficulty:     0,
		EncodingLayers: 1,
		PieceCount:     4,
		OrphanLimit:    4,
	}

	return &chainEnv{t: t, codec: cdc, pieces: pieces, doc: doc}
}

func (env *chainEnv) newLedger() *ledger.Ledger {
	env.t.Helper()

	l, err := ledger.New(ledger.Config{
		Codec:      env.codec,
		Pieces:     env.pieces,
		Genesis:    env.doc,
		Serializer: ledger.NewMemory(),
	})
	if err != nil {
		env.t.Fatalf("\t%s\tShould be able to construct a ledger: %v", failed, err)
	}
	return l
}

// mine produces a fully valid block extending parent, farming the specified
// piece with the specified key.
func (env *chainEnv) mine(parent ledger.Block, key *ecdsa.PrivateKey, pieceIndex uint64) ledger.Block {
	env.t.Helper()

	ch := parent.NextChallenge()

	pc, err := env.pieces.At(pieceIndex)
	if err != nil {
		env.t.Fatalf("\t%s\tShould be able to read piece %d: %v", failed, pieceIndex, err)
	}

	farmerID := signature.FarmerID(key)
	farmerIDBytes, err := signature.FarmerIDBytes(farmerID)
	if err != nil {
		env.t.Fatalf("\t%s\tShould be able to decode the farmer id: %v", failed, err)
	}

	enc, err := env.codec.Encode(pc, farmerIDBytes, pieceIndex)
	if err != nil {
		env.t.Fatalf("\t%s\tShould be able to encode piece %d: %v", failed, pieceIndex, err)
	}

	proof := ledger.Proof{
		FarmerID:   farmerID,
		PieceIndex: pieceIndex,
		Challenge:  ch.String(),
		Tag:        ch.Tag(enc),
		Encoding:   enc,
	}

	signed, err := proof.Sign(key)
	if err != nil {
		env.t.Fatalf("\t%s\tShould be able to sign the proof: %v", failed, err)
	}

	block, err := ledger.NewBlock(parent, signed, env.doc.Difficulty, time.Now())
	if err != nil {
		env.t.Fatalf("\t%s\tShould be able to build the block: %v", failed, err)
	}
	return block
}

func genKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to generate a key: %v", failed, err)
	}
	return key
}

// =============================================================================

func Test_GenesisDeterministic(t *testing.T) {
	env := newChainEnv(t)

	l1 := env.newLedger()
	defer l1.Close()
	l2 := env.newLedger()
	defer l2.Close()

	if l1.Tip().ID() != l2.Tip().ID() {
		t.Fatalf("\t%s\tShould derive the identical genesis block on every node.", failed)
	}
	t.Logf("\t%s\tShould derive the identical genesis block on every node.", success)

	if l1.Height() != 0 {
		t.Errorf("\t%s\tShould start at height 0, got %d.", failed, l1.Height())
	} else {
		t.Logf("\t%s\tShould start at height 0.", success)
	}
}

func Test_InsertExtendsTip(t *testing.T) {
	env := newChainEnv(t)
	key := genKey(t)

	l := env.newLedger()
	defer l.Close()

	block := env.mine(l.Tip(), key, 2)

	result, err := l.Insert(block)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to insert a valid block: %v", failed, err)
	}
	if result.Status != ledger.StatusInserted || !result.TipChanged {
		t.Fatalf("\t%s\tShould report an inserted block that moved the tip: %+v", failed, result)
	}
	t.Logf("\t%s\tShould be able to insert a valid block.", success)

	if l.Tip().ID() != block.ID() || l.Height() != 1 {
		t.Errorf("\t%s\tShould have the new block as the canonical tip.", failed)
	} else {
		t.Logf("\t%s\tShould have the new block as the canonical tip.", success)
	}

	if result.Reorg != nil {
		t.Errorf("\t%s\tShould not report a reorg for a simple extension.", failed)
	} else {
		t.Logf("\t%s\tShould not report a reorg for a simple extension.", success)
	}
}

func Test_InsertDuplicate(t *testing.T) {
	env := newChainEnv(t)
	key := genKey(t)

	l := env.newLedger()
	defer l.Close()

	block := env.mine(l.Tip(), key, 0)

	if _, err := l.Insert(block); err != nil {
		t.Fatalf("\t%s\tShould be able to insert the block the first time: %v", failed, err)
	}

	result, err := l.Insert(block)
	if err != nil {
		t.Fatalf("\t%s\tShould not error on duplicate delivery: %v", failed, err)
	}
	if result.Status != ledger.StatusDuplicate || result.TipChanged {
		t.Fatalf("\t%s\tShould report a duplicate with no tip change: %+v", failed, result)
	}
	t.Logf("\t%s\tShould treat duplicate delivery as a no-op.", success)
}

func Test_RejectInvalidProofs(t *testing.T) {
	env := newChainEnv(t)
	key := genKey(t)

	l := env.newLedger()
	defer l.Close()

	// A proof claiming one piece but carrying the encoding of another must
	// fail the replication check even though its tag and signature hold up.
	parent := l.Tip()
	ch := parent.NextChallenge()

	pc0, _ := env.pieces.At(0)
	farmerID := signature.FarmerID(key)
	farmerIDBytes, _ := signature.FarmerIDBytes(farmerID)
	enc0, err := env.codec.Encode(pc0, farmerIDBytes, 0)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to encode piece 0: %v", failed, err)
	}

	proof := ledger.Proof{
		FarmerID:   farmerID,
		PieceIndex: 1,
		Challenge:  ch.String(),
		Tag:        ch.Tag(enc0),
		Encoding:   enc0,
	}
	signed, err := proof.Sign(key)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to sign the proof: %v", failed, err)
	}
	block, err := ledger.NewBlock(parent, signed, 0, time.Now())
	if err != nil {
		t.Fatalf("\t%s\tShould be able to build the block: %v", failed, err)
	}

	if _, err := l.Insert(block); !errors.Is(err, ledger.ErrInvalidBlock) {
		t.Errorf("\t%s\tShould reject an encoding that decodes to the wrong piece: %v", failed, err)
	} else {
		t.Logf("\t%s\tShould reject an encoding that decodes to the wrong piece.", success)
	}

	// A block claiming a target below the network difficulty is rejected
	// before any proof math runs.
	envHard := newChainEnv(t)
	envHard.doc.Difficulty = 8
	lh := envHard.newLedger()
	defer lh.Close()

	weak := envHard.mine(lh.Tip(), key, 0)
	weak.Header.DifficultyTarget = 0
	if _, err := lh.Insert(weak); !errors.Is(err, ledger.ErrInvalidBlock) {
		t.Errorf("\t%s\tShould reject a target below the network difficulty: %v", failed, err)
	} else {
		t.Logf("\t%s\tShould reject a target below the network difficulty.", success)
	}

	if l.Height() != 0 {
		t.Errorf("\t%s\tShould leave the tip untouched by rejected blocks.", failed)
	} else {
		t.Logf("\t%s\tShould leave the tip untouched by rejected blocks.", success)
	}
}

func Test_ForkChoiceConverges(t *testing.T) {
	env := newChainEnv(t)
	keyA := genKey(t)
	keyB := genKey(t)

	l1 := env.newLedger()
	defer l1.Close()
	l2 := env.newLedger()
	defer l2.Close()

	gen := l1.Tip()

	// Two competing branches off genesis, two blocks each.
	a1 := env.mine(gen, keyA, 0)
	a2 := env.mine(a1, keyA, 1)
	b1 := env.mine(gen, keyB, 2)
	b2 := env.mine(b1, keyB, 3)

	// Deliver in opposite orders to the two nodes.
	for _, block := range []ledger.Block{a1, a2, b1, b2} {
		if _, err := l1.Insert(block); err != nil {
			t.Fatalf("\t%s\tShould be able to insert into node 1: %v", failed, err)
		}
	}
	for _, block := range []ledger.Block{b1, b2, a1, a2} {
		if _, err := l2.Insert(block); err != nil {
			t.Fatalf("\t%s\tShould be able to insert into node 2: %v", failed, err)
		}
	}

	if l1.Tip().ID() != l2.Tip().ID() {
		t.Fatalf("\t%s\tShould converge on the same tip regardless of delivery order: %s vs %s", failed, l1.Tip().ID(), l2.Tip().ID())
	}
	t.Logf("\t%s\tShould converge on the same tip regardless of delivery order.", success)

	if l1.TipWeight() != l2.TipWeight() {
		t.Errorf("\t%s\tShould agree on the canonical weight.", failed)
	} else {
		t.Logf("\t%s\tShould agree on the canonical weight.", success)
	}
}

func Test_OrphanBufferAndAdopt(t *testing.T) {
	env := newChainEnv(t)
	key := genKey(t)

	l := env.newLedger()
	defer l.Close()

	c1 := env.mine(l.Tip(), key, 0)
	c2 := env.mine(c1, key, 1)

	result, err := l.Insert(c2)
	if err != nil {
		t.Fatalf("\t%s\tShould buffer a block with an unknown parent: %v", failed, err)
	}
	if result.Status != ledger.StatusOrphaned || result.TipChanged {
		t.Fatalf("\t%s\tShould report an orphaned block with no tip change: %+v", failed, result)
	}
	if l.OrphanCount() != 1 {
		t.Fatalf("\t%s\tShould hold the orphan in the buffer.", failed)
	}
	t.Logf("\t%s\tShould buffer a block with an unknown parent.", success)

	result, err = l.Insert(c1)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to insert the missing parent: %v", failed, err)
	}
	if !result.TipChanged || l.Tip().ID() != c2.ID() || l.Height() != 2 {
		t.Fatalf("\t%s\tShould adopt the buffered child once its parent arrives.", failed)
	}
	if l.OrphanCount() != 0 {
		t.Errorf("\t%s\tShould drain the orphan buffer after adoption.", failed)
	}
	t.Logf("\t%s\tShould adopt the buffered child once its parent arrives.", success)
}

func Test_OrphanWindowBounded(t *testing.T) {
	env := newChainEnv(t)
	key := genKey(t)

	// Build a valid chain on a side node to get real future blocks.
	side := env.newLedger()
	defer side.Close()

	var chain []ledger.Block
	for i := 0; i < 6; i++ {
		block := env.mine(side.Tip(), key, uint64(i%4))
		if _, err := side.Insert(block); err != nil {
			t.Fatalf("\t%s\tShould be able to grow the side chain: %v", failed, err)
		}
		chain = append(chain, block)
	}

	l := env.newLedger()
	defer l.Close()

	// Deliver blocks 2..6 with block 1 still missing. The window holds 4,
	// so the oldest orphan falls out.
	for _, block := range chain[1:] {
		result, err := l.Insert(block)
		if err != nil {
			t.Fatalf("\t%s\tShould buffer future blocks: %v", failed, err)
		}
		if result.Status != ledger.StatusOrphaned {
			t.Fatalf("\t%s\tShould report future blocks as orphaned: %+v", failed, result)
		}
	}
	if l.OrphanCount() != env.doc.OrphanLimit {
		t.Fatalf("\t%s\tShould cap the orphan buffer at the window size, got %d.", failed, l.OrphanCount())
	}
	t.Logf("\t%s\tShould cap the orphan buffer at the window size.", success)

	// The parent arrives. Only blocks still in the window cascade, the
	// evicted one has to be re-delivered.
	if _, err := l.Insert(chain[0]); err != nil {
		t.Fatalf("\t%s\tShould be able to insert the missing parent: %v", failed, err)
	}
	if l.Height() != 1 {
		t.Fatalf("\t%s\tShould not adopt past the evicted gap, height %d.", failed, l.Height())
	}
	t.Logf("\t%s\tShould not adopt past the evicted gap.", success)

	result, err := l.Insert(chain[1])
	if err != nil {
		t.Fatalf("\t%s\tShould accept an evicted orphan on re-delivery: %v", failed, err)
	}
	if result.Status != ledger.StatusInserted || l.Height() != 6 {
		t.Fatalf("\t%s\tShould cascade to the full chain after re-delivery, height %d.", failed, l.Height())
	}
	t.Logf("\t%s\tShould cascade to the full chain after re-delivery.", success)
}

func Test_ReorgNotification(t *testing.T) {
	env := newChainEnv(t)
	keyA := genKey(t)
	keyB := genKey(t)

	l := env.newLedger()
	defer l.Close()

	gen := l.Tip()

	a1 := env.mine(gen, keyA, 0)
	a2 := env.mine(a1, keyA, 1)
	for _, block := range []ledger.Block{a1, a2} {
		if _, err := l.Insert(block); err != nil {
			t.Fatalf("\t%s\tShould be able to build branch A: %v", failed, err)
		}
	}
	if l.Tip().ID() != a2.ID() {
		t.Fatalf("\t%s\tShould have branch A canonical before the fork.", failed)
	}

	// Grow branch B until its cumulative weight wins. Each block adds at
	// least weight 1, so this terminates.
	parent := gen
	var flipped ledger.InsertResult
	for i := 0; ; i++ {
		block := env.mine(parent, keyB, uint64(i%4))
		result, err := l.Insert(block)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to grow branch B: %v", failed, err)
		}
		parent = block
		if result.TipChanged {
			flipped = result
			break
		}
	}
	t.Logf("\t%s\tShould eventually flip the tip to the heavier branch.", success)

	if flipped.Reorg == nil {
		t.Fatalf("\t%s\tShould report a reorg when reverting canonical blocks.", failed)
	}
	reorg := flipped.Reorg

	if reorg.OldTip != a2.ID() || reorg.NewTip != l.Tip().ID() {
		t.Errorf("\t%s\tShould name the old and new tips in the reorg.", failed)
	} else {
		t.Logf("\t%s\tShould name the old and new tips in the reorg.", success)
	}

	if len(reorg.Reverted) != 2 || reorg.Reverted[0] != a2.ID() || reorg.Reverted[1] != a1.ID() {
		t.Errorf("\t%s\tShould revert branch A tip first: %v", failed, reorg.Reverted)
	} else {
		t.Logf("\t%s\tShould revert branch A tip first.", success)
	}

	if len(reorg.Applied) == 0 || reorg.Applied[len(reorg.Applied)-1] != l.Tip().ID() {
		t.Errorf("\t%s\tShould apply branch B from the ancestor outward.", failed)
	} else {
		t.Logf("\t%s\tShould apply branch B from the ancestor outward.", success)
	}
}

func Test_PersistenceReplay(t *testing.T) {
	env := newChainEnv(t)
	key := genKey(t)

	store := ledger.NewMemory()

	l1, err := ledger.New(ledger.Config{
		Codec:      env.codec,
		Pieces:     env.pieces,
		Genesis:    env.doc,
		Serializer: store,
	})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct a ledger: %v", failed, err)
	}

	parent := l1.Tip()
	for i := 0; i < 3; i++ {
		block := env.mine(parent, key, uint64(i))
		if _, err := l1.Insert(block); err != nil {
			t.Fatalf("\t%s\tShould be able to insert block %d: %v", failed, i, err)
		}
		parent = block
	}
	wantTip, wantWeight := l1.Tip().ID(), l1.TipWeight()

	l2, err := ledger.New(ledger.Config{
		Codec:      env.codec,
		Pieces:     env.pieces,
		Genesis:    env.doc,
		Serializer: store,
	})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to replay the persisted tree: %v", failed, err)
	}

	if l2.Tip().ID() != wantTip || l2.TipWeight() != wantWeight || l2.Height() != 3 {
		t.Fatalf("\t%s\tShould recover the identical tip, weight and height.", failed)
	}
	t.Logf("\t%s\tShould recover the identical tip, weight and height.", success)

	blocks := l2.CanonicalRange(1, 3)
	if len(blocks) != 3 || blocks[0].Header.Height != 1 || blocks[2].ID() != wantTip {
		t.Fatalf("\t%s\tShould serve the canonical range ascending.", failed)
	}
	t.Logf("\t%s\tShould serve the canonical range ascending.", success)
}
