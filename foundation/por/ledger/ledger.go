// Package ledger maintains the block tree and the canonical chain. Blocks
// are validated against the piece set with the fast decode check, linked
// into an arena keyed by block id, and ranked by cumulative weight. All
// mutation is serialized behind one lock so no two readers ever observe
// different canonical tips after an insert completes.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/porchain/porchain/foundation/por/challenge"
	"github.com/porchain/porchain/foundation/por/codec"
	"github.com/porchain/porchain/foundation/por/genesis"
	"github.com/porchain/porchain/foundation/por/piece"
	"github.com/porchain/porchain/foundation/por/signature"
)

// Defaults applied when the genesis document leaves these values zero.
const (
	defaultOrphanLimit = 128
	seenCacheSize      = 4096
)

// Set of error variables for ledger operations.
var (
	ErrInvalidBlock = errors.New("invalid block")
	ErrOrphanBlock  = errors.New("block parent is not in the tree")
	ErrNotFound     = errors.New("block is not in the tree")
)

// Set of statuses an insert can resolve to.
const (
	StatusInserted  = "inserted"
	StatusDuplicate = "duplicate"
	StatusOrphaned  = "orphaned"
)

// EvHandler defines a function that is called when events occur in the
// processing of blocks.
type EvHandler func(v string, args ...any)

// Reorg describes a canonical tip change that reverted part of the old
// chain. Reverted and Applied list block ids from the common ancestor
// outward, making every reorg an auditable event.
type Reorg struct {
	OldTip   string
	NewTip   string
	Reverted []string
	Applied  []string
}

// InsertResult reports what an insert did to the tree and the canonical tip.
type InsertResult struct {
	Status     string
	BlockID    string
	TipChanged bool
	Reorg      *Reorg
}

// =============================================================================

// Config represents the configuration required to construct a ledger.
type Config struct {
	Codec      *codec.Codec
	Pieces     piece.Reader
	Genesis    genesis.Genesis
	Serializer Serializer
	EvHandler  EvHandler
}

// metaBlock is the arena entry for one block. Children are held as ids, not
// pointers, so concurrent readers can walk the tree without ownership
// cycles.
type metaBlock struct {
	block    Block
	quality  uint32
	weight   uint64
	children []string
}

// Ledger manages the block tree and the canonical tip.
type Ledger struct {
	codec      *codec.Codec
	pieces     piece.Reader
	genesis    genesis.Genesis
	serializer Serializer
	evHandler  EvHandler

	mu      sync.RWMutex
	blocks  map[string]*metaBlock
	tipID   string
	orphans *lru.Cache
	seen    *lru.Cache
}

// New constructs a ledger, replaying any persisted block tree and creating
// the deterministic genesis block when the store is empty.
func New(cfg Config) (*Ledger, error) {
	if cfg.Codec == nil || cfg.Pieces == nil || cfg.Serializer == nil {
		return nil, errors.New("codec, pieces and serializer are required")
	}

	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	orphanLimit := cfg.Genesis.OrphanLimit
	if orphanLimit <= 0 {
		orphanLimit = defaultOrphanLimit
	}

	orphans, err := lru.New(orphanLimit)
	if err != nil {
		return nil, err
	}
	seen, err := lru.New(seenCacheSize)
	if err != nil {
		return nil, err
	}

	l := Ledger{
		codec:      cfg.Codec,
		pieces:     cfg.Pieces,
		genesis:    cfg.Genesis,
		serializer: cfg.Serializer,
		evHandler:  ev,
		blocks:     make(map[string]*metaBlock),
		orphans:    orphans,
		seen:       seen,
	}

	if err := l.load(); err != nil {
		return nil, err
	}

	return &l, nil
}

// Close releases the underlying serializer.
func (l *Ledger) Close() error {
	return l.serializer.Close()
}

// =============================================================================

// load replays the persisted tree, or bootstraps genesis on first start.
func (l *Ledger) load() error {
	var records []BlockRecord

	iter := l.serializer.ForEach()
	for record, err := iter.Next(); !iter.Done(); record, err = iter.Next() {
		if err != nil {
			return fmt.Errorf("read block record: %w", err)
		}
		records = append(records, record)
	}

	if len(records) == 0 {
		gen := Genesis(l.genesis)
		genID := gen.ID()

		if err := l.serializer.Write(BlockRecord{Block: gen}); err != nil {
			return fmt.Errorf("persist genesis: %w", err)
		}

		l.blocks[genID] = &metaBlock{block: gen}
		l.tipID = genID

		l.evHandler("ledger: load: genesis created: blk[%s]", genID)
		return nil
	}

	// Records carry no ordering guarantee, link parents first by height.
	sort.Slice(records, func(i, j int) bool {
		return records[i].Block.Header.Height < records[j].Block.Header.Height
	})

	for _, record := range records {
		id := record.Block.ID()

		if record.Block.Header.Height == 0 {
			l.blocks[id] = &metaBlock{block: record.Block}
			l.tipID = id
			continue
		}

		parent, exists := l.blocks[record.Block.Header.Parent]
		if !exists {
			l.evHandler("ledger: load: WARNING: dropping record with unknown parent: blk[%s]", id)
			continue
		}

		mb := metaBlock{
			block:   record.Block,
			quality: record.Quality,
			weight:  parent.weight + challenge.Weight(record.Quality),
		}
		l.blocks[id] = &mb
		parent.children = append(parent.children, id)

		if l.betterTip(id, mb.weight) {
			l.tipID = id
		}
	}

	if l.tipID == "" {
		return errors.New("persisted block tree has no genesis")
	}

	l.evHandler("ledger: load: replayed blocks[%d] tip[%s]", len(l.blocks), l.tipID)
	return nil
}

// =============================================================================

// Validate checks a block against the chain without inserting it. The
// returned quality is the recomputed proof quality.
func (l *Ledger) Validate(block Block) (uint32, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.validate(block)
}

// validate performs the full block check. The caller must hold at least a
// read lock.
func (l *Ledger) validate(block Block) (uint32, error) {
	if block.Header.Height == 0 {
		return 0, fmt.Errorf("validate: duplicate genesis: %w", ErrInvalidBlock)
	}

	if block.Header.ProofID != block.Proof.ID() {
		return 0, fmt.Errorf("validate: header proof id does not match proof: %w", ErrInvalidBlock)
	}

	if len(block.Proof.Encoding) != piece.Size {
		return 0, fmt.Errorf("validate: encoding len %d: %w", len(block.Proof.Encoding), ErrInvalidBlock)
	}

	parent, exists := l.blocks[block.Header.Parent]
	if !exists {
		return 0, fmt.Errorf("validate: parent[%s]: %w", block.Header.Parent, ErrOrphanBlock)
	}

	if block.Header.Height != parent.block.Header.Height+1 {
		return 0, fmt.Errorf("validate: height %d after parent height %d: %w", block.Header.Height, parent.block.Header.Height, ErrInvalidBlock)
	}

	if block.Header.TimeStamp <= parent.block.Header.TimeStamp {
		return 0, fmt.Errorf("validate: timestamp not after parent: %w", ErrInvalidBlock)
	}

	if block.Header.DifficultyTarget < l.genesis.Difficulty {
		return 0, fmt.Errorf("validate: difficulty target %d below network difficulty %d: %w", block.Header.DifficultyTarget, l.genesis.Difficulty, ErrInvalidBlock)
	}

	// The proof must answer the challenge this round actually posed.
	ch := parent.block.NextChallenge()
	if block.Proof.Challenge != ch.String() {
		return 0, fmt.Errorf("validate: proof answers challenge %s, round posed %s: %w", block.Proof.Challenge, ch, ErrInvalidBlock)
	}

	if err := block.Proof.VerifySignature(); err != nil {
		return 0, fmt.Errorf("validate: signature: %s: %w", err, ErrInvalidBlock)
	}

	// Recompute the quality witness, never trust the claimed tag.
	tag := ch.Tag(block.Proof.Encoding)
	if tag != block.Proof.Tag {
		return 0, fmt.Errorf("validate: tag mismatch: %w", ErrInvalidBlock)
	}

	quality := challenge.Quality(ch.Distance(tag))
	if quality < block.Header.DifficultyTarget {
		return 0, fmt.Errorf("validate: quality %d below target %d: %w", quality, block.Header.DifficultyTarget, ErrInvalidBlock)
	}

	// The replication check: the carried encoding must decode to the piece
	// every node derives from chain history.
	pc, err := l.pieces.At(block.Proof.PieceIndex)
	if err != nil {
		return 0, fmt.Errorf("validate: piece index %d: %s: %w", block.Proof.PieceIndex, err, ErrInvalidBlock)
	}

	farmerID, err := signature.FarmerIDBytes(block.Proof.FarmerID)
	if err != nil {
		return 0, fmt.Errorf("validate: farmer id: %s: %w", err, ErrInvalidBlock)
	}

	if err := l.codec.Verify(block.Proof.Encoding, pc, farmerID, block.Proof.PieceIndex); err != nil {
		return 0, fmt.Errorf("validate: replication check: %s: %w", err, ErrInvalidBlock)
	}

	return quality, nil
}

// =============================================================================

// Insert validates the block and adds it to the tree, re-evaluating the
// canonical tip. Duplicate delivery is a no-op, a block whose parent is
// unknown is buffered in the bounded orphan window, and an invalid block is
// rejected and remembered so it is never reconsidered.
func (l *Ledger) Insert(block Block) (InsertResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	blockID := block.ID()

	if _, exists := l.blocks[blockID]; exists {
		return InsertResult{Status: StatusDuplicate, BlockID: blockID}, nil
	}
	if l.seen.Contains(blockID) || l.orphans.Contains(blockID) {
		return InsertResult{Status: StatusDuplicate, BlockID: blockID}, nil
	}

	quality, err := l.validate(block)

	switch {
	case errors.Is(err, ErrOrphanBlock):
		// Not marked seen: an orphan evicted from the window can come
		// back when its parent finally syncs.
		l.orphans.Add(blockID, block)
		l.evHandler("ledger: insert: orphaned: blk[%s] parent[%s]", blockID, block.Header.Parent)
		return InsertResult{Status: StatusOrphaned, BlockID: blockID}, nil

	case err != nil:
		l.seen.Add(blockID, struct{}{})
		l.evHandler("ledger: insert: rejected: blk[%s]: %s", blockID, err)
		return InsertResult{}, err
	}

	oldTip := l.tipID

	if err := l.attach(blockID, block, quality); err != nil {
		return InsertResult{}, err
	}
	l.seen.Add(blockID, struct{}{})

	// The new block may be the missing parent of buffered orphans.
	l.adoptOrphans()

	result := InsertResult{
		Status:     StatusInserted,
		BlockID:    blockID,
		TipChanged: l.tipID != oldTip,
	}

	if result.TipChanged && l.blocks[l.tipID].block.Header.Parent != oldTip {
		reorg := l.buildReorg(oldTip, l.tipID)
		result.Reorg = &reorg
		l.evHandler("ledger: insert: REORG: old[%s] new[%s] reverted[%d] applied[%d]", oldTip, l.tipID, len(reorg.Reverted), len(reorg.Applied))
	}

	return result, nil
}

// attach links a validated block into the arena, persists it, and
// re-evaluates the tip. The caller must hold the write lock.
func (l *Ledger) attach(blockID string, block Block, quality uint32) error {
	parent := l.blocks[block.Header.Parent]

	mb := metaBlock{
		block:   block,
		quality: quality,
		weight:  parent.weight + challenge.Weight(quality),
	}

	if err := l.serializer.Write(BlockRecord{Block: block, Quality: quality, Weight: mb.weight}); err != nil {
		return fmt.Errorf("persist block %s: %w", blockID, err)
	}

	l.blocks[blockID] = &mb
	parent.children = append(parent.children, blockID)

	if l.betterTip(blockID, mb.weight) {
		l.tipID = blockID
	}

	l.evHandler("ledger: attach: blk[%s] height[%d] quality[%d] weight[%d]", blockID, block.Header.Height, quality, mb.weight)
	return nil
}

// adoptOrphans drains every buffered orphan whose parent has arrived,
// cascading until no more can be attached.
func (l *Ledger) adoptOrphans() {
	for adopted := true; adopted; {
		adopted = false

		for _, key := range l.orphans.Keys() {
			id := key.(string)

			v, exists := l.orphans.Peek(id)
			if !exists {
				continue
			}
			block := v.(Block)

			if _, exists := l.blocks[block.Header.Parent]; !exists {
				continue
			}

			l.orphans.Remove(id)

			quality, err := l.validate(block)
			if err != nil {
				l.seen.Add(id, struct{}{})
				l.evHandler("ledger: adopt: rejected: blk[%s]: %s", id, err)
				continue
			}
			if err := l.attach(id, block, quality); err != nil {
				l.evHandler("ledger: adopt: ERROR: blk[%s]: %s", id, err)
				continue
			}

			l.evHandler("ledger: adopt: parent arrived: blk[%s]", id)
			adopted = true
		}
	}
}

// betterTip applies the fork-choice rule: greatest cumulative weight wins,
// ties break on lexicographic block id so every honest node converges on the
// same tip for the same block set.
func (l *Ledger) betterTip(blockID string, weight uint64) bool {
	if l.tipID == "" {
		return true
	}

	tip := l.blocks[l.tipID]
	if weight != tip.weight {
		return weight > tip.weight
	}
	return blockID < l.tipID
}

// buildReorg walks the old and new tips up to their common ancestor. The
// caller must hold at least a read lock.
func (l *Ledger) buildReorg(oldTip, newTip string) Reorg {
	reorg := Reorg{OldTip: oldTip, NewTip: newTip}

	oldID, newID := oldTip, newTip
	for l.blocks[oldID].block.Header.Height > l.blocks[newID].block.Header.Height {
		reorg.Reverted = append(reorg.Reverted, oldID)
		oldID = l.blocks[oldID].block.Header.Parent
	}
	for l.blocks[newID].block.Header.Height > l.blocks[oldID].block.Header.Height {
		reorg.Applied = append(reorg.Applied, newID)
		newID = l.blocks[newID].block.Header.Parent
	}
	for oldID != newID {
		reorg.Reverted = append(reorg.Reverted, oldID)
		reorg.Applied = append(reorg.Applied, newID)
		oldID = l.blocks[oldID].block.Header.Parent
		newID = l.blocks[newID].block.Header.Parent
	}

	// Applied reads better from the ancestor outward.
	for i, j := 0, len(reorg.Applied)-1; i < j; i, j = i+1, j-1 {
		reorg.Applied[i], reorg.Applied[j] = reorg.Applied[j], reorg.Applied[i]
	}

	return reorg
}

// =============================================================================

// Tip returns the canonical tip block.
func (l *Ledger) Tip() Block {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.blocks[l.tipID].block
}

// TipChallenge returns the challenge the next round must answer.
func (l *Ledger) TipChallenge() challenge.Challenge {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.blocks[l.tipID].block.NextChallenge()
}

// TipWeight returns the cumulative weight of the canonical chain.
func (l *Ledger) TipWeight() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.blocks[l.tipID].weight
}

// Height returns the height of the canonical tip.
func (l *Ledger) Height() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.blocks[l.tipID].block.Header.Height
}

// BlockByID returns the block with the specified id.
func (l *Ledger) BlockByID(blockID string) (Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	mb, exists := l.blocks[blockID]
	if !exists {
		return Block{}, fmt.Errorf("block %s: %w", blockID, ErrNotFound)
	}
	return mb.block, nil
}

// CanonicalRange returns the canonical blocks with heights in [from, to],
// ascending. Used by peers syncing missing spans of the chain.
func (l *Ledger) CanonicalRange(from, to uint64) []Block {
	l.mu.RLock()
	defer l.mu.RUnlock()

	tip := l.blocks[l.tipID]
	if from > tip.block.Header.Height {
		return nil
	}
	if to > tip.block.Header.Height {
		to = tip.block.Header.Height
	}

	var blocks []Block
	id := l.tipID
	for {
		mb := l.blocks[id]
		h := mb.block.Header.Height
		if h < from {
			break
		}
		if h <= to {
			blocks = append(blocks, mb.block)
		}
		if h == 0 {
			break
		}
		id = mb.block.Header.Parent
	}

	for i, j := 0, len(blocks)-1; i < j; i, j = i+1, j-1 {
		blocks[i], blocks[j] = blocks[j], blocks[i]
	}
	return blocks
}

// OrphanCount returns the number of blocks buffered awaiting a parent.
func (l *Ledger) OrphanCount() int {
	return l.orphans.Len()
}
