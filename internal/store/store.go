package store

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/google/orderedcode"
	dbm "github.com/tendermint/tm-db"

	"github.com/wisdomchain/wisdom/types"
)

// ErrMissingParent is returned by WriteBlock for a block whose parent is
// not stored.
var ErrMissingParent = errors.New("parent block not found")

/*
ChainStore is a simple low level store for blocks.

There are three types of information stored:
 - Block:      every block ever written, keyed by hash
 - Canonical:  the hash at each height of the chain ending at the best block
 - Best:       the hash of the best block

The best block is the highest stored block; on equal height the first one
written wins. Blocks deeper than the configured number of confirmations
below it are final.

// NOTE: ChainStore methods will panic if they encounter errors
// deserializing loaded data, indicating probable corruption on disk.
*/
type ChainStore struct {
	db            dbm.DB
	confirmations int64

	mtx       sync.RWMutex
	genesis   *types.Block
	best      *types.Block
	listeners []func(*types.Block)
}

// NewChainStore opens the chain kept in db, initializing it with genesis
// when empty. A store that was initialized with a different genesis is
// rejected.
func NewChainStore(db dbm.DB, genesis *types.Block, confirmations int64) (*ChainStore, error) {
	cs := &ChainStore{
		db:            db,
		confirmations: confirmations,
		genesis:       genesis,
	}

	stored := cs.BlockAtHeight(0)
	switch {
	case stored == nil:
		batch := db.NewBatch()
		defer batch.Close()
		if err := cs.saveBlockToBatch(batch, genesis); err != nil {
			return nil, err
		}
		if err := setCanonical(batch, genesis); err != nil {
			return nil, err
		}
		if err := batch.Set(bestKey(), genesis.Hash()); err != nil {
			return nil, err
		}
		if err := batch.WriteSync(); err != nil {
			return nil, err
		}
		cs.best = genesis
	case !bytes.Equal(stored.Hash(), genesis.Hash()):
		return nil, fmt.Errorf("stored genesis %X does not match configured genesis %X",
			stored.Hash(), genesis.Hash())
	default:
		bestHash, err := db.Get(bestKey())
		if err != nil {
			return nil, err
		}
		cs.best = cs.BlockByHash(bestHash)
		if cs.best == nil {
			return nil, fmt.Errorf("best block %X missing from store", bestHash)
		}
	}

	return cs, nil
}

// OnNewBlock registers fn to be called after every block durably written.
// Listeners run on the writer's goroutine and must not block.
func (cs *ChainStore) OnNewBlock(fn func(*types.Block)) {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()
	cs.listeners = append(cs.listeners, fn)
}

// Genesis returns the genesis block.
func (cs *ChainStore) Genesis() *types.Block {
	return cs.genesis
}

// BestBlock returns the tip of the canonical chain.
func (cs *ChainStore) BestBlock() *types.Block {
	cs.mtx.RLock()
	defer cs.mtx.RUnlock()
	return cs.best
}

// LastConfirmed returns the canonical block `confirmations` below the best
// block, or genesis.
func (cs *ChainStore) LastConfirmed() *types.Block {
	height := cs.BestBlock().Height - cs.confirmations
	if height <= 0 {
		return cs.genesis
	}
	if b := cs.BlockAtHeight(height); b != nil {
		return b
	}
	return cs.genesis
}

// HasBlock reports whether a block with the given hash was written.
func (cs *ChainStore) HasBlock(hash []byte) bool {
	ok, err := cs.db.Has(blockKey(hash))
	if err != nil {
		panic(err)
	}
	return ok
}

// BlockByHash returns the block with the given hash.
// If no block is found for that hash, it returns nil.
func (cs *ChainStore) BlockByHash(hash []byte) *types.Block {
	bz, err := cs.db.Get(blockKey(hash))
	if err != nil {
		panic(err)
	}
	if len(bz) == 0 {
		return nil
	}
	block := new(types.Block)
	if err := types.Unmarshal(bz, block); err != nil {
		panic(fmt.Errorf("error reading block %X: %w", hash, err))
	}
	return block
}

// BlockAtHeight returns the canonical block at height, or nil.
func (cs *ChainStore) BlockAtHeight(height int64) *types.Block {
	hash, err := cs.db.Get(canonicalKey(height))
	if err != nil {
		panic(err)
	}
	if len(hash) == 0 {
		return nil
	}
	return cs.BlockByHash(hash)
}

// BlocksBetween returns the canonical blocks in [start, stop], ascending.
// The range is cut short at the first missing height.
func (cs *ChainStore) BlocksBetween(start, stop int64) []*types.Block {
	if start < 0 {
		start = 0
	}
	if best := cs.BestBlock().Height; stop > best {
		stop = best
	}
	if stop < start {
		return nil
	}

	iter, err := cs.db.Iterator(canonicalKey(start), canonicalKey(stop+1))
	if err != nil {
		panic(err)
	}
	defer iter.Close()

	var (
		blocks []*types.Block
		next   = start
	)
	for ; iter.Valid(); iter.Next() {
		height, err := decodeCanonicalKey(iter.Key())
		if err != nil {
			panic(err)
		}
		if height != next {
			break
		}
		b := cs.BlockByHash(iter.Value())
		if b == nil {
			break
		}
		blocks = append(blocks, b)
		next++
	}
	if err := iter.Error(); err != nil {
		panic(err)
	}
	return blocks
}

// WriteBlock persists block. It returns false if the block was already
// stored. When block becomes the new best block the canonical index is
// rewritten down to the fork point.
func (cs *ChainStore) WriteBlock(block *types.Block) (bool, error) {
	if block == nil {
		return false, errors.New("ChainStore can only save a non-nil block")
	}

	cs.mtx.Lock()
	if cs.HasBlock(block.Hash()) {
		cs.mtx.Unlock()
		return false, nil
	}
	parent := cs.BlockByHash(block.HashPrevBlock)
	if parent == nil || parent.Height+1 != block.Height {
		cs.mtx.Unlock()
		return false, fmt.Errorf("%w: %X at height %d", ErrMissingParent, block.HashPrevBlock, block.Height-1)
	}

	batch := cs.db.NewBatch()
	defer batch.Close()

	if err := cs.saveBlockToBatch(batch, block); err != nil {
		cs.mtx.Unlock()
		return false, err
	}
	newBest := block.Height > cs.best.Height
	if newBest {
		if err := cs.reorgToBatch(batch, block); err != nil {
			cs.mtx.Unlock()
			return false, err
		}
		if err := batch.Set(bestKey(), block.Hash()); err != nil {
			cs.mtx.Unlock()
			return false, err
		}
	}
	if err := batch.WriteSync(); err != nil {
		cs.mtx.Unlock()
		return false, err
	}
	if newBest {
		cs.best = block
	}
	listeners := cs.listeners
	cs.mtx.Unlock()

	for _, fn := range listeners {
		fn(block)
	}
	return true, nil
}

// reorgToBatch points the canonical index at tip's ancestry, walking back
// until it meets the current canonical chain.
func (cs *ChainStore) reorgToBatch(batch dbm.Batch, tip *types.Block) error {
	for b := tip; b != nil; {
		canonical, err := cs.db.Get(canonicalKey(b.Height))
		if err != nil {
			return err
		}
		hash := b.Hash()
		if bytes.Equal(canonical, hash) {
			return nil
		}
		if err := setCanonical(batch, b); err != nil {
			return err
		}
		if b.Height == 0 {
			return nil
		}
		b = cs.BlockByHash(b.HashPrevBlock)
	}
	return nil
}

func (cs *ChainStore) saveBlockToBatch(batch dbm.Batch, block *types.Block) error {
	bz, err := types.Marshal(block)
	if err != nil {
		return fmt.Errorf("unable to marshal block: %w", err)
	}
	return batch.Set(blockKey(block.Hash()), bz)
}

func setCanonical(batch dbm.Batch, block *types.Block) error {
	return batch.Set(canonicalKey(block.Height), block.Hash())
}

func (cs *ChainStore) Close() error {
	return cs.db.Close()
}

//---------------------------------- KEY ENCODING -----------------------------------------

// key prefixes
const (
	prefixBlock     = int64(0)
	prefixCanonical = int64(1)
	prefixBest      = int64(2)
)

func blockKey(hash []byte) []byte {
	key, err := orderedcode.Append(nil, prefixBlock, string(hash))
	if err != nil {
		panic(err)
	}
	return key
}

func canonicalKey(height int64) []byte {
	key, err := orderedcode.Append(nil, prefixCanonical, height)
	if err != nil {
		panic(err)
	}
	return key
}

func decodeCanonicalKey(key []byte) (height int64, err error) {
	var prefix int64
	remaining, err := orderedcode.Parse(string(key), &prefix, &height)
	if err != nil {
		return
	}
	if len(remaining) != 0 {
		return -1, fmt.Errorf("expected complete key but got remainder: %s", remaining)
	}
	if prefix != prefixCanonical {
		return -1, fmt.Errorf("incorrect prefix. Expected %v, got %v", prefixCanonical, prefix)
	}
	return
}

func bestKey() []byte {
	key, err := orderedcode.Append(nil, prefixBest)
	if err != nil {
		panic(err)
	}
	return key
}
