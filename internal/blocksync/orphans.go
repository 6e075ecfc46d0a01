package blocksync

import (
	"sync"

	"github.com/wisdomchain/wisdom/libs/log"
	"github.com/wisdomchain/wisdom/types"
)

// ChainReader is the storage view the orphan resolver reads. It never
// writes through it.
type ChainReader interface {
	HasBlock(hash []byte) bool
	BestBlock() *types.Block
	LastConfirmed() *types.Block
}

// PendingQueue accepts batches of blocks that attach to stored history.
// Batches are ordered ancestor first.
type PendingQueue interface {
	AddPendingBlocks(blocks []*types.Block)
}

// OrphanResolver buffers blocks whose parent is unknown and releases them
// once the missing ancestor is written.
type OrphanResolver struct {
	logger  log.Logger
	metrics *Metrics

	chain   ChainReader
	pending PendingQueue
	// orphans further than window from the best height are dropped
	window int64

	mtx     sync.RWMutex
	orphans *BlockCache
}

// NewOrphanResolver returns an empty resolver.
func NewOrphanResolver(
	chain ChainReader,
	pending PendingQueue,
	window int64,
	logger log.Logger,
	metrics *Metrics,
) *OrphanResolver {
	return &OrphanResolver{
		logger:  logger,
		metrics: metrics,
		chain:   chain,
		pending: pending,
		window:  window,
		orphans: NewBlockCache(),
	}
}

// Submit splits blocks into subgraphs. Those rooted on a stored block are
// returned, ancestor first, for writing. The rest are cached as orphans
// when close enough to the best block. Blocks at or below the last
// confirmed height are ignored.
func (o *OrphanResolver) Submit(blocks []*types.Block) []*types.Block {
	lastConfirmed := o.chain.LastConfirmed().Height
	batch := NewBlockCache()
	for _, b := range blocks {
		if b == nil || b.Height <= lastConfirmed {
			continue
		}
		batch.Add(b)
	}

	var writable []*types.Block
	o.mtx.Lock()
	defer o.mtx.Unlock()
	best := o.chain.BestBlock().Height
	for _, init := range batch.Initials() {
		descendants := batch.Descendants(init)
		if o.chain.HasBlock(init.HashPrevBlock) {
			for _, b := range descendants {
				o.orphans.Delete(b)
			}
			writable = append(writable, descendants...)
			continue
		}
		for _, b := range descendants {
			if abs(best-b.Height) >= o.window {
				continue
			}
			if o.orphans.Add(b) {
				o.logger.Debug("caching orphan", "height", b.Height, "hash", b.Hash())
			}
		}
	}
	o.metrics.Orphans.Set(float64(o.orphans.Len()))
	return writable
}

// Promote hands every cached subgraph whose root now has a stored parent
// to the pending queue and drops it from the cache.
func (o *OrphanResolver) Promote() {
	var batches [][]*types.Block
	o.mtx.Lock()
	for _, init := range o.orphans.Initials() {
		if !o.chain.HasBlock(init.HashPrevBlock) {
			continue
		}
		descendants := o.orphans.Descendants(init)
		for _, b := range descendants {
			o.orphans.Delete(b)
		}
		batches = append(batches, descendants)
	}
	o.metrics.Orphans.Set(float64(o.orphans.Len()))
	o.mtx.Unlock()

	for _, batch := range batches {
		o.logger.Debug("orphans attached", "from", batch[0].Height, "count", len(batch))
		o.pending.AddPendingBlocks(batch)
	}
}

// Sweep drops cached blocks that are already stored or at or below the
// last confirmed height.
func (o *OrphanResolver) Sweep() {
	lastConfirmed := o.chain.LastConfirmed().Height
	o.mtx.Lock()
	defer o.mtx.Unlock()
	for _, b := range o.orphans.All() {
		if b.Height <= lastConfirmed || o.chain.HasBlock(b.Hash()) {
			o.orphans.Delete(b)
		}
	}
	o.metrics.Orphans.Set(float64(o.orphans.Len()))
}

// Has reports whether a block is cached as an orphan.
func (o *OrphanResolver) Has(hash []byte) bool {
	o.mtx.RLock()
	defer o.mtx.RUnlock()
	return o.orphans.Has(hash)
}

// Len returns the number of cached orphans.
func (o *OrphanResolver) Len() int {
	o.mtx.RLock()
	defer o.mtx.RUnlock()
	return o.orphans.Len()
}

// Orphans returns the cached blocks ordered by height.
func (o *OrphanResolver) Orphans() []*types.Block {
	o.mtx.RLock()
	defer o.mtx.RUnlock()
	return o.orphans.All()
}

func abs(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}
