package blocksync

import (
	"encoding/hex"
	"sort"

	"github.com/wisdomchain/wisdom/types"
)

// BlockCache holds a set of blocks keyed by hash together with the
// parent to children adjacency between them. A block whose parent is not
// in the cache is an initial block: the root of one locally held
// subgraph. BlockCache is not safe for concurrent use.
type BlockCache struct {
	blocks   map[string]*types.Block
	children map[string]map[string]struct{}
}

// NewBlockCache returns a cache holding blocks.
func NewBlockCache(blocks ...*types.Block) *BlockCache {
	c := &BlockCache{
		blocks:   make(map[string]*types.Block),
		children: make(map[string]map[string]struct{}),
	}
	for _, b := range blocks {
		c.Add(b)
	}
	return c
}

func hashKey(hash []byte) string { return hex.EncodeToString(hash) }

// Add inserts b. It returns false if a block with the same hash is
// already present.
func (c *BlockCache) Add(b *types.Block) bool {
	key := hashKey(b.Hash())
	if _, ok := c.blocks[key]; ok {
		return false
	}
	c.blocks[key] = b
	parent := hashKey(b.HashPrevBlock)
	kids, ok := c.children[parent]
	if !ok {
		kids = make(map[string]struct{})
		c.children[parent] = kids
	}
	kids[key] = struct{}{}
	return true
}

// Delete removes b. Its children, if any, become initial blocks.
func (c *BlockCache) Delete(b *types.Block) {
	key := hashKey(b.Hash())
	if _, ok := c.blocks[key]; !ok {
		return
	}
	delete(c.blocks, key)
	parent := hashKey(b.HashPrevBlock)
	if kids, ok := c.children[parent]; ok {
		delete(kids, key)
		if len(kids) == 0 {
			delete(c.children, parent)
		}
	}
}

// Has reports whether a block with the given hash is cached.
func (c *BlockCache) Has(hash []byte) bool {
	_, ok := c.blocks[hashKey(hash)]
	return ok
}

// Len returns the number of cached blocks.
func (c *BlockCache) Len() int { return len(c.blocks) }

// All returns every cached block ordered by height.
func (c *BlockCache) All() []*types.Block {
	res := make([]*types.Block, 0, len(c.blocks))
	for _, b := range c.blocks {
		res = append(res, b)
	}
	sortBlocks(res)
	return res
}

// Initials returns the blocks whose parent is not cached, ordered by
// height.
func (c *BlockCache) Initials() []*types.Block {
	var res []*types.Block
	for _, b := range c.blocks {
		if _, ok := c.blocks[hashKey(b.HashPrevBlock)]; !ok {
			res = append(res, b)
		}
	}
	sortBlocks(res)
	return res
}

// Descendants returns root and every cached block reachable from it
// through child links. Ancestors always come before their descendants.
func (c *BlockCache) Descendants(root *types.Block) []*types.Block {
	res := []*types.Block{root}
	for i := 0; i < len(res); i++ {
		kids := c.children[hashKey(res[i].Hash())]
		level := make([]*types.Block, 0, len(kids))
		for key := range kids {
			level = append(level, c.blocks[key])
		}
		sortBlocks(level)
		res = append(res, level...)
	}
	return res
}

// sortBlocks orders by height, breaking ties by hash so results are
// deterministic.
func sortBlocks(blocks []*types.Block) {
	sort.Slice(blocks, func(i, j int) bool {
		if blocks[i].Height != blocks[j].Height {
			return blocks[i].Height < blocks[j].Height
		}
		return hashKey(blocks[i].Hash()) < hashKey(blocks[j].Hash())
	})
}
