package consensus

import (
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/wisdomchain/wisdom/types"
)

// ChainReader looks up stored blocks by hash.
type ChainReader interface {
	BlockByHash(hash []byte) *types.Block
}

// StoreEraState derives era proposer snapshots from stored blocks. The
// snapshot of an era is the list of distinct coinbase beneficiaries of the
// era that closed at its boundary block, in order of first appearance,
// capped at maxProposers. Snapshots are keyed by boundary hash, so forks
// never share one.
type StoreEraState struct {
	chain        ChainReader
	blocksPerEra int64
	maxProposers int
	cache        *lru.Cache

	// block hash to the boundary block of its era
	boundaries *lru.Cache
}

var _ EraStateSource = (*StoreEraState)(nil)

// NewStoreEraState returns an era state source reading chain.
func NewStoreEraState(chain ChainReader, blocksPerEra int64, maxProposers, cacheSize int) (*StoreEraState, error) {
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("era cache: %w", err)
	}
	boundaries, err := lru.New(2 * int(blocksPerEra))
	if err != nil {
		return nil, fmt.Errorf("boundary cache: %w", err)
	}
	return &StoreEraState{
		chain:        chain,
		blocksPerEra: blocksPerEra,
		maxProposers: maxProposers,
		cache:        cache,
		boundaries:   boundaries,
	}, nil
}

// Proposers returns the snapshot of the era parent's child belongs to. A
// boundary parent yields its own snapshot; otherwise the branch is walked
// back to the running era's boundary. Missing ancestors yield nil.
func (s *StoreEraState) Proposers(parent *types.Block) []string {
	boundary := s.boundaryOf(parent)
	if boundary == nil {
		return nil
	}
	return s.snapshot(boundary)
}

// boundaryOf walks parent's branch back to the boundary of its era. Each
// block passed on the way remembers the boundary, so the next height stops
// after a single read.
func (s *StoreEraState) boundaryOf(parent *types.Block) *types.Block {
	target := eraBoundaryHeight(parent.Height, s.blocksPerEra)
	var visited []string
	b := parent
	for b != nil && b.Height > target {
		key := hex.EncodeToString(b.Hash())
		if v, ok := s.boundaries.Get(key); ok {
			b = v.(*types.Block)
			break
		}
		visited = append(visited, key)
		b = s.chain.BlockByHash(b.HashPrevBlock)
	}
	if b == nil {
		return nil
	}
	for _, key := range visited {
		s.boundaries.Add(key, b)
	}
	return b
}

func (s *StoreEraState) snapshot(boundary *types.Block) []string {
	key := hex.EncodeToString(boundary.Hash())
	if v, ok := s.cache.Get(key); ok {
		return v.([]string)
	}

	// collect the era newest first, then keep the oldest occurrence
	era := make([]*types.Block, 0, s.blocksPerEra)
	for b := boundary; b != nil && int64(len(era)) < s.blocksPerEra; {
		era = append(era, b)
		if b.Height == 0 {
			break
		}
		b = s.chain.BlockByHash(b.HashPrevBlock)
	}

	seen := make(map[string]struct{})
	var res []string
	for i := len(era) - 1; i >= 0 && len(res) < s.maxProposers; i-- {
		beneficiary := era[i].Beneficiary()
		if beneficiary == nil {
			continue
		}
		pkh := types.PubkeyHashHex(beneficiary)
		if _, ok := seen[pkh]; ok {
			continue
		}
		seen[pkh] = struct{}{}
		res = append(res, pkh)
	}
	s.cache.Add(key, res)
	return res
}
