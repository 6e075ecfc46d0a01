package blocksync

import (
	"bytes"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/wisdomchain/wisdom/internal/p2p"
	"github.com/wisdomchain/wisdom/libs/log"
	"github.com/wisdomchain/wisdom/types"
)

// Chain is the storage view the sync protocol serves from.
type Chain interface {
	ChainReader
	Genesis() *types.Block
	BlocksBetween(start, stop int64) []*types.Block
}

var _ p2p.Handler = (*Reactor)(nil)

// Reactor is the pipeline handler of the sync protocol. It answers status
// and block range requests, asks peers that are ahead for the blocks it
// lacks, and feeds received blocks to the orphan resolver.
type Reactor struct {
	logger log.Logger

	chain   Chain
	orphans *OrphanResolver
	pending PendingQueue

	// largest number of blocks served or requested per exchange
	maxBlocks int64
	// hashes of proposals already seen
	proposals *lru.Cache
}

// NewReactor returns a sync handler. proposalCacheSize bounds the memory of
// seen proposals.
func NewReactor(
	logger log.Logger,
	chain Chain,
	orphans *OrphanResolver,
	pending PendingQueue,
	maxBlocks int64,
	proposalCacheSize int,
) (*Reactor, error) {
	if maxBlocks <= 0 {
		return nil, fmt.Errorf("max blocks per transfer must be positive, got %d", maxBlocks)
	}
	proposals, err := lru.New(proposalCacheSize)
	if err != nil {
		return nil, err
	}
	return &Reactor{
		logger:    logger,
		chain:     chain,
		orphans:   orphans,
		pending:   pending,
		maxBlocks: maxBlocks,
		proposals: proposals,
	}, nil
}

// Handle implements p2p.Handler.
func (r *Reactor) Handle(ctx *p2p.Context) {
	switch msg := ctx.Message().(type) {
	case p2p.GetStatus:
		best := r.chain.BestBlock()
		ctx.Respond(&p2p.Status{
			BestHeight:  best.Height,
			BestHash:    best.Hash(),
			GenesisHash: r.chain.Genesis().Hash(),
		})

	case *p2p.Status:
		r.handleStatus(ctx, msg)

	case *p2p.GetBlocks:
		ctx.Respond(&p2p.Blocks{Blocks: r.blocksFor(msg)})

	case *p2p.Blocks:
		r.submit(msg.Blocks)

	case *p2p.Proposal:
		if msg.Block == nil {
			return
		}
		if seen, _ := r.proposals.ContainsOrAdd(hashKey(msg.Block.Hash()), struct{}{}); seen {
			return
		}
		r.logger.Debug("received proposal", "height", msg.Block.Height, "hash", msg.Block.Hash(), "from", ctx.Remote())
		r.submit([]*types.Block{msg.Block})
		ctx.Relay()
	}
}

func (r *Reactor) handleStatus(ctx *p2p.Context, status *p2p.Status) {
	if !bytes.Equal(status.GenesisHash, r.chain.Genesis().Hash()) {
		r.logger.Info("peer is on another chain", "peer", ctx.Remote(), "genesis", status.GenesisHash)
		ctx.Block()
		ctx.Stop()
		return
	}
	if status.BestHeight <= r.chain.BestBlock().Height {
		return
	}
	start := r.chain.LastConfirmed().Height + 1
	stop := status.BestHeight
	if stop-start >= r.maxBlocks {
		stop = start + r.maxBlocks - 1
	}
	r.logger.Debug("peer is ahead, requesting blocks", "peer", ctx.Remote(), "start", start, "stop", stop)
	ctx.Respond(&p2p.GetBlocks{Start: start, Stop: stop})
}

// blocksFor returns the canonical blocks of the requested range, cut to
// maxBlocks at the end named by the request. Negative starts are refused.
func (r *Reactor) blocksFor(req *p2p.GetBlocks) []*types.Block {
	start, stop := req.Start, req.Stop
	if start < 0 || stop < start {
		return nil
	}
	if stop-start >= r.maxBlocks {
		if req.ClipFromStop {
			start = stop - r.maxBlocks + 1
		} else {
			stop = start + r.maxBlocks - 1
		}
	}
	return r.chain.BlocksBetween(start, stop)
}

func (r *Reactor) submit(blocks []*types.Block) {
	if writable := r.orphans.Submit(blocks); len(writable) > 0 {
		r.pending.AddPendingBlocks(writable)
	}
}
