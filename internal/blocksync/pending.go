package blocksync

import (
	"context"
	"errors"

	"github.com/wisdomchain/wisdom/internal/validation"
	"github.com/wisdomchain/wisdom/libs/log"
	"github.com/wisdomchain/wisdom/libs/service"
	"github.com/wisdomchain/wisdom/types"
)

// BlockValidator admits blocks before they are written.
type BlockValidator interface {
	ValidateBlock(b *types.Block) error
	ValidateProposer(b *types.Block) error
}

// BlockWriter persists admitted blocks.
type BlockWriter interface {
	HasBlock(hash []byte) bool
	WriteBlock(b *types.Block) (bool, error)
}

var (
	_ PendingQueue    = (*PendingBlocks)(nil)
	_ service.Service = (*PendingBlocks)(nil)
)

// PendingBlocks consumes batches of attachable blocks: each block is
// validated, checked against the proposer schedule and written. Writes
// notify the store listeners, which in turn promote orphans.
type PendingBlocks struct {
	service.BaseService
	logger  log.Logger
	metrics *Metrics

	validator BlockValidator
	writer    BlockWriter

	queue  chan []*types.Block
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPendingBlocks returns a consumer with room for size queued batches.
func NewPendingBlocks(
	logger log.Logger,
	metrics *Metrics,
	validator BlockValidator,
	writer BlockWriter,
	size int,
) *PendingBlocks {
	p := &PendingBlocks{
		logger:    logger,
		metrics:   metrics,
		validator: validator,
		writer:    writer,
		queue:     make(chan []*types.Block, size),
		done:      make(chan struct{}),
	}
	p.BaseService = *service.NewBaseService(logger, "PendingBlocks", p)
	return p
}

// AddPendingBlocks queues a batch without blocking. A batch that does not
// fit is dropped; its blocks will be offered again by peers.
func (p *PendingBlocks) AddPendingBlocks(blocks []*types.Block) {
	if len(blocks) == 0 {
		return
	}
	select {
	case p.queue <- blocks:
		p.metrics.BlocksAccepted.Add(float64(len(blocks)))
	default:
		p.metrics.PendingDropped.Add(1)
		p.logger.Error("pending queue full, dropping blocks",
			"from", blocks[0].Height, "count", len(blocks))
	}
}

// OnStart starts the consumer goroutine.
func (p *PendingBlocks) OnStart(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)
	go p.run(ctx)
	return nil
}

// OnStop stops the consumer and waits for the batch in progress.
func (p *PendingBlocks) OnStop() {
	p.cancel()
	<-p.done
}

func (p *PendingBlocks) run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-p.queue:
			p.Process(batch)
		}
	}
}

// Process validates and writes batch in order. Descendants of a rejected
// block are skipped.
func (p *PendingBlocks) Process(batch []*types.Block) {
	rejected := make(map[string]struct{})
	for _, b := range batch {
		hash := b.Hash()
		if _, ok := rejected[hashKey(b.HashPrevBlock)]; ok {
			rejected[hashKey(hash)] = struct{}{}
			p.metrics.BlocksRejected.With("reason", "invalid_ancestor").Add(1)
			continue
		}
		if p.writer.HasBlock(hash) {
			continue
		}
		if err := p.admit(b); err != nil {
			rejected[hashKey(hash)] = struct{}{}
			p.metrics.BlocksRejected.With("reason", reason(err)).Add(1)
			p.logger.Info("rejected block", "height", b.Height, "hash", hash, "err", err)
			continue
		}
		written, err := p.writer.WriteBlock(b)
		if err != nil {
			rejected[hashKey(hash)] = struct{}{}
			p.logger.Error("failed to write block", "height", b.Height, "hash", hash, "err", err)
			continue
		}
		if written {
			p.metrics.BlocksWritten.Add(1)
			p.metrics.Height.Set(float64(b.Height))
			p.logger.Debug("wrote block", "height", b.Height, "hash", hash)
		}
	}
}

func (p *PendingBlocks) admit(b *types.Block) error {
	if err := p.validator.ValidateBlock(b); err != nil {
		return err
	}
	return p.validator.ValidateProposer(b)
}

func reason(err error) string {
	var kind validation.ErrorKind
	if errors.As(err, &kind) {
		return string(kind)
	}
	return "unknown"
}
