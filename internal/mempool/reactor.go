package mempool

import (
	"errors"

	"github.com/wisdomchain/wisdom/internal/p2p"
	"github.com/wisdomchain/wisdom/internal/validation"
	"github.com/wisdomchain/wisdom/libs/log"
	"github.com/wisdomchain/wisdom/types"
)

// TxValidator checks a single transaction.
type TxValidator interface {
	ValidateTransaction(tx *types.Transaction) error
}

var _ p2p.Handler = (*Reactor)(nil)

// Reactor admits gossiped transactions into the pool. A TRANSACTIONS
// message that brings at least one new valid transaction is relayed.
type Reactor struct {
	logger    log.Logger
	metrics   *Metrics
	validator TxValidator
	pool      *TxPool
}

// NewReactor returns a reactor admitting transactions that pass validator
// into pool.
func NewReactor(logger log.Logger, metrics *Metrics, validator TxValidator, pool *TxPool) *Reactor {
	return &Reactor{logger: logger, metrics: metrics, validator: validator, pool: pool}
}

// Handle implements p2p.Handler.
func (r *Reactor) Handle(ctx *p2p.Context) {
	msg, ok := ctx.Message().(*p2p.Transactions)
	if !ok {
		return
	}
	added := 0
	for _, tx := range msg.Transactions {
		if err := r.validator.ValidateTransaction(tx); err != nil {
			r.metrics.FailedTxs.With("reason", reason(err)).Add(1)
			r.logger.Debug("rejected transaction", "peer", ctx.Remote(), "err", err)
			continue
		}
		if r.pool.Add(tx) {
			added++
		}
	}
	if added > 0 {
		ctx.Relay()
	}
}

func reason(err error) string {
	var kind validation.ErrorKind
	if errors.As(err, &kind) {
		return string(kind)
	}
	return "unknown"
}
