package mempool

import (
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/wisdomchain/wisdom/libs/log"
	"github.com/wisdomchain/wisdom/types"
)

// TxPool holds gossiped transactions waiting to be included in a block.
// Once full, the least recently added transaction is evicted. TxPool is
// safe for concurrent use.
type TxPool struct {
	logger  log.Logger
	metrics *Metrics
	txs     *lru.Cache
}

// NewTxPool returns a pool holding at most size transactions.
func NewTxPool(logger log.Logger, metrics *Metrics, size int) (*TxPool, error) {
	txs, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("tx pool: %w", err)
	}
	return &TxPool{logger: logger, metrics: metrics, txs: txs}, nil
}

func txKey(hash []byte) string { return hex.EncodeToString(hash) }

// Add inserts tx. It returns false if tx is already pooled.
func (p *TxPool) Add(tx *types.Transaction) bool {
	ok, evicted := p.txs.ContainsOrAdd(txKey(tx.Hash()), tx)
	if ok {
		return false
	}
	if evicted {
		p.metrics.EvictedTxs.Add(1)
	}
	p.metrics.Size.Set(float64(p.txs.Len()))
	return true
}

// Has reports whether a transaction with the given hash is pooled.
func (p *TxPool) Has(hash []byte) bool {
	return p.txs.Contains(txKey(hash))
}

// Get returns the pooled transaction with the given hash, or nil.
func (p *TxPool) Get(hash []byte) *types.Transaction {
	v, ok := p.txs.Peek(txKey(hash))
	if !ok {
		return nil
	}
	return v.(*types.Transaction)
}

// Size returns the number of pooled transactions.
func (p *TxPool) Size() int { return p.txs.Len() }

// Txs returns the pooled transactions, oldest first.
func (p *TxPool) Txs() []*types.Transaction {
	keys := p.txs.Keys()
	res := make([]*types.Transaction, 0, len(keys))
	for _, k := range keys {
		if v, ok := p.txs.Peek(k); ok {
			res = append(res, v.(*types.Transaction))
		}
	}
	return res
}

// Update drops the transactions included in block.
func (p *TxPool) Update(block *types.Block) {
	removed := 0
	for _, tx := range block.Body {
		if p.txs.Remove(txKey(tx.Hash())) {
			removed++
		}
	}
	p.metrics.Size.Set(float64(p.txs.Len()))
	if removed > 0 {
		p.logger.Debug("removed included transactions", "height", block.Height, "count", removed)
	}
}
