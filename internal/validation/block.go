package validation

import (
	"bytes"
	"fmt"
	"time"

	"github.com/wisdomchain/wisdom/internal/consensus"
	"github.com/wisdomchain/wisdom/types"
)

// ChainReader is the read-only view of the chain the gate needs.
type ChainReader interface {
	Genesis() *types.Block
	BestBlock() *types.Block
	BlockByHash(hash []byte) *types.Block
}

// ProposerSchedule elects the proposer of the slot containing timestamp.
type ProposerSchedule interface {
	Proposer(parent *types.Block, timestamp int64) (consensus.Proposer, bool)
}

// Gate applies the admission rules to blocks and transactions. It keeps no
// state of its own and never writes to the chain.
type Gate struct {
	chain     ChainReader
	proposers ProposerSchedule

	// maximum distance between the best height and an accepted block
	window int64
	// seconds a block timestamp may run ahead of the local clock
	blockInterval int64

	now func() time.Time
}

// NewGate returns a gate reading chain and consulting proposers.
func NewGate(chain ChainReader, proposers ProposerSchedule, window, blockInterval int64) *Gate {
	return &Gate{
		chain:         chain,
		proposers:     proposers,
		window:        window,
		blockInterval: blockInterval,
		now:           time.Now,
	}
}

// ValidateBlock runs the block rules in order and returns the first
// violation as a RuleError.
func (g *Gate) ValidateBlock(b *types.Block) error {
	if b == nil {
		return ruleError(ErrNilBlock, "null block")
	}
	best := g.chain.BestBlock()
	if abs(best.Height-b.Height) > g.window {
		return ruleError(ErrHeightOutOfRange, fmt.Sprintf(
			"the block height %d is too small or too large, current height is %d",
			b.Height, best.Height))
	}
	if err := b.ValidateBasic(); err != nil {
		return ruleError(ErrMissingFields, err.Error())
	}
	if b.Time-g.now().Unix() > g.blockInterval {
		return ruleError(ErrTimeTooNew, "the received block timestamp too large")
	}
	if b.Size() > types.MaxBlockSize {
		return ruleError(ErrBlockTooBig, "block size exceed")
	}
	genesis := g.chain.Genesis()
	if b.Height == 0 || bytes.Equal(b.Hash(), genesis.Hash()) {
		return ruleError(ErrGenesisBlock, "cannot write genesis block")
	}
	if len(b.Body) == 0 {
		return ruleError(ErrMissingBody, "missing body")
	}
	if !bytes.Equal(b.HashMerkleRoot, types.MerkleRoot(b.Body)) {
		return ruleError(ErrBadMerkleRoot, "merkle root does not match body")
	}
	if b.Version != genesis.Version {
		return ruleError(ErrVersionMismatch, "version check fail")
	}
	if !b.MeetsTarget() {
		return ruleError(ErrHighHash, "pow validate fail")
	}
	for _, tx := range b.Body {
		if err := g.ValidateTransaction(tx); err != nil {
			return err
		}
	}
	return nil
}

// ValidateTransaction checks a single transaction's fields, version and
// type specific invariants.
func (g *Gate) ValidateTransaction(tx *types.Transaction) error {
	if tx == nil {
		return ruleError(ErrTxMissingFields, "null transaction")
	}
	if err := tx.ValidateBasic(); err != nil {
		return ruleError(ErrTxMissingFields, fmt.Sprintf("missing fields: %v", err))
	}
	if tx.Version != types.DefaultTransactionVersion {
		return ruleError(ErrTxVersion, fmt.Sprintf("version invalid: %d", tx.Version))
	}
	if tx.Type == types.TxDeposit && tx.Amount != 0 {
		return ruleError(ErrDepositAmount, "the amount of deposit must be zero")
	}
	return nil
}

// ValidateProposer checks that b was produced by the proposer elected for
// its timestamp on top of its stored parent.
func (g *Gate) ValidateProposer(b *types.Block) error {
	parent := g.chain.BlockByHash(b.HashPrevBlock)
	if parent == nil {
		return ruleError(ErrMissingParent, fmt.Sprintf("parent of block %d not found", b.Height))
	}
	proposer, ok := g.proposers.Proposer(parent, b.Time)
	if !ok {
		return ruleError(ErrBadProposer, fmt.Sprintf(
			"no proposer at %d on top of block %d", b.Time, parent.Height))
	}
	if got := types.PubkeyHashHex(b.Beneficiary()); got != proposer.PubkeyHash {
		return ruleError(ErrBadProposer, fmt.Sprintf(
			"invalid proposer %s, expected %s", got, proposer.PubkeyHash))
	}
	return nil
}

func abs(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}
