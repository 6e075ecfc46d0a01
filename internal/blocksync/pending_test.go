package blocksync

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisdomchain/wisdom/config"
	"github.com/wisdomchain/wisdom/internal/consensus"
	"github.com/wisdomchain/wisdom/internal/store"
	"github.com/wisdomchain/wisdom/internal/validation"
	"github.com/wisdomchain/wisdom/libs/log"
	"github.com/wisdomchain/wisdom/types"
)

const (
	testWindow   = 16
	testInterval = 10
)

func newTestGate(t *testing.T, cs *store.ChainStore) *validation.Gate {
	t.Helper()
	cfg := config.TestConsensusConfig()
	cfg.BlockInterval = testInterval
	factory, err := consensus.NewFactory(cfg, []string{
		types.PubkeyHashHex(minerA),
		types.PubkeyHashHex(minerB),
	}, nil)
	require.NoError(t, err)
	return validation.NewGate(cs, factory, testWindow, testInterval)
}

// proposedChain extends parent by n blocks whose beneficiaries follow the
// two-proposer rotation, so every block passes the proposer check.
func proposedChain(parent *types.Block, n int) []*types.Block {
	miners := [][]byte{minerA, minerB}
	next := 0
	if parent.Height > 0 && string(parent.Beneficiary()) == string(minerA) {
		next = 1
	}
	res := make([]*types.Block, 0, n)
	for i := 0; i < n; i++ {
		b := types.MakeTestBlock(parent, miners[next], parent.Time+testInterval)
		res = append(res, b)
		parent = b
		next = 1 - next
	}
	return res
}

func newTestPending(t *testing.T, size int) (*PendingBlocks, *store.ChainStore) {
	t.Helper()
	cs := newTestChainStore(t, 1)
	return NewPendingBlocks(log.NewNopLogger(), NopMetrics(), newTestGate(t, cs), cs, size), cs
}

func TestPendingProcess(t *testing.T) {
	p, cs := newTestPending(t, 8)
	chain := proposedChain(cs.Genesis(), 3)

	p.Process(chain)
	assert.EqualValues(t, 3, cs.BestBlock().Height)

	// already stored blocks are skipped silently
	p.Process(chain)
	assert.EqualValues(t, 3, cs.BestBlock().Height)
}

func TestPendingRejectsDescendants(t *testing.T) {
	p, cs := newTestPending(t, 8)
	chain := proposedChain(cs.Genesis(), 1)
	// minerA may not follow itself within one slot
	bad := types.MakeTestBlock(chain[0], minerA, chain[0].Time+testInterval)
	child := proposedChain(bad, 2)

	p.Process(append(append(chain, bad), child...))
	assert.EqualValues(t, 1, cs.BestBlock().Height)
	assert.False(t, cs.HasBlock(bad.Hash()))
	for _, b := range child {
		assert.False(t, cs.HasBlock(b.Hash()))
	}

	// a sibling of the rejected block still goes through
	good := proposedChain(chain[0], 1)
	p.Process(good)
	assert.EqualValues(t, 2, cs.BestBlock().Height)
}

func TestPendingRejectsInvalidBlock(t *testing.T) {
	p, cs := newTestPending(t, 8)
	b := proposedChain(cs.Genesis(), 1)[0]
	b.Body = nil

	p.Process([]*types.Block{b})
	assert.EqualValues(t, 0, cs.BestBlock().Height)
}

func TestPendingQueueFull(t *testing.T) {
	p, cs := newTestPending(t, 1)
	chain := proposedChain(cs.Genesis(), 2)

	p.AddPendingBlocks(nil)
	require.Len(t, p.queue, 0)
	p.AddPendingBlocks(chain[:1])
	p.AddPendingBlocks(chain[1:])
	require.Len(t, p.queue, 1)
}

func TestPendingService(t *testing.T) {
	defer leaktest.Check(t)()

	p, cs := newTestPending(t, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Start(ctx))

	chain := proposedChain(cs.Genesis(), 4)
	p.AddPendingBlocks(chain[:2])
	p.AddPendingBlocks(chain[2:])
	require.Eventually(t, func() bool {
		return cs.BestBlock().Height == 4
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, p.Stop())
	p.Wait()
}
