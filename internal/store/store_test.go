package store

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"

	"github.com/wisdomchain/wisdom/types"
)

var (
	minerA = types.PubkeyHash(bytes.Repeat([]byte{0xa}, types.PublicKeySize))
	minerB = types.PubkeyHash(bytes.Repeat([]byte{0xb}, types.PublicKeySize))
)

func newTestStore(t *testing.T, confirmations int64) (*ChainStore, *types.Block) {
	t.Helper()
	genesis := types.MakeTestGenesis(minerA, time.Unix(1_600_000_000, 0)).Block()
	cs, err := NewChainStore(dbm.NewMemDB(), genesis, confirmations)
	require.NoError(t, err)
	return cs, genesis
}

func writeAll(t *testing.T, cs *ChainStore, blocks []*types.Block) {
	t.Helper()
	for _, b := range blocks {
		written, err := cs.WriteBlock(b)
		require.NoError(t, err)
		require.True(t, written)
	}
}

func TestChainStoreGenesis(t *testing.T) {
	cs, genesis := newTestStore(t, 3)

	require.Equal(t, genesis.Hash(), cs.BestBlock().Hash())
	require.Equal(t, genesis.Hash(), cs.LastConfirmed().Hash())
	require.True(t, cs.HasBlock(genesis.Hash()))
	require.Equal(t, genesis.Hash(), cs.BlockAtHeight(0).Hash())
}

func TestChainStoreWriteAndQuery(t *testing.T) {
	cs, genesis := newTestStore(t, 3)
	chain := types.MakeTestChain(genesis, 10, minerA, 30)

	var notified []int64
	cs.OnNewBlock(func(b *types.Block) { notified = append(notified, b.Height) })

	writeAll(t, cs, chain)
	require.Len(t, notified, 10)

	require.Equal(t, chain[9].Hash(), cs.BestBlock().Hash())
	require.EqualValues(t, 7, cs.LastConfirmed().Height)

	between := cs.BlocksBetween(3, 5)
	require.Len(t, between, 3)
	for i, b := range between {
		require.EqualValues(t, 3+i, b.Height)
	}
	require.Len(t, cs.BlocksBetween(8, 100), 3, "range stops at the tip")
	require.Nil(t, cs.BlocksBetween(5, 4))
	require.Len(t, cs.BlocksBetween(9, math.MaxInt64), 2)
	require.Nil(t, cs.BlocksBetween(math.MaxInt64-1, math.MaxInt64))

	written, err := cs.WriteBlock(chain[4])
	require.NoError(t, err)
	require.False(t, written, "duplicate write")
	require.Len(t, notified, 10)
}

func TestChainStoreRejectsOrphan(t *testing.T) {
	cs, genesis := newTestStore(t, 3)
	chain := types.MakeTestChain(genesis, 2, minerA, 30)

	_, err := cs.WriteBlock(chain[1])
	require.ErrorIs(t, err, ErrMissingParent)
	require.False(t, cs.HasBlock(chain[1].Hash()))
}

func TestChainStoreReorg(t *testing.T) {
	cs, genesis := newTestStore(t, 1)
	main := types.MakeTestChain(genesis, 3, minerA, 30)
	writeAll(t, cs, main)

	// a fork from height 1 that ends up one block longer
	fork := types.MakeTestChain(main[0], 3, minerB, 31)
	writeAll(t, cs, fork[:2])
	require.Equal(t, main[2].Hash(), cs.BestBlock().Hash(), "equal height keeps the first tip")

	writeAll(t, cs, fork[2:])
	require.Equal(t, fork[2].Hash(), cs.BestBlock().Hash())
	require.Equal(t, main[0].Hash(), cs.BlockAtHeight(1).Hash())
	require.Equal(t, fork[0].Hash(), cs.BlockAtHeight(2).Hash())
	require.Equal(t, fork[1].Hash(), cs.BlockAtHeight(3).Hash())
	require.Equal(t, fork[1].Hash(), cs.LastConfirmed().Hash())

	// the stale branch is still stored
	require.True(t, cs.HasBlock(main[2].Hash()))
}

func TestChainStoreReopen(t *testing.T) {
	db := dbm.NewMemDB()
	genesis := types.MakeTestGenesis(minerA, time.Unix(1_600_000_000, 0)).Block()

	cs, err := NewChainStore(db, genesis, 3)
	require.NoError(t, err)
	chain := types.MakeTestChain(genesis, 4, minerA, 30)
	writeAll(t, cs, chain)

	reopened, err := NewChainStore(db, genesis, 3)
	require.NoError(t, err)
	require.Equal(t, chain[3].Hash(), reopened.BestBlock().Hash())

	other := types.MakeTestGenesis(minerB, time.Unix(1_600_000_000, 0)).Block()
	_, err = NewChainStore(db, other, 3)
	require.Error(t, err)
}
