package blocksync

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"
	"pgregory.net/rapid"

	"github.com/wisdomchain/wisdom/internal/store"
	"github.com/wisdomchain/wisdom/libs/log"
	"github.com/wisdomchain/wisdom/types"
)

// pendingRecorder is a PendingQueue that keeps every batch.
type pendingRecorder struct {
	mtx     sync.Mutex
	batches [][]*types.Block
}

func (p *pendingRecorder) AddPendingBlocks(blocks []*types.Block) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.batches = append(p.batches, blocks)
}

func (p *pendingRecorder) take() [][]*types.Block {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	res := p.batches
	p.batches = nil
	return res
}

func newTestChainStore(t require.TestingT, confirmations int64) *store.ChainStore {
	cs, err := store.NewChainStore(dbm.NewMemDB(), testGenesis(), confirmations)
	require.NoError(t, err)
	return cs
}

func newTestResolver(t *testing.T, window int64) (*OrphanResolver, *store.ChainStore, *pendingRecorder) {
	t.Helper()
	cs := newTestChainStore(t, 1)
	pending := &pendingRecorder{}
	return NewOrphanResolver(cs, pending, window, log.NewNopLogger(), NopMetrics()), cs, pending
}

func writeBlocks(t *testing.T, cs *store.ChainStore, blocks ...*types.Block) {
	t.Helper()
	for _, b := range blocks {
		ok, err := cs.WriteBlock(b)
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestOrphanSubmitAttachedChain(t *testing.T) {
	o, cs, _ := newTestResolver(t, 16)
	chain := types.MakeTestChain(cs.Genesis(), 3, minerA, 10)

	// submission order does not matter
	writable := o.Submit([]*types.Block{chain[2], chain[0], chain[1]})
	assert.Equal(t, []int64{1, 2, 3}, heights(writable))
	assert.Zero(t, o.Len())
}

func TestOrphanPromote(t *testing.T) {
	o, cs, pending := newTestResolver(t, 16)
	chain := types.MakeTestChain(cs.Genesis(), 3, minerA, 10)

	require.Empty(t, o.Submit(chain[1:]))
	require.Equal(t, 2, o.Len())
	orphans := o.Orphans()
	assert.Equal(t, []int64{2, 3}, heights(orphans))

	// parent still missing
	o.Promote()
	require.Empty(t, pending.take())

	writable := o.Submit(chain[:1])
	require.Equal(t, []int64{1}, heights(writable))
	writeBlocks(t, cs, writable...)

	o.Promote()
	batches := pending.take()
	require.Len(t, batches, 1)
	assert.Equal(t, []int64{2, 3}, heights(batches[0]))
	assert.Zero(t, o.Len())

	// idempotent
	o.Promote()
	require.Empty(t, pending.take())
}

func TestOrphanPromoteOnWrite(t *testing.T) {
	o, cs, pending := newTestResolver(t, 16)
	cs.OnNewBlock(func(*types.Block) { o.Promote() })
	chain := types.MakeTestChain(cs.Genesis(), 4, minerA, 10)
	fork := types.MakeTestChain(chain[1], 2, minerB, 11)

	require.Empty(t, o.Submit(append(chain[1:], fork...)))
	require.Equal(t, 5, o.Len())

	writeBlocks(t, cs, chain[0])
	batches := pending.take()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 5)
	assert.Equal(t, chain[1].Hash(), batches[0][0].Hash())
	assert.Zero(t, o.Len())
}

func TestOrphanWindow(t *testing.T) {
	o, cs, _ := newTestResolver(t, 4)
	chain := types.MakeTestChain(cs.Genesis(), 5, minerA, 10)

	require.Empty(t, o.Submit(chain[2:]))
	// only height 3 is strictly inside the window around height 0
	assert.Equal(t, []int64{3}, heights(o.Orphans()))

	// resubmitting does not duplicate
	require.Empty(t, o.Submit(chain[2:3]))
	assert.Equal(t, 1, o.Len())
}

func TestOrphanIgnoresConfirmedHeights(t *testing.T) {
	o, cs, _ := newTestResolver(t, 16)
	chain := types.MakeTestChain(cs.Genesis(), 5, minerA, 10)
	writeBlocks(t, cs, chain...)
	require.EqualValues(t, 4, cs.LastConfirmed().Height)

	fork := types.MakeTestChain(chain[2], 3, minerB, 11)
	// fork[0] sits at the confirmed height 4
	writable := o.Submit(fork)
	assert.Empty(t, writable)
	assert.Equal(t, []int64{5, 6}, heights(o.Orphans()))
}

func TestOrphanSweep(t *testing.T) {
	o, cs, _ := newTestResolver(t, 16)
	chain := types.MakeTestChain(cs.Genesis(), 6, minerA, 10)

	require.Empty(t, o.Submit([]*types.Block{chain[1], chain[2], chain[5]}))
	require.Equal(t, 3, o.Len())

	o.Sweep()
	require.Equal(t, 3, o.Len())

	// written behind the resolver's back
	writeBlocks(t, cs, chain[:3]...)
	o.Sweep()
	assert.Equal(t, []int64{6}, heights(o.Orphans()))

	o.Sweep()
	assert.Equal(t, 1, o.Len())

	// once the chain moves past it, the orphan is settled history
	writeBlocks(t, cs, chain[3:5]...)
	other := types.MakeTestChain(chain[4], 2, minerB, 11)
	writeBlocks(t, cs, other...)
	require.EqualValues(t, 6, cs.LastConfirmed().Height)
	o.Sweep()
	assert.Zero(t, o.Len())
}

func TestOrphanResolverProperties(t *testing.T) {
	rapid.Check(t, rapid.Run(&orphanModel{}))
}

var (
	fixtureOnce   sync.Once
	fixtureBlocks []*types.Block
)

// orphanFixture is a main chain of eight blocks with a four block fork
// off its third block.
func orphanFixture() []*types.Block {
	fixtureOnce.Do(func() {
		chain := types.MakeTestChain(testGenesis(), 8, minerA, 10)
		fork := types.MakeTestChain(chain[2], 4, minerB, 11)
		fixtureBlocks = append(chain, fork...)
	})
	return fixtureBlocks
}

// orphanModel submits, writes, promotes and sweeps fixture blocks in
// random order.
type orphanModel struct {
	blocks   []*types.Block
	store    *store.ChainStore
	pending  *pendingRecorder
	resolver *OrphanResolver
}

func (m *orphanModel) Init(t *rapid.T) {
	m.blocks = orphanFixture()
	m.store = newTestChainStore(t, 2)
	m.pending = &pendingRecorder{}
	m.resolver = NewOrphanResolver(m.store, m.pending, 6, log.NewNopLogger(), NopMetrics())
}

func (m *orphanModel) Submit(t *rapid.T) {
	var batch []*types.Block
	for _, b := range m.blocks {
		if rapid.Bool().Draw(t, "include").(bool) {
			batch = append(batch, b)
		}
	}
	writable := m.resolver.Submit(batch)
	for i, b := range writable {
		require.False(t, m.resolver.Has(b.Hash()), "writable block %d is cached", b.Height)
		require.True(t, m.attached(b, writable[:i]), "writable block %d out of order", b.Height)
	}
}

// Write stores a fixture block whose parent is stored.
func (m *orphanModel) Write(t *rapid.T) {
	var candidates []*types.Block
	for _, b := range m.blocks {
		if m.store.HasBlock(b.HashPrevBlock) && !m.store.HasBlock(b.Hash()) {
			candidates = append(candidates, b)
		}
	}
	if len(candidates) == 0 {
		t.Skip("nothing to write")
	}
	b := candidates[rapid.IntRange(0, len(candidates)-1).Draw(t, "block").(int)]
	_, err := m.store.WriteBlock(b)
	require.NoError(t, err)
}

func (m *orphanModel) Promote(t *rapid.T) {
	m.resolver.Promote()
	for _, init := range NewBlockCache(m.resolver.Orphans()...).Initials() {
		require.False(t, m.store.HasBlock(init.HashPrevBlock),
			"orphan %d left behind after promote", init.Height)
	}
	for _, batch := range m.pending.take() {
		for i, b := range batch {
			require.False(t, m.resolver.Has(b.Hash()))
			require.True(t, m.attached(b, batch[:i]), "promoted block %d out of order", b.Height)
		}
	}

	before := m.resolver.Len()
	m.resolver.Promote()
	require.Equal(t, before, m.resolver.Len())
	require.Empty(t, m.pending.take())
}

func (m *orphanModel) Sweep(t *rapid.T) {
	m.resolver.Sweep()
	lastConfirmed := m.store.LastConfirmed().Height
	for _, b := range m.resolver.Orphans() {
		require.Greater(t, b.Height, lastConfirmed)
		require.False(t, m.store.HasBlock(b.Hash()))
	}
	before := m.resolver.Orphans()
	m.resolver.Sweep()
	require.Equal(t, heights(before), heights(m.resolver.Orphans()))
}

func (m *orphanModel) Check(t *rapid.T) {
	orphans := m.resolver.Orphans()
	require.Len(t, orphans, m.resolver.Len())
	seen := make(map[string]bool)
	for _, b := range orphans {
		key := hashKey(b.Hash())
		require.False(t, seen[key], "orphan %d cached twice", b.Height)
		seen[key] = true
	}
}

// attached reports whether b's parent is stored or listed in earlier.
func (m *orphanModel) attached(b *types.Block, earlier []*types.Block) bool {
	if m.store.HasBlock(b.HashPrevBlock) {
		return true
	}
	for _, e := range earlier {
		if hashKey(e.Hash()) == hashKey(b.HashPrevBlock) {
			return true
		}
	}
	return false
}
