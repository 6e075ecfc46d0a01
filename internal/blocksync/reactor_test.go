package blocksync

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"

	"github.com/wisdomchain/wisdom/internal/p2p"
	"github.com/wisdomchain/wisdom/internal/store"
	"github.com/wisdomchain/wisdom/libs/log"
	"github.com/wisdomchain/wisdom/types"
)

// memNet delivers envelopes between routers in memory.
type memNet struct {
	mtx      sync.Mutex
	handlers map[string]p2p.EnvelopeHandler
	received map[string][]*p2p.Envelope
}

func newMemNet() *memNet {
	return &memNet{
		handlers: make(map[string]p2p.EnvelopeHandler),
		received: make(map[string][]*p2p.Envelope),
	}
}

func (n *memNet) Call(_ context.Context, address string, env *p2p.Envelope) (*p2p.Envelope, error) {
	n.mtx.Lock()
	h := n.handlers[address]
	n.received[address] = append(n.received[address], env)
	n.mtx.Unlock()
	if h == nil {
		return nil, fmt.Errorf("connection refused: %s", address)
	}
	return h.HandleEnvelope(env), nil
}

func (n *memNet) Disconnect(string) {}
func (n *memNet) Close() error      { return nil }

func (n *memNet) receivedBy(address string, code p2p.Code) int {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	count := 0
	for _, env := range n.received[address] {
		if env.Code == code {
			count++
		}
	}
	return count
}

// syncPending writes queued blocks on the caller's goroutine.
type syncPending struct{ p *PendingBlocks }

func (s syncPending) AddPendingBlocks(blocks []*types.Block) { s.p.Process(blocks) }

type syncNode struct {
	key     p2p.NodeKey
	self    *p2p.Peer
	store   *store.ChainStore
	orphans *OrphanResolver
	reactor *Reactor
	router  *p2p.Router
}

func newSyncNode(
	t *testing.T,
	net *memNet,
	genesis *types.Block,
	port uint16,
	maxBlocks int64,
	bootstraps ...*p2p.Peer,
) *syncNode {
	t.Helper()
	logger := log.NewNopLogger()
	key, err := p2p.GenNodeKey()
	require.NoError(t, err)
	self, err := p2p.NewPeer(key.ID(), "127.0.0.1", port)
	require.NoError(t, err)

	cs, err := store.NewChainStore(dbm.NewMemDB(), genesis, 1)
	require.NoError(t, err)
	pending := syncPending{NewPendingBlocks(logger, NopMetrics(), newTestGate(t, cs), cs, 8)}
	orphans := NewOrphanResolver(cs, pending, testWindow, logger, NopMetrics())
	cs.OnNewBlock(func(*types.Block) { orphans.Promote() })
	reactor, err := NewReactor(logger, cs, orphans, pending, maxBlocks, 64)
	require.NoError(t, err)

	var uris []string
	for _, b := range bootstraps {
		uris = append(uris, b.String())
	}
	registry, err := p2p.NewRegistry(self, p2p.RegistryOptions{Bootstraps: uris}, logger, p2p.NopMetrics())
	require.NoError(t, err)
	filter, err := p2p.NewMessageFilter(self, time.Minute, 256, logger, p2p.NopMetrics())
	require.NoError(t, err)

	router := p2p.NewRouter(logger, p2p.NopMetrics(), key, registry, net,
		[]p2p.Handler{filter, reactor, p2p.NewPeersManager(registry)},
		p2p.RouterOptions{DialTimeout: time.Second})
	net.mtx.Lock()
	net.handlers[self.Address()] = router
	net.mtx.Unlock()

	return &syncNode{key: key, self: self, store: cs, orphans: orphans, reactor: reactor, router: router}
}

func (n *syncNode) height() int64 { return n.store.BestBlock().Height }

func TestReactorSyncsFromPeerAhead(t *testing.T) {
	net := newMemNet()
	genesis := testGenesis()
	b := newSyncNode(t, net, genesis, 9001, 3)
	for _, blk := range proposedChain(genesis, 5) {
		_, err := b.store.WriteBlock(blk)
		require.NoError(t, err)
	}
	a := newSyncNode(t, net, genesis, 9000, 3, b.self)

	// three blocks per round
	a.router.Broadcast(p2p.GetStatus{})
	require.Eventually(t, func() bool { return a.height() == 3 }, 5*time.Second, 10*time.Millisecond)

	a.router.Broadcast(p2p.GetStatus{})
	require.Eventually(t, func() bool { return a.height() == 5 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, b.store.BestBlock().Hash(), a.store.BestBlock().Hash())
	assert.Zero(t, a.orphans.Len())

	// a peer that is not ahead is not asked for blocks
	requests := net.receivedBy(b.self.Address(), p2p.CodeGetBlocks)
	a.router.Broadcast(p2p.GetStatus{})
	require.Eventually(t, func() bool {
		return net.receivedBy(b.self.Address(), p2p.CodeGetStatus) == 3
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, requests, net.receivedBy(b.self.Address(), p2p.CodeGetBlocks))
}

func TestReactorBlocksForeignGenesis(t *testing.T) {
	net := newMemNet()
	b := newSyncNode(t, net, types.MakeTestGenesis(minerB, time.Unix(genesisTime+1, 0)).Block(), 9001, 3)
	a := newSyncNode(t, net, testGenesis(), 9000, 3, b.self)

	a.router.Broadcast(p2p.GetStatus{})
	require.Eventually(t, func() bool {
		return a.router.Registry().IsBlocked(b.self)
	}, 5*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 0, a.height())
}

func TestReactorProposal(t *testing.T) {
	net := newMemNet()
	genesis := testGenesis()
	c := newSyncNode(t, net, genesis, 9002, 3)
	a := newSyncNode(t, net, genesis, 9000, 3, c.self)

	originKey, err := p2p.GenNodeKey()
	require.NoError(t, err)
	origin, err := p2p.NewPeer(originKey.ID(), "127.0.0.2", 9100)
	require.NoError(t, err)

	blk := proposedChain(genesis, 1)[0]
	proposal := func(nonce uint64) *p2p.Envelope {
		body, err := types.Marshal(&p2p.Proposal{Block: blk})
		require.NoError(t, err)
		env := &p2p.Envelope{
			CreatedAt:  time.Now().Unix(),
			RemotePeer: origin.String(),
			TTL:        p2p.MaxTTL,
			Nonce:      nonce,
			Code:       p2p.CodeProposal,
			Body:       body,
		}
		require.NoError(t, env.Sign(originKey))
		return env
	}

	a.router.HandleEnvelope(proposal(1))
	require.EqualValues(t, 1, a.height())
	require.Eventually(t, func() bool { return c.height() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, net.receivedBy(c.self.Address(), p2p.CodeProposal))

	// a fresh envelope for a known proposal is not relayed again
	a.router.HandleEnvelope(proposal(2))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, net.receivedBy(c.self.Address(), p2p.CodeProposal))
}

func TestReactorBlocksFor(t *testing.T) {
	cs := newTestChainStore(t, 1)
	writeBlocks(t, cs, types.MakeTestChain(cs.Genesis(), 6, minerA, testInterval)...)
	r, err := NewReactor(log.NewNopLogger(), cs, nil, nil, 3, 8)
	require.NoError(t, err)

	testCases := []struct {
		req  p2p.GetBlocks
		want []int64
	}{
		{p2p.GetBlocks{Start: 1, Stop: 2}, []int64{1, 2}},
		{p2p.GetBlocks{Start: 1, Stop: 6}, []int64{1, 2, 3}},
		{p2p.GetBlocks{Start: 1, Stop: 6, ClipFromStop: true}, []int64{4, 5, 6}},
		{p2p.GetBlocks{Start: 5, Stop: 9}, []int64{5, 6}},
		{p2p.GetBlocks{Start: 4, Stop: 2}, nil},
		{p2p.GetBlocks{Start: -1, Stop: 2}, nil},
		{p2p.GetBlocks{Start: -1, Stop: math.MaxInt64 - 1}, nil},
		{p2p.GetBlocks{Start: 0, Stop: math.MaxInt64}, []int64{0, 1, 2}},
		{p2p.GetBlocks{Start: 0, Stop: math.MaxInt64, ClipFromStop: true}, nil},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(fmt.Sprintf("%d-%d-%v", tc.req.Start, tc.req.Stop, tc.req.ClipFromStop), func(t *testing.T) {
			got := r.blocksFor(&tc.req)
			if tc.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tc.want, heights(got))
		})
	}

	_, err = NewReactor(log.NewNopLogger(), cs, nil, nil, 0, 8)
	require.Error(t, err)
}
