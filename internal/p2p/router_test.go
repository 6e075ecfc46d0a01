package p2p

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisdomchain/wisdom/libs/log"
	"github.com/wisdomchain/wisdom/types"
)

// memTransport connects routers in memory and records every call.
type memTransport struct {
	mtx          sync.Mutex
	handlers     map[string]EnvelopeHandler
	failures     map[string]error
	sent         []sentEnvelope
	disconnected []string
}

type sentEnvelope struct {
	address string
	env     *Envelope
}

func newMemTransport() *memTransport {
	return &memTransport{
		handlers: make(map[string]EnvelopeHandler),
		failures: make(map[string]error),
	}
}

func (m *memTransport) register(address string, h EnvelopeHandler) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.handlers[address] = h
}

func (m *memTransport) fail(address string, err error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.failures[address] = err
}

func (m *memTransport) Call(ctx context.Context, address string, env *Envelope) (*Envelope, error) {
	m.mtx.Lock()
	m.sent = append(m.sent, sentEnvelope{address: address, env: env})
	err := m.failures[address]
	h := m.handlers[address]
	m.mtx.Unlock()

	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("connection refused: %s", address)
	}
	return h.HandleEnvelope(env), nil
}

func (m *memTransport) Disconnect(address string) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.disconnected = append(m.disconnected, address)
}

func (m *memTransport) Close() error { return nil }

func (m *memTransport) sentTo(address string) []*Envelope {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	var res []*Envelope
	for _, s := range m.sent {
		if s.address == address {
			res = append(res, s.env)
		}
	}
	return res
}

func (m *memTransport) reset() {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.sent = nil
}

type testNode struct {
	key      NodeKey
	self     *Peer
	registry *Registry
	router   *Router
}

func genTestKey(t *testing.T) NodeKey {
	t.Helper()
	key, err := GenNodeKey()
	require.NoError(t, err)
	return key
}

func newTestNode(
	t *testing.T,
	transport *memTransport,
	key NodeKey,
	port uint16,
	options RegistryOptions,
	extra ...Handler,
) *testNode {
	t.Helper()
	self, err := NewPeer(key.ID(), "127.0.0.1", port)
	require.NoError(t, err)

	logger := log.NewNopLogger()
	options.OnEvict = func(p *Peer) { transport.Disconnect(p.Address()) }
	registry, err := NewRegistry(self, options, logger, NopMetrics())
	require.NoError(t, err)

	filter, err := NewMessageFilter(self, time.Minute, 128, logger, NopMetrics())
	require.NoError(t, err)

	handlers := []Handler{NewMessageLogger(logger, NopMetrics()), filter}
	handlers = append(handlers, extra...)
	handlers = append(handlers, NewPeersManager(registry))

	router := NewRouter(logger, NopMetrics(), key, registry, transport, handlers, RouterOptions{
		DialTimeout:     time.Second,
		EnableDiscovery: options.EnableDiscovery,
	})
	transport.register(self.Address(), router)
	return &testNode{key: key, self: self, registry: registry, router: router}
}

// signedEnvelope builds an envelope as the peer owning key would send it.
func signedEnvelope(t *testing.T, key NodeKey, from *Peer, ttl int64, msg Message) *Envelope {
	t.Helper()
	body, err := types.Marshal(msg)
	require.NoError(t, err)
	env := &Envelope{
		CreatedAt:  time.Now().Unix(),
		RemotePeer: from.String(),
		TTL:        ttl,
		Nonce:      uint64(time.Now().UnixNano()),
		Code:       msg.Code(),
		Body:       body,
	}
	require.NoError(t, env.Sign(key))
	return env
}

func requireReply(t *testing.T, from *testNode, reply *Envelope, code Code) {
	t.Helper()
	require.NotNil(t, reply)
	require.Equal(t, code, reply.Code)
	require.NoError(t, reply.Verify(from.self))
}

func TestRouterPingTransportErrorEviction(t *testing.T) {
	transport := newMemTransport()
	node := newTestNode(t, transport, genTestKey(t), 9000, RegistryOptions{EnableDiscovery: true})

	remoteKey := genTestKey(t)
	remote, err := NewPeer(remoteKey.ID(), "127.0.0.2", 9001)
	require.NoError(t, err)

	reply := node.router.HandleEnvelope(signedEnvelope(t, remoteKey, remote, 1, Ping{}))
	requireReply(t, node, reply, CodePong)
	require.True(t, node.registry.Has(remote))
	requireScore(t, node.registry, remote, PeerScore)

	transport.fail(remote.Address(), errors.New("unreachable"))
	for _, want := range []int64{2, 1} {
		node.router.Dial(remote, Ping{})
		drain(node.router)
		requireScore(t, node.registry, remote, want)
	}

	node.router.Dial(remote, Ping{})
	drain(node.router)
	require.False(t, node.registry.Has(remote))
	_, known := node.registry.Score(remote)
	require.False(t, known)
	require.Contains(t, transport.disconnected, remote.Address())
}

func TestRouterRejectsMalformed(t *testing.T) {
	transport := newMemTransport()
	node := newTestNode(t, transport, genTestKey(t), 9000, RegistryOptions{EnableDiscovery: true})

	remoteKey := genTestKey(t)
	remote, err := NewPeer(remoteKey.ID(), "127.0.0.2", 9001)
	require.NoError(t, err)

	unknownCode := signedEnvelope(t, remoteKey, remote, 1, Ping{})
	unknownCode.Code = codeCount + 3
	require.NoError(t, unknownCode.Sign(remoteKey))

	badRemote := signedEnvelope(t, remoteKey, remote, 1, Ping{})
	badRemote.RemotePeer = "wisdom://nobody@1.2.3.4:5"

	badBody := signedEnvelope(t, remoteKey, remote, 1, &Status{})
	badBody.Body = []byte{0xc1}
	require.NoError(t, badBody.Sign(remoteKey))

	forged := signedEnvelope(t, genTestKey(t), remote, 1, Ping{})

	unsigned := signedEnvelope(t, remoteKey, remote, 1, Ping{})
	unsigned.Signature = nil

	expired := signedEnvelope(t, remoteKey, remote, 1, Ping{})
	expired.CreatedAt = time.Now().Add(-time.Hour).Unix()
	require.NoError(t, expired.Sign(remoteKey))

	fromSelf := signedEnvelope(t, node.key, node.self, 1, Ping{})

	testCases := map[string]*Envelope{
		"nil":          nil,
		"unknown code": unknownCode,
		"bad remote":   badRemote,
		"bad body":     badBody,
		"forged":       forged,
		"unsigned":     unsigned,
		"expired":      expired,
		"self":         fromSelf,
	}
	for name, env := range testCases {
		env := env
		t.Run(name, func(t *testing.T) {
			requireReply(t, node, node.router.HandleEnvelope(env), CodeNothing)
		})
	}
	require.False(t, node.registry.Has(remote))
	require.False(t, node.registry.IsBlocked(remote))
	require.Empty(t, node.registry.Discovered())
}

func TestRouterDropsDuplicates(t *testing.T) {
	transport := newMemTransport()
	node := newTestNode(t, transport, genTestKey(t), 9000, RegistryOptions{EnableDiscovery: true})

	remoteKey := genTestKey(t)
	remote, err := NewPeer(remoteKey.ID(), "127.0.0.2", 9001)
	require.NoError(t, err)

	env := signedEnvelope(t, remoteKey, remote, 1, Ping{})
	requireReply(t, node, node.router.HandleEnvelope(env), CodePong)
	requireReply(t, node, node.router.HandleEnvelope(env), CodeNothing)
	requireScore(t, node.registry, remote, PeerScore)
}

func TestRouterRecoversHandlerPanic(t *testing.T) {
	transport := newMemTransport()
	panicky := HandlerFunc(func(ctx *Context) {
		if _, ok := ctx.Message().(Ping); ok {
			panic("boom")
		}
	})
	node := newTestNode(t, transport, genTestKey(t), 9000, RegistryOptions{EnableDiscovery: true}, panicky)

	remoteKey := genTestKey(t)
	remote, err := NewPeer(remoteKey.ID(), "127.0.0.2", 9001)
	require.NoError(t, err)

	requireReply(t, node, node.router.HandleEnvelope(signedEnvelope(t, remoteKey, remote, 1, Ping{})), CodeNothing)
}

func TestRouterDispositionOrder(t *testing.T) {
	transport := newMemTransport()
	// keep then block in the same message leaves the peer blocked
	both := HandlerFunc(func(ctx *Context) {
		ctx.Keep()
		ctx.Block()
		ctx.Stop()
	})
	node := newTestNode(t, transport, genTestKey(t), 9000, RegistryOptions{EnableDiscovery: true}, both)

	remoteKey := genTestKey(t)
	remote, err := NewPeer(remoteKey.ID(), "127.0.0.2", 9001)
	require.NoError(t, err)

	requireReply(t, node, node.router.HandleEnvelope(signedEnvelope(t, remoteKey, remote, 1, Ping{})), CodeNothing)
	require.True(t, node.registry.IsBlocked(remote))
	require.False(t, node.registry.Has(remote))
}

func TestRouterRelay(t *testing.T) {
	transport := newMemTransport()
	relay := HandlerFunc(func(ctx *Context) {
		if ctx.Payload.Envelope.Code == CodeProposal {
			ctx.Relay()
		}
	})

	peers := make([]*Peer, 3)
	uris := make([]string, 3)
	for i := range peers {
		p, err := NewPeer(genTestKey(t).ID(), "127.0.0.3", uint16(9100+i))
		require.NoError(t, err)
		peers[i], uris[i] = p, p.String()
	}
	node := newTestNode(t, transport, genTestKey(t), 9000, RegistryOptions{Bootstraps: uris}, relay)

	originKey := genTestKey(t)
	origin, err := NewPeer(originKey.ID(), "127.0.0.4", 9200)
	require.NoError(t, err)

	for _, ttl := range []int64{0, -1} {
		node.router.HandleEnvelope(signedEnvelope(t, originKey, origin, ttl, Proposal{}))
	}
	drain(node.router)
	for _, p := range peers {
		require.Empty(t, transport.sentTo(p.Address()), "exhausted ttl must not be relayed")
	}

	env := signedEnvelope(t, originKey, origin, 5, Proposal{})
	node.router.HandleEnvelope(env)
	drain(node.router)
	for _, p := range peers {
		sent := transport.sentTo(p.Address())
		require.Len(t, sent, 1)
		assert.EqualValues(t, 4, sent[0].TTL)
		assert.Equal(t, CodeProposal, sent[0].Code)
		assert.Equal(t, env.Body, sent[0].Body)
		assert.NoError(t, sent[0].Verify(node.self))
	}

	// the origin itself is skipped
	transport.reset()
	fromPeer := signedEnvelope(t, genTestKey(t), peers[0], 2, Proposal{})
	fromPeer.RemotePeer = peers[0].String()
	node.router.Relay(&Payload{Envelope: fromPeer, Remote: peers[0], Message: Proposal{}})
	drain(node.router)
	require.Empty(t, transport.sentTo(peers[0].Address()))
	require.Len(t, transport.sentTo(peers[1].Address()), 1)
}

// drain waits for in-flight calls.
func drain(r *Router) {
	r.calls.Wait()
}

// discoveryKeys returns keys for a, b and c such that a and b each file
// the other two into different buckets. c then holds a and b in one
// bucket, since the highest differing bit is an ultrametric.
func discoveryKeys(t *testing.T) (a, b, c NodeKey) {
	t.Helper()
	for {
		a, b, c = genTestKey(t), genTestKey(t), genTestKey(t)
		ab, ac := subTree(a.ID(), b.ID()), subTree(a.ID(), c.ID())
		bc := subTree(b.ID(), c.ID())
		if ab != ac && ab != bc {
			return a, b, c
		}
	}
}

func TestRouterDiscovery(t *testing.T) {
	transport := newMemTransport()
	keyA, keyB, keyC := discoveryKeys(t)
	require.Equal(t, subTree(keyC.ID(), keyA.ID()), subTree(keyC.ID(), keyB.ID()))

	b := newTestNode(t, transport, keyB, 9001, RegistryOptions{EnableDiscovery: true})
	options := RegistryOptions{EnableDiscovery: true, Bootstraps: []string{b.self.String()}}
	a := newTestNode(t, transport, keyA, 9000, options)
	c := newTestNode(t, transport, keyC, 9002, options)

	c.router.Tick()
	drain(c.router)
	require.True(t, b.registry.Has(c.self))

	a.router.Tick()
	drain(a.router)
	require.True(t, b.registry.Has(a.self))
	require.True(t, a.registry.Has(b.self))

	// the LOOKUP answer pended c, the next tick dials it
	a.router.Tick()
	drain(a.router)
	require.True(t, a.registry.Has(c.self))

	// b already holds the bucket a falls into on c's side
	require.True(t, c.registry.Has(b.self))
	require.False(t, c.registry.Has(a.self))
}

func TestRouterTickResolvesBootstrapAddress(t *testing.T) {
	transport := newMemTransport()
	b := newTestNode(t, transport, genTestKey(t), 9001, RegistryOptions{})
	a := newTestNode(t, transport, genTestKey(t), 9000, RegistryOptions{
		Bootstraps: []string{"wisdom://" + b.self.Address()},
	})

	a.router.Tick()
	drain(a.router)

	require.Empty(t, a.registry.BootstrapAddresses())
	bootstraps := a.registry.Bootstraps()
	require.Len(t, bootstraps, 1)
	require.True(t, bootstraps[0].Equal(b.self))

	// without discovery nothing else is sent
	sent := transport.sentTo(b.self.Address())
	require.Len(t, sent, 1)
	require.Equal(t, CodePing, sent[0].Code)
}

func TestRouterBroadcast(t *testing.T) {
	transport := newMemTransport()
	b := newTestNode(t, transport, genTestKey(t), 9001, RegistryOptions{})
	a := newTestNode(t, transport, genTestKey(t), 9000, RegistryOptions{Bootstraps: []string{b.self.String()}})

	a.router.Broadcast(GetStatus{})
	drain(a.router)
	sent := transport.sentTo(b.self.Address())
	require.Len(t, sent, 1)
	require.EqualValues(t, MaxTTL, sent[0].TTL)

	a.router.Dial(b.self, Ping{})
	drain(a.router)
	sent = transport.sentTo(b.self.Address())
	require.Len(t, sent, 2)
	require.EqualValues(t, 1, sent[1].TTL)
	require.Greater(t, sent[1].Nonce, sent[0].Nonce)
}

func TestRouterAnswersReply(t *testing.T) {
	transport := newMemTransport()
	serve := HandlerFunc(func(ctx *Context) {
		if _, ok := ctx.Message().(GetStatus); ok {
			ctx.Respond(&Status{BestHeight: 7})
		}
	})
	follow := HandlerFunc(func(ctx *Context) {
		if st, ok := ctx.Message().(*Status); ok {
			ctx.Respond(&GetBlocks{Start: 1, Stop: st.BestHeight})
		}
	})
	b := newTestNode(t, transport, genTestKey(t), 9001, RegistryOptions{}, serve)
	a := newTestNode(t, transport, genTestKey(t), 9000, RegistryOptions{Bootstraps: []string{b.self.String()}}, follow)

	a.router.Broadcast(GetStatus{})
	drain(a.router)

	sent := transport.sentTo(b.self.Address())
	require.Len(t, sent, 2)
	require.Equal(t, CodeGetStatus, sent[0].Code)
	require.Equal(t, CodeGetBlocks, sent[1].Code)
	require.EqualValues(t, 1, sent[1].TTL)

	// NOTHING from b ends the exchange
	require.Empty(t, transport.sentTo(a.self.Address()))
}

func TestRouterLifecycle(t *testing.T) {
	defer leaktest.Check(t)()

	transport := newMemTransport()
	node := newTestNode(t, transport, genTestKey(t), 9000, RegistryOptions{EnableDiscovery: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, node.router.Start(ctx))
	require.True(t, node.router.IsRunning())

	cancel()
	node.router.Wait()
	require.False(t, node.router.IsRunning())

	// calls after stop are dropped
	node.router.DialAddress("127.0.0.9:1", Ping{})
	require.Empty(t, transport.sentTo("127.0.0.9:1"))
}
