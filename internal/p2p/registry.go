package p2p

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/wisdomchain/wisdom/libs/log"
)

const (
	// PeerScore is the score a peer is admitted with.
	PeerScore = 4
	// EvilScore is the score a blocked peer starts from.
	EvilScore = -(1 << 10)
	// MaxPeers bounds the number of discovered plus trusted peers.
	MaxPeers = 32
	// MaxTTL is the hop limit of broadcast envelopes.
	MaxTTL = 8

	bucketCount = 256
)

// RegistryOptions sets up a Registry.
type RegistryOptions struct {
	// Bootstraps holds peer URIs or bare wisdom://host:port addresses.
	Bootstraps []string
	// Trusted holds peer URIs that are never scored or evicted.
	Trusted []string

	EnableDiscovery bool

	// OnEvict is called, outside any lock, with every peer dropped from
	// the table so that its channel can be closed.
	OnEvict func(p *Peer)
}

// Registry is the peer table. Discovered peers live in a fixed array of
// buckets addressed by XOR distance to self, at most one per bucket. Each
// bucket has its own lock; the other sets are sharded maps, and trusted
// peers are fixed at construction.
type Registry struct {
	logger  log.Logger
	metrics *Metrics

	self            *Peer
	enableDiscovery bool
	onEvict         func(p *Peer)

	trusted        map[string]*Peer
	bootstrapAddrs *peerSet // host:port -> nil, identity not known yet
	bootstrapPeers *peerSet
	blocked        *peerSet
	pended         *peerSet

	buckets [bucketCount]bucket
	// number of occupied buckets
	discovered int32
}

type bucket struct {
	mtx  sync.Mutex
	peer *Peer
}

// NewRegistry builds a registry for self. Unparsable entries and self
// listed as trusted are errors.
func NewRegistry(self *Peer, options RegistryOptions, logger log.Logger, metrics *Metrics) (*Registry, error) {
	if self == nil {
		return nil, errors.New("nil self peer")
	}
	r := &Registry{
		logger:          logger,
		metrics:         metrics,
		self:            self.Copy(),
		enableDiscovery: options.EnableDiscovery,
		onEvict:         options.OnEvict,
		trusted:         make(map[string]*Peer),
		bootstrapAddrs:  newPeerSet(),
		bootstrapPeers:  newPeerSet(),
		blocked:         newPeerSet(),
		pended:          newPeerSet(),
	}

	for _, uri := range options.Trusted {
		p, err := ParsePeer(uri)
		if err != nil {
			return nil, fmt.Errorf("trusted peer: %w", err)
		}
		if p.Equal(self) {
			return nil, errors.New("cannot treat yourself as a trusted peer")
		}
		r.trusted[p.Key()] = p.withScore(PeerScore)
	}

	for _, entry := range options.Bootstraps {
		if p, err := ParsePeer(entry); err == nil {
			if p.Equal(self) {
				continue
			}
			r.bootstrapPeers.Put(p.Key(), p.withScore(PeerScore))
			continue
		}
		addr, err := ParseAddress(entry)
		if err != nil {
			return nil, fmt.Errorf("bootstrap peer: %w", err)
		}
		r.bootstrapAddrs.Put(addr, nil)
	}
	return r, nil
}

// Self returns the local peer.
func (r *Registry) Self() *Peer {
	return r.self.Copy()
}

func (r *Registry) bucketOf(p *Peer) *bucket {
	idx := subTree(r.self.ID, p.ID)
	if idx < 0 {
		return nil
	}
	return &r.buckets[idx]
}

func (r *Registry) isTrusted(key string) bool {
	_, ok := r.trusted[key]
	return ok
}

// reserve claims room for one more discovered peer.
func (r *Registry) reserve() bool {
	for {
		n := atomic.LoadInt32(&r.discovered)
		if int(n)+len(r.trusted) >= MaxPeers {
			return false
		}
		if atomic.CompareAndSwapInt32(&r.discovered, n, n+1) {
			r.metrics.Peers.Set(float64(n + 1))
			return true
		}
	}
}

func (r *Registry) release() {
	n := atomic.AddInt32(&r.discovered, -1)
	r.metrics.Peers.Set(float64(n))
}

// Full reports whether discovered plus trusted peers reached MaxPeers.
func (r *Registry) Full() bool {
	return int(atomic.LoadInt32(&r.discovered))+len(r.trusted) >= MaxPeers
}

// Has reports whether p is trusted or occupies its bucket.
func (r *Registry) Has(p *Peer) bool {
	if r.isTrusted(p.Key()) {
		return true
	}
	b := r.bucketOf(p)
	if b == nil {
		return false
	}
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.peer.Equal(p)
}

// IsBlocked reports whether p is quarantined.
func (r *Registry) IsBlocked(p *Peer) bool {
	return r.blocked.Has(p.Key())
}

// Score returns the score of p in whichever set holds it.
func (r *Registry) Score(p *Peer) (int64, bool) {
	key := p.Key()
	if t, ok := r.trusted[key]; ok {
		return t.Score, true
	}
	if b := r.blocked.Get(key); b != nil {
		return b.Score, true
	}
	if b := r.bucketOf(p); b != nil {
		b.mtx.Lock()
		defer b.mtx.Unlock()
		if b.peer.Equal(p) {
			return b.peer.Score, true
		}
	}
	return 0, false
}

// Pend queues p to be dialed on the next tick. Known, blocked and
// bootstrap peers are not queued, nor is anything while the table is full.
func (r *Registry) Pend(p *Peer) {
	if r.Full() || p.Equal(r.self) {
		return
	}
	key := p.Key()
	if r.Has(p) || r.blocked.Has(key) || r.bootstrapPeers.Has(key) {
		return
	}
	r.pended.Put(key, p.Copy())
}

// Keep rewards p for a well formed exchange. An empty bucket takes p at
// PeerScore if there is room; an occupant that is p gains 2*PeerScore; a
// different occupant is replaced only while its score is below PeerScore.
func (r *Registry) Keep(p *Peer) {
	key := p.Key()
	if p.Equal(r.self) || r.isTrusted(key) || r.blocked.Has(key) {
		return
	}
	if r.bootstrapAddrs.Delete(p.Address()) {
		r.bootstrapPeers.Put(key, p.withScore(PeerScore))
	}

	b := r.bucketOf(p)
	var evicted *Peer
	b.mtx.Lock()
	switch {
	case b.peer == nil:
		if r.reserve() {
			b.peer = p.withScore(PeerScore)
		}
	case b.peer.Equal(p):
		b.peer.Score += 2 * PeerScore
		b.peer.Host, b.peer.Port = p.Host, p.Port
	case b.peer.Score < PeerScore:
		evicted = b.peer
		b.peer = p.withScore(PeerScore)
	}
	b.mtx.Unlock()

	if evicted != nil {
		r.metrics.PeerEvictions.With("reason", "replaced").Add(1)
		r.evicted(evicted)
	}
}

// Block quarantines p at EvilScore and drops it from the table. Trusted
// peers cannot be blocked.
func (r *Registry) Block(p *Peer) {
	key := p.Key()
	if p.Equal(r.self) || r.isTrusted(key) {
		return
	}
	r.Remove(p)
	r.pended.Delete(key)
	r.blocked.Put(key, p.withScore(EvilScore))
	r.metrics.BlockedPeers.Set(float64(r.blocked.Len()))
	r.logger.Info("blocked peer", "peer", p)
}

// Remove drops p from its bucket and closes its channel.
func (r *Registry) Remove(p *Peer) {
	if b := r.bucketOf(p); b != nil {
		b.mtx.Lock()
		if b.peer.Equal(p) {
			b.peer = nil
			r.release()
		}
		b.mtx.Unlock()
	}
	r.evicted(p)
}

// Penalize halves the score of p after a failed call, provided p is the
// occupant of its bucket, and evicts it at zero. It reports whether p was
// evicted.
func (r *Registry) Penalize(p *Peer) bool {
	b := r.bucketOf(p)
	if b == nil {
		return false
	}
	var evicted *Peer
	b.mtx.Lock()
	if b.peer.Equal(p) {
		b.peer.Score /= 2
		if b.peer.Score == 0 {
			evicted = b.peer
			b.peer = nil
			r.release()
		}
	}
	b.mtx.Unlock()

	if evicted == nil {
		return false
	}
	r.metrics.PeerEvictions.With("reason", "unreachable").Add(1)
	r.evicted(evicted)
	return true
}

// Decay halves every blocked and discovered score. Blocked peers reaching
// zero become admissible again; discovered peers reaching zero are
// evicted.
func (r *Registry) Decay() {
	unblocked := r.blocked.Update(func(p *Peer) bool {
		p.Score /= 2
		return p.Score != 0
	})
	if len(unblocked) > 0 {
		r.metrics.BlockedPeers.Set(float64(r.blocked.Len()))
	}

	var evicted []*Peer
	for i := range r.buckets {
		b := &r.buckets[i]
		b.mtx.Lock()
		if b.peer != nil {
			b.peer.Score /= 2
			if b.peer.Score == 0 {
				evicted = append(evicted, b.peer)
				b.peer = nil
				r.release()
			}
		}
		b.mtx.Unlock()
	}
	for _, p := range evicted {
		r.metrics.PeerEvictions.With("reason", "decay").Add(1)
		r.evicted(p)
	}
}

func (r *Registry) evicted(p *Peer) {
	r.logger.Debug("peer dropped", "peer", p)
	if r.onEvict != nil {
		r.onEvict(p)
	}
}

// TakePended removes and returns the peers waiting to be dialed.
func (r *Registry) TakePended() []*Peer {
	return r.pended.Drain()
}

// Discovered returns copies of the peers in the table.
func (r *Registry) Discovered() []*Peer {
	var res []*Peer
	for i := range r.buckets {
		b := &r.buckets[i]
		b.mtx.Lock()
		if b.peer != nil {
			res = append(res, b.peer.Copy())
		}
		b.mtx.Unlock()
	}
	return res
}

// Trusted returns copies of the trusted peers.
func (r *Registry) Trusted() []*Peer {
	res := make([]*Peer, 0, len(r.trusted))
	for _, p := range r.trusted {
		res = append(res, p.Copy())
	}
	return res
}

// Bootstraps returns the bootstrap peers whose identity is known.
func (r *Registry) Bootstraps() []*Peer {
	return r.bootstrapPeers.Values()
}

// BootstrapAddresses returns the bootstrap addresses not yet resolved to a
// peer.
func (r *Registry) BootstrapAddresses() []string {
	return r.bootstrapAddrs.Keys()
}

// Blocked returns copies of the quarantined peers.
func (r *Registry) Blocked() []*Peer {
	return r.blocked.Values()
}

// Peers returns the peers messages are sent to. With discovery enabled
// this is discovered plus trusted peers, or the bootstrap peers while
// that is empty; otherwise bootstrap plus trusted peers.
func (r *Registry) Peers() []*Peer {
	if !r.enableDiscovery {
		return union(r.Bootstraps(), r.Trusted())
	}
	res := union(r.Discovered(), r.Trusted())
	if len(res) == 0 {
		return r.Bootstraps()
	}
	return res
}

// lookupTargets returns the peers asked for more peers.
func (r *Registry) lookupTargets() []*Peer {
	return union(r.Discovered(), r.Bootstraps())
}

func union(sets ...[]*Peer) []*Peer {
	seen := make(map[string]struct{})
	var res []*Peer
	for _, set := range sets {
		for _, p := range set {
			if _, ok := seen[p.Key()]; ok {
				continue
			}
			seen[p.Key()] = struct{}{}
			res = append(res, p)
		}
	}
	return res
}
