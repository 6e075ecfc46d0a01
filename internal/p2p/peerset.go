package p2p

import (
	"hash/fnv"
	"sync"
)

const shardCount = 16

// peerSet is a concurrent map of peers keyed by string, split into
// independently locked shards.
type peerSet struct {
	shards [shardCount]peerShard
}

type peerShard struct {
	mtx   sync.Mutex
	peers map[string]*Peer
}

func newPeerSet() *peerSet {
	s := &peerSet{}
	for i := range s.shards {
		s.shards[i].peers = make(map[string]*Peer)
	}
	return s
}

func (s *peerSet) shard(key string) *peerShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%shardCount]
}

func (s *peerSet) Has(key string) bool {
	sh := s.shard(key)
	sh.mtx.Lock()
	defer sh.mtx.Unlock()
	_, ok := sh.peers[key]
	return ok
}

// Put stores p under key, replacing any previous entry.
func (s *peerSet) Put(key string, p *Peer) {
	sh := s.shard(key)
	sh.mtx.Lock()
	sh.peers[key] = p
	sh.mtx.Unlock()
}

// Delete removes key and reports whether it was present.
func (s *peerSet) Delete(key string) bool {
	sh := s.shard(key)
	sh.mtx.Lock()
	defer sh.mtx.Unlock()
	_, ok := sh.peers[key]
	delete(sh.peers, key)
	return ok
}

func (s *peerSet) Get(key string) *Peer {
	sh := s.shard(key)
	sh.mtx.Lock()
	defer sh.mtx.Unlock()
	if p := sh.peers[key]; p != nil {
		return p.Copy()
	}
	return nil
}

func (s *peerSet) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mtx.Lock()
		n += len(sh.peers)
		sh.mtx.Unlock()
	}
	return n
}

// Keys returns a snapshot of the keys.
func (s *peerSet) Keys() []string {
	var keys []string
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mtx.Lock()
		for k := range sh.peers {
			keys = append(keys, k)
		}
		sh.mtx.Unlock()
	}
	return keys
}

// Values returns copies of the non-nil entries.
func (s *peerSet) Values() []*Peer {
	var res []*Peer
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mtx.Lock()
		for _, p := range sh.peers {
			if p != nil {
				res = append(res, p.Copy())
			}
		}
		sh.mtx.Unlock()
	}
	return res
}

// Drain removes and returns every non-nil entry.
func (s *peerSet) Drain() []*Peer {
	var res []*Peer
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mtx.Lock()
		for k, p := range sh.peers {
			if p != nil {
				res = append(res, p)
			}
			delete(sh.peers, k)
		}
		sh.mtx.Unlock()
	}
	return res
}

// Update applies fn to every entry under its shard lock and deletes the
// entries for which fn returns false. It returns the deleted peers.
func (s *peerSet) Update(fn func(p *Peer) bool) []*Peer {
	var removed []*Peer
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mtx.Lock()
		for k, p := range sh.peers {
			if p != nil && !fn(p) {
				delete(sh.peers, k)
				removed = append(removed, p)
			}
		}
		sh.mtx.Unlock()
	}
	return removed
}
