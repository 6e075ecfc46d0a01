package p2p

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/oasisprotocol/curve25519-voi/primitives/ed25519"
)

// Scheme is the URI scheme of peer addresses.
const Scheme = "wisdom"

// Peer is a node of the overlay. Equality is by ID, the node's ed25519
// public key; Host and Port say where it can be reached. Score is only
// meaningful inside the Registry.
type Peer struct {
	ID    []byte
	Host  string
	Port  uint16
	Score int64
}

// NewPeer returns a peer with the given identity and address.
func NewPeer(id []byte, host string, port uint16) (*Peer, error) {
	if len(id) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid peer id length %d", len(id))
	}
	if host == "" {
		return nil, errors.New("missing host")
	}
	if port == 0 {
		return nil, errors.New("missing port")
	}
	return &Peer{ID: id, Host: host, Port: port}, nil
}

// ParsePeer parses a wisdom://<hex id>@host:port URI.
func ParsePeer(uri string) (*Peer, error) {
	u, host, port, err := parseURI(uri)
	if err != nil {
		return nil, err
	}
	if u.User == nil {
		return nil, fmt.Errorf("peer %q has no id", uri)
	}
	id, err := hex.DecodeString(u.User.Username())
	if err != nil {
		return nil, fmt.Errorf("peer %q: invalid id: %w", uri, err)
	}
	p, err := NewPeer(id, host, port)
	if err != nil {
		return nil, fmt.Errorf("peer %q: %w", uri, err)
	}
	return p, nil
}

// ParseAddress parses a bare wisdom://host:port URI, or host:port, into a
// dialable address.
func ParseAddress(s string) (string, error) {
	if !strings.Contains(s, "://") {
		s = Scheme + "://" + s
	}
	u, host, port, err := parseURI(s)
	if err != nil {
		return "", err
	}
	if u.User != nil {
		return "", fmt.Errorf("address %q carries a peer id", s)
	}
	return net.JoinHostPort(host, strconv.Itoa(int(port))), nil
}

func parseURI(s string) (*url.URL, string, uint16, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, "", 0, fmt.Errorf("invalid peer address %q: %w", s, err)
	}
	if u.Scheme != Scheme {
		return nil, "", 0, fmt.Errorf("invalid scheme %q in %q", u.Scheme, s)
	}
	host := u.Hostname()
	if host == "" {
		return nil, "", 0, fmt.Errorf("missing host in %q", s)
	}
	port, err := strconv.ParseUint(u.Port(), 10, 16)
	if err != nil || port == 0 {
		return nil, "", 0, fmt.Errorf("invalid port in %q", s)
	}
	return u, host, uint16(port), nil
}

// Key is the hex encoded ID, used to index peers in maps.
func (p *Peer) Key() string {
	return hex.EncodeToString(p.ID)
}

// Address is the host:port the peer is dialed at.
func (p *Peer) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(int(p.Port)))
}

// Equal reports whether p and o have the same identity.
func (p *Peer) Equal(o *Peer) bool {
	if p == nil || o == nil {
		return p == o
	}
	return bytes.Equal(p.ID, o.ID)
}

// Copy returns a copy of p that shares no mutable state with it.
func (p *Peer) Copy() *Peer {
	cp := *p
	return &cp
}

func (p *Peer) withScore(score int64) *Peer {
	cp := p.Copy()
	cp.Score = score
	return cp
}

func (p *Peer) String() string {
	return fmt.Sprintf("%s://%s@%s", Scheme, p.Key(), p.Address())
}

// subTree returns the bucket of other in self's table: the index of the
// highest bit in which the two identities differ. Identical IDs return -1.
func subTree(self, other []byte) int {
	for i := 0; i < len(self) && i < len(other); i++ {
		if x := self[i] ^ other[i]; x != 0 {
			return (len(self)-i)*8 - 1 - bits.LeadingZeros8(x)
		}
	}
	return -1
}
