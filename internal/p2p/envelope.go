package p2p

import (
	"errors"
	"fmt"

	"github.com/oasisprotocol/curve25519-voi/primitives/ed25519"

	"github.com/wisdomchain/wisdom/types"
)

// Envelope is the signed unit exchanged between peers.
type Envelope struct {
	// unix seconds
	CreatedAt  int64  `codec:"created_at"`
	RemotePeer string `codec:"remote_peer"`
	TTL        int64  `codec:"ttl"`
	Nonce      uint64 `codec:"nonce"`
	Code       Code   `codec:"code"`
	Body       []byte `codec:"body"`
	Signature  []byte `codec:"signature"`
}

// SignBytes returns the bytes the signature covers: the encoding of the
// envelope with an empty signature.
func (e *Envelope) SignBytes() ([]byte, error) {
	cp := *e
	cp.Signature = nil
	return types.Marshal(&cp)
}

// Sign sets the envelope signature.
func (e *Envelope) Sign(key NodeKey) error {
	bz, err := e.SignBytes()
	if err != nil {
		return err
	}
	e.Signature = key.Sign(bz)
	return nil
}

// Verify checks the signature against the sender's ID.
func (e *Envelope) Verify(sender *Peer) error {
	if len(e.Signature) != ed25519.SignatureSize {
		return errors.New("missing signature")
	}
	bz, err := e.SignBytes()
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(sender.ID), bz, e.Signature) {
		return errors.New("invalid signature")
	}
	return nil
}

// Payload is an inbound envelope together with its parsed sender and
// decoded body.
type Payload struct {
	Envelope *Envelope
	Remote   *Peer
	Message  Message
}

// ParsePayload parses the sender and decodes the body of env. The
// signature is not checked.
func ParsePayload(env *Envelope) (*Payload, error) {
	if env == nil {
		return nil, errors.New("nil envelope")
	}
	remote, err := ParsePeer(env.RemotePeer)
	if err != nil {
		return nil, fmt.Errorf("invalid remote peer: %w", err)
	}
	msg, err := decodeMessage(env.Code, env.Body)
	if err != nil {
		return nil, err
	}
	return &Payload{Envelope: env, Remote: remote, Message: msg}, nil
}
