package p2p

import (
	"context"
)

// Transport delivers envelopes to remote addresses and returns their
// replies. Implementations must be safe for concurrent use.
type Transport interface {
	// Call sends env to address and waits for the reply envelope.
	Call(ctx context.Context, address string, env *Envelope) (*Envelope, error)

	// Disconnect tears down any channel held open to address.
	Disconnect(address string)

	Close() error
}

// EnvelopeHandler processes an inbound envelope and returns the reply. It
// never fails; protocol errors are answered with a NOTHING envelope.
type EnvelopeHandler interface {
	HandleEnvelope(env *Envelope) *Envelope
}
