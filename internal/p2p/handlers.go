package p2p

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/crypto/sha3"

	"github.com/wisdomchain/wisdom/libs/log"
)

// MessageLogger debug-logs every inbound envelope.
type MessageLogger struct {
	logger  log.Logger
	metrics *Metrics
}

// NewMessageLogger returns a handler that logs and counts envelopes.
func NewMessageLogger(logger log.Logger, metrics *Metrics) *MessageLogger {
	return &MessageLogger{logger: logger, metrics: metrics}
}

// Handle implements Handler.
func (l *MessageLogger) Handle(ctx *Context) {
	env := ctx.Payload.Envelope
	l.metrics.MessagesReceived.With("code", env.Code.String()).Add(1)
	l.logger.Debug("received message",
		"code", env.Code,
		"remote", env.RemotePeer,
		"nonce", env.Nonce,
		"ttl", env.TTL)
}

// MessageFilter stops envelopes that are sent by self, badly signed,
// expired, or already seen.
type MessageFilter struct {
	logger  log.Logger
	metrics *Metrics

	self   *Peer
	maxAge time.Duration
	seen   *lru.Cache

	now func() time.Time
}

// NewMessageFilter returns a filter remembering the last cacheSize
// envelope signatures. A zero maxAge disables the age check.
func NewMessageFilter(
	self *Peer,
	maxAge time.Duration,
	cacheSize int,
	logger log.Logger,
	metrics *Metrics,
) (*MessageFilter, error) {
	seen, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("dedup cache: %w", err)
	}
	return &MessageFilter{
		logger:  logger,
		metrics: metrics,
		self:    self,
		maxAge:  maxAge,
		seen:    seen,
		now:     time.Now,
	}, nil
}

func (f *MessageFilter) drop(ctx *Context, reason string) {
	f.metrics.MessagesDropped.With("reason", reason).Add(1)
	f.logger.Debug("dropped message", "reason", reason, "remote", ctx.Payload.Envelope.RemotePeer)
	ctx.Stop()
}

// Handle implements Handler. Every drop stops the pipeline.
func (f *MessageFilter) Handle(ctx *Context) {
	env := ctx.Payload.Envelope
	if ctx.Remote().Equal(f.self) {
		f.drop(ctx, "self")
		return
	}
	if err := env.Verify(ctx.Remote()); err != nil {
		f.drop(ctx, "signature")
		return
	}
	if f.maxAge > 0 && f.now().Sub(time.Unix(env.CreatedAt, 0)) > f.maxAge {
		f.drop(ctx, "expired")
		return
	}
	digest := sha3.Sum256(env.Signature)
	if seen, _ := f.seen.ContainsOrAdd(string(digest[:]), struct{}{}); seen {
		f.drop(ctx, "duplicate")
	}
}

// PeersManager answers the membership protocol: PING, PONG, LOOKUP, PEERS
// and NOTHING.
type PeersManager struct {
	registry *Registry
}

// NewPeersManager returns a membership handler backed by registry.
func NewPeersManager(registry *Registry) *PeersManager {
	return &PeersManager{registry: registry}
}

// Handle implements Handler. Every well formed membership message keeps
// its sender.
func (m *PeersManager) Handle(ctx *Context) {
	switch msg := ctx.Message().(type) {
	case Ping:
		ctx.Keep()
		ctx.Respond(Pong{})
	case Pong, Nothing:
		ctx.Keep()
	case Lookup:
		ctx.Keep()
		var uris []string
		for _, p := range m.registry.Peers() {
			if p.Equal(ctx.Remote()) {
				continue
			}
			uris = append(uris, p.String())
		}
		ctx.Respond(&Peers{Peers: uris})
	case *Peers:
		ctx.Keep()
		self := m.registry.Self()
		for _, uri := range msg.Peers {
			p, err := ParsePeer(uri)
			if err != nil || p.Equal(self) {
				continue
			}
			m.registry.Pend(p)
		}
	}
}
