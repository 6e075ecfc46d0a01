package p2p

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wisdomchain/wisdom/libs/log"
	"github.com/wisdomchain/wisdom/libs/service"
	"github.com/wisdomchain/wisdom/types"
)

// RouterOptions specifies options for a Router.
type RouterOptions struct {
	// DialTimeout bounds a single outbound call.
	DialTimeout time.Duration

	// EnableDiscovery turns on redial, keep-alive and lookup in Tick.
	EnableDiscovery bool
}

// Router signs and sends envelopes through a Transport, and runs inbound
// envelopes and replies through the handler pipeline. Outbound calls are
// fire and forget: each runs on its own goroutine and feeds its reply back
// into the pipeline.
type Router struct {
	service.BaseService
	logger  log.Logger
	metrics *Metrics

	key       NodeKey
	self      *Peer
	registry  *Registry
	transport Transport
	pipeline  pipeline
	options   RouterOptions

	nonce uint64

	// mtx orders call registration against OnStop
	mtx    sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	calls  sync.WaitGroup

	now func() time.Time
}

var _ EnvelopeHandler = (*Router)(nil)

// NewRouter creates a router. handlers form the pipeline in the given
// order and cannot be changed afterwards.
func NewRouter(
	logger log.Logger,
	metrics *Metrics,
	key NodeKey,
	registry *Registry,
	transport Transport,
	handlers []Handler,
	options RouterOptions,
) *Router {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		logger:    logger,
		metrics:   metrics,
		key:       key,
		self:      registry.Self(),
		registry:  registry,
		transport: transport,
		pipeline:  append(pipeline(nil), handlers...),
		options:   options,
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
	}
	r.BaseService = *service.NewBaseService(logger, "router", r)
	return r
}

// OnStart implements service.Service.
func (r *Router) OnStart(context.Context) error { return nil }

// OnStop implements service.Service. It aborts in-flight calls and waits
// for their goroutines.
func (r *Router) OnStop() {
	r.mtx.Lock()
	r.cancel()
	r.mtx.Unlock()
	r.calls.Wait()
}

// Registry returns the peer table the router sends to.
func (r *Router) Registry() *Registry { return r.registry }

func (r *Router) envelope(ttl int64, code Code, body []byte) (*Envelope, error) {
	env := &Envelope{
		CreatedAt:  r.now().Unix(),
		RemotePeer: r.self.String(),
		TTL:        ttl,
		Nonce:      atomic.AddUint64(&r.nonce, 1),
		Code:       code,
		Body:       body,
	}
	if err := env.Sign(r.key); err != nil {
		return nil, fmt.Errorf("signing envelope: %w", err)
	}
	return env, nil
}

func (r *Router) buildEnvelope(ttl int64, msg Message) (*Envelope, error) {
	body, err := types.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding %v: %w", msg.Code(), err)
	}
	return r.envelope(ttl, msg.Code(), body)
}

// Dial sends msg to peer with TTL 1.
func (r *Router) Dial(peer *Peer, msg Message) {
	r.send(peer, peer.Address(), 1, msg)
}

// DialAddress sends msg to a bare address with MaxTTL. Failures are not
// charged to any peer.
func (r *Router) DialAddress(address string, msg Message) {
	r.send(nil, address, MaxTTL, msg)
}

// Broadcast sends msg to every peer returned by Registry.Peers.
func (r *Router) Broadcast(msg Message) {
	for _, p := range r.registry.Peers() {
		r.send(p, p.Address(), MaxTTL, msg)
	}
}

// Relay forwards a received payload, with its TTL decremented, to every
// peer but its origin. Payloads whose TTL is exhausted are not relayed.
func (r *Router) Relay(payload *Payload) {
	if payload.Envelope.TTL <= 0 {
		return
	}
	ttl := payload.Envelope.TTL - 1
	for _, p := range r.registry.Peers() {
		if p.Equal(payload.Remote) {
			continue
		}
		env, err := r.envelope(ttl, payload.Envelope.Code, payload.Envelope.Body)
		if err != nil {
			r.logger.Error("failed to build relay envelope", "err", err)
			return
		}
		r.call(p, p.Address(), env)
	}
}

func (r *Router) send(peer *Peer, address string, ttl int64, msg Message) {
	env, err := r.buildEnvelope(ttl, msg)
	if err != nil {
		r.logger.Error("failed to build envelope", "code", msg.Code(), "err", err)
		return
	}
	r.call(peer, address, env)
}

func (r *Router) call(peer *Peer, address string, env *Envelope) {
	r.mtx.RLock()
	if r.ctx.Err() != nil {
		r.mtx.RUnlock()
		return
	}
	r.calls.Add(1)
	r.mtx.RUnlock()

	r.metrics.MessagesSent.With("code", env.Code.String()).Add(1)
	go func() {
		defer r.calls.Done()
		ctx, cancel := context.WithTimeout(r.ctx, r.options.DialTimeout)
		defer cancel()

		reply, err := r.transport.Call(ctx, address, env)
		if err != nil {
			r.metrics.CallFailures.Add(1)
			r.logger.Debug("call failed", "addr", address, "code", env.Code, "err", err)
			if peer != nil {
				r.registry.Penalize(peer)
			}
			return
		}
		r.handleReply(reply)
	}()
}

// handleReply runs a reply through the pipeline. A response produced for
// a reply is dialed back to its sender as a new request.
func (r *Router) handleReply(env *Envelope) {
	defer func() {
		if e := recover(); e != nil {
			r.logger.Error("panic while handling reply", "err", e)
		}
	}()
	payload, response := r.dispatch(env)
	if payload == nil || response == nil {
		return
	}
	r.Dial(payload.Remote, response)
}

// HandleEnvelope runs env through the pipeline, applies the resulting peer
// disposition and returns the signed reply. Malformed envelopes and
// handler panics yield NOTHING.
func (r *Router) HandleEnvelope(env *Envelope) (reply *Envelope) {
	defer func() {
		if e := recover(); e != nil {
			r.logger.Error("panic while handling message", "err", e)
			reply = r.nothing()
		}
	}()

	_, response := r.dispatch(env)
	if response == nil {
		return r.nothing()
	}
	reply, err := r.buildEnvelope(1, response)
	if err != nil {
		r.logger.Error("failed to build reply", "err", err)
		return r.nothing()
	}
	return reply
}

// dispatch parses env, runs the pipeline and applies the recorded peer
// disposition. It returns a nil payload for malformed envelopes.
func (r *Router) dispatch(env *Envelope) (*Payload, Message) {
	payload, err := ParsePayload(env)
	if err != nil {
		r.metrics.MessagesDropped.With("reason", "malformed").Add(1)
		r.logger.Debug("malformed message", "err", err)
		return nil, nil
	}

	ctx := &Context{Payload: payload}
	r.pipeline.run(ctx)

	remote := payload.Remote
	if ctx.remove {
		r.registry.Remove(remote)
	}
	if ctx.pend {
		r.registry.Pend(remote)
	}
	if ctx.keep {
		r.registry.Keep(remote)
	}
	if ctx.block {
		r.registry.Block(remote)
	}
	if ctx.relay {
		r.Relay(payload)
	}
	return payload, ctx.response
}

func (r *Router) nothing() *Envelope {
	env, err := r.buildEnvelope(1, Nothing{})
	if err != nil {
		r.logger.Error("failed to build reply", "err", err)
		return &Envelope{CreatedAt: r.now().Unix(), RemotePeer: r.self.String(), TTL: 1, Code: CodeNothing}
	}
	return env
}

// Tick runs one maintenance round: bootstrap addresses are pinged; with
// discovery enabled, pended peers are dialed, scores decay, known peers
// are pinged and, while the table has room, asked for more peers.
func (r *Router) Tick() {
	for _, addr := range r.registry.BootstrapAddresses() {
		r.DialAddress(addr, Ping{})
	}
	if !r.options.EnableDiscovery {
		return
	}

	full := r.registry.Full()
	for _, p := range r.registry.TakePended() {
		if full || r.registry.Has(p) {
			continue
		}
		r.Dial(p, Ping{})
	}

	r.registry.Decay()

	for _, p := range r.registry.Peers() {
		r.Dial(p, Ping{})
	}

	if full {
		return
	}
	for _, p := range r.registry.lookupTargets() {
		r.Dial(p, Lookup{})
	}
}
