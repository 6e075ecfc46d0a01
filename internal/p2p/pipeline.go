package p2p

// Handler inspects an inbound payload and records its disposition on the
// Context. Handlers run in registration order until one calls Stop.
type Handler interface {
	Handle(ctx *Context)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx *Context)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx *Context) { f(ctx) }

// Context carries one inbound payload through the handler chain. The
// router applies the recorded flags once the chain completes.
type Context struct {
	Payload *Payload

	stopped  bool
	keep     bool
	pend     bool
	block    bool
	remove   bool
	relay    bool
	response Message
}

// Remote is the sender of the payload.
func (c *Context) Remote() *Peer { return c.Payload.Remote }

// Message is the decoded payload body.
func (c *Context) Message() Message { return c.Payload.Message }

// Stop short-circuits the remaining handlers.
func (c *Context) Stop() { c.stopped = true }

// Keep rewards the sender.
func (c *Context) Keep() { c.keep = true }

// Pend queues the sender to be dialed.
func (c *Context) Pend() { c.pend = true }

// Block quarantines the sender. Blocking implies removal.
func (c *Context) Block() { c.block = true }

// Remove drops the sender from the table.
func (c *Context) Remove() { c.remove = true }

// Relay forwards the payload to the other peers.
func (c *Context) Relay() { c.relay = true }

// Respond sets the reply. The last call wins.
func (c *Context) Respond(msg Message) { c.response = msg }

// Stopped reports whether a handler stopped the chain.
func (c *Context) Stopped() bool { return c.stopped }

// Relayed reports whether a handler asked for the payload to be relayed.
func (c *Context) Relayed() bool { return c.relay }

// Response returns the reply recorded so far, or nil.
func (c *Context) Response() Message { return c.response }

// pipeline runs handlers in a fixed order.
type pipeline []Handler

func (p pipeline) run(ctx *Context) {
	for _, h := range p {
		h.Handle(ctx)
		if ctx.stopped {
			return
		}
	}
}
