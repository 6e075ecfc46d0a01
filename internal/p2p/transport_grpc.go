package p2p

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/wisdomchain/wisdom/libs/log"
)

const (
	defaultMaxMessageSize = 16 << 20

	serviceName = "wisdom.Wisdom"
	entryMethod = "/" + serviceName + "/Entry"
)

// entryServer is the server side of the Entry method.
type entryServer interface {
	Entry(ctx context.Context, env *Envelope) (*Envelope, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*entryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Entry", Handler: entryHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "wisdom.proto",
}

func entryHandler(
	srv interface{},
	ctx context.Context,
	dec func(interface{}) error,
	interceptor grpc.UnaryServerInterceptor,
) (interface{}, error) {
	in := new(Envelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(entryServer).Entry(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: entryMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(entryServer).Entry(ctx, req.(*Envelope))
	}
	return interceptor(ctx, in, info, handler)
}

type entryAdapter struct {
	h EnvelopeHandler
}

func (a entryAdapter) Entry(_ context.Context, env *Envelope) (*Envelope, error) {
	return a.h.HandleEnvelope(env), nil
}

// GRPCTransportOptions sets up GRPCTransport.
type GRPCTransportOptions struct {
	// MaxMessageSize bounds encoded envelopes in both directions.
	MaxMessageSize int

	// Instrumented installs the go-grpc-prometheus server interceptor.
	Instrumented bool

	// Dialer overrides the network dialer, e.g. with an in-memory one.
	Dialer func(ctx context.Context, address string) (net.Conn, error)
}

// GRPCTransport is a Transport over a single unary gRPC method. Client
// connections are cached per address until Disconnect.
type GRPCTransport struct {
	logger  log.Logger
	options GRPCTransportOptions

	mtx    sync.Mutex
	conns  map[string]*grpc.ClientConn
	server *grpc.Server
	closed bool
}

var _ Transport = (*GRPCTransport)(nil)

// NewGRPCTransport creates a new GRPCTransport.
func NewGRPCTransport(logger log.Logger, options GRPCTransportOptions) *GRPCTransport {
	if options.MaxMessageSize <= 0 {
		options.MaxMessageSize = defaultMaxMessageSize
	}
	return &GRPCTransport{
		logger:  logger,
		options: options,
		conns:   make(map[string]*grpc.ClientConn),
	}
}

// Listen serves inbound envelopes from listener to h. It returns once the
// server is running; serving stops on Close.
func (t *GRPCTransport) Listen(listener net.Listener, h EnvelopeHandler) error {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if t.closed {
		return fmt.Errorf("transport closed")
	}
	if t.server != nil {
		return fmt.Errorf("transport already listening")
	}

	interceptors := []grpc.UnaryServerInterceptor{
		grpc_recovery.UnaryServerInterceptor(grpc_recovery.WithRecoveryHandler(func(p interface{}) error {
			t.logger.Error("panic in envelope handler", "err", p)
			return fmt.Errorf("internal error")
		})),
	}
	if t.options.Instrumented {
		interceptors = append([]grpc.UnaryServerInterceptor{grpc_prometheus.UnaryServerInterceptor}, interceptors...)
	}

	server := grpc.NewServer(
		grpc.MaxRecvMsgSize(t.options.MaxMessageSize),
		grpc.MaxSendMsgSize(t.options.MaxMessageSize),
		grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(interceptors...)),
	)
	server.RegisterService(&serviceDesc, entryAdapter{h: h})
	if t.options.Instrumented {
		grpc_prometheus.Register(server)
	}
	t.server = server

	go func() {
		if err := server.Serve(listener); err != nil {
			t.logger.Error("gRPC server stopped", "err", err)
		}
	}()
	t.logger.Info("listening for peers", "addr", listener.Addr().String())
	return nil
}

// dialOptions adapts the client options used for long lived peer
// connections. Failed calls are not retried; the next maintenance tick
// dials again.
func (t *GRPCTransport) dialOptions() []grpc.DialOption {
	var kacp = keepalive.ClientParameters{
		Time:    10 * time.Second, // send pings every 10 seconds if there is no activity
		Timeout: 2 * time.Second,  // wait 2 seconds for ping ack before considering the connection dead
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(codecName),
			grpc.MaxCallRecvMsgSize(t.options.MaxMessageSize),
			grpc.MaxCallSendMsgSize(t.options.MaxMessageSize),
		),
	}
	if t.options.Dialer != nil {
		opts = append(opts, grpc.WithContextDialer(t.options.Dialer))
	}
	return opts
}

func (t *GRPCTransport) conn(address string) (*grpc.ClientConn, error) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if t.closed {
		return nil, fmt.Errorf("transport closed")
	}
	if cc, ok := t.conns[address]; ok {
		return cc, nil
	}
	cc, err := grpc.Dial(address, t.dialOptions()...)
	if err != nil {
		return nil, err
	}
	t.conns[address] = cc
	return cc, nil
}

// Call implements Transport.
func (t *GRPCTransport) Call(ctx context.Context, address string, env *Envelope) (*Envelope, error) {
	cc, err := t.conn(address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	out := new(Envelope)
	if err := cc.Invoke(ctx, entryMethod, env, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Disconnect implements Transport.
func (t *GRPCTransport) Disconnect(address string) {
	t.mtx.Lock()
	cc, ok := t.conns[address]
	delete(t.conns, address)
	t.mtx.Unlock()

	if ok {
		if err := cc.Close(); err != nil {
			t.logger.Debug("error closing connection", "addr", address, "err", err)
		}
	}
}

// Close stops the server and closes every client connection.
func (t *GRPCTransport) Close() error {
	t.mtx.Lock()
	conns := t.conns
	server := t.server
	t.conns = make(map[string]*grpc.ClientConn)
	t.closed = true
	t.mtx.Unlock()

	for _, cc := range conns {
		_ = cc.Close()
	}
	if server != nil {
		server.Stop()
	}
	return nil
}
